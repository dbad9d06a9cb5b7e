package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
	"github.com/gmarchetti/balcao/agent/ledger"
)

// Fixed reply when a turn burns through the iteration ceiling without
// the model settling on an answer. Sent to the customer but never
// written to the ledger, so the next turn replays a clean history.
const apologyTooManySteps = "Desculpe, tive um problema ao processar. Pode tentar novamente?"

const defaultSystemPrompt = `Voce e um atendente de uma loja de queijos e produtos artesanais no WhatsApp. Responda em portugues, de forma curta e direta, sem emojis. Use as ferramentas para consultar produtos, carrinho, frete e pedidos; nunca invente precos nem disponibilidade. Nunca mostre identificadores internos ao cliente. Confirme com o cliente antes de adicionar ao carrinho ou fechar o pedido.`

// Config tunes the dialogue loop.
type Config struct {
	MaxIterations int `envconfig:"MAX_ITERATIONS" split_words:"true" default:"10"`
	// Temperature is a pointer so an explicit 0 (deterministic
	// sampling) is distinguishable from unset.
	Temperature  *float64 `envconfig:"TEMPERATURE" split_words:"true"`
	MaxTokens    int64    `envconfig:"MAX_TOKENS" split_words:"true" default:"1500"`
	ReplayLimit  int      `envconfig:"REPLAY_LIMIT" split_words:"true" default:"30"`
	SystemPrompt string   `envconfig:"SYSTEM_PROMPT" split_words:"true"`
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.Temperature == nil {
		t := 0.7
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1500
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 30
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	return c
}

// Engine drives one customer turn through the model and the tool
// registry, persisting every protocol message to the ledger as it goes.
type Engine struct {
	chat     contract.ChatClient
	registry *Registry
	store    ledger.Store
	cfg      Config
}

func New(chat contract.ChatClient, registry *Registry, store ledger.Store, cfg Config) *Engine {
	return &Engine{
		chat:     chat,
		registry: registry,
		store:    store,
		cfg:      cfg.withDefaults(),
	}
}

// Turn runs one full dialogue turn and returns the text to deliver.
// Ledger append failures are logged and swallowed: a lost history row
// must never kill a live conversation. A model failure returns an
// error; the caller owns the customer-facing fallback.
func (e *Engine) Turn(ctx context.Context, customerID, userMessage, mediaType, mediaURL string) (string, error) {
	history, err := e.store.LoadRecent(ctx, customerID, e.cfg.ReplayLimit)
	if err != nil {
		log.Error().Str("customer", customerID).Err(err).Msg("history load failed, replaying empty")
		history = nil
	}

	e.append(ctx, &ledger.Entry{
		CustomerID: customerID,
		Role:       contract.RoleUser,
		Content:    userMessage,
		MediaType:  mediaType,
		MediaURL:   mediaURL,
	})

	messages := append(history, contract.Message{Role: contract.RoleUser, Content: userMessage})

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		resp, err := e.chat.Complete(ctx, contract.CompletionRequest{
			System:      e.cfg.SystemPrompt,
			Messages:    messages,
			Tools:       e.registry.Defs(),
			Temperature: *e.cfg.Temperature,
			MaxTokens:   e.cfg.MaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", contract.ErrModelInvoke, err)
		}

		e.append(ctx, &ledger.Entry{
			CustomerID: customerID,
			Role:       contract.RoleAssistant,
			Content:    resp.Content,
			ToolCalls:  resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, contract.Message{
			Role:      contract.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			log.Info().
				Str("customer", customerID).
				Str("tool", call.Name).
				Int("iteration", iteration).
				Msg("executing tool call")

			payload := e.registry.Dispatch(ctx, customerID, call.Name, call.Arguments)

			e.append(ctx, &ledger.Entry{
				CustomerID: customerID,
				Role:       contract.RoleTool,
				Content:    payload,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
			messages = append(messages, contract.Message{
				Role:       contract.RoleTool,
				Content:    payload,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	log.Error().
		Str("customer", customerID).
		Int("iterations", e.cfg.MaxIterations).
		Msg("turn hit the iteration ceiling")
	return apologyTooManySteps, nil
}

func (e *Engine) append(ctx context.Context, entry *ledger.Entry) {
	if err := e.store.Append(ctx, entry); err != nil {
		log.Error().
			Str("customer", entry.CustomerID).
			Str("role", string(entry.Role)).
			Err(err).
			Msg("ledger append failed")
	}
}
