// Package orchestrator ties the conversation pipeline together: it
// takes raw inbound channel traffic and runs it through arbitration,
// debouncing, intent classification, the dialogue engine, and response
// evaluation before anything reaches the customer.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
	"github.com/gmarchetti/balcao/agent/engine"
	"github.com/gmarchetti/balcao/agent/intent"
	"github.com/gmarchetti/balcao/agent/ledger"
	"github.com/gmarchetti/balcao/agent/session"
	"github.com/gmarchetti/balcao/agent/stage"
)

// Config tunes the orchestrator.
type Config struct {
	// NewConversationWindow is the customer silence after which the
	// next message starts a fresh conversation (stage reset, greeting
	// allowed again).
	NewConversationWindow time.Duration `envconfig:"NEW_CONVERSATION_WINDOW" split_words:"true" default:"30m"`
	ReplayLimit           int           `envconfig:"REPLAY_LIMIT" split_words:"true" default:"30"`
}

func (c Config) withDefaults() Config {
	if c.NewConversationWindow <= 0 {
		c.NewConversationWindow = 30 * time.Minute
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 30
	}
	return c
}

// Service is the inbound message pipeline.
type Service struct {
	arbiter   *session.Arbiter
	engine    *engine.Engine
	resolver  *intent.Resolver
	tracker   *stage.Tracker
	evaluator *stage.Evaluator
	store     ledger.Store
	notifier  contract.Notifier
	cfg       Config
}

func New(
	arbiter *session.Arbiter,
	eng *engine.Engine,
	resolver *intent.Resolver,
	tracker *stage.Tracker,
	evaluator *stage.Evaluator,
	store ledger.Store,
	notifier contract.Notifier,
	cfg Config,
) *Service {
	return &Service{
		arbiter:   arbiter,
		engine:    eng,
		resolver:  resolver,
		tracker:   tracker,
		evaluator: evaluator,
		store:     store,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
	}
}

// HandleInbound processes one webhook delivery end to end. Group
// messages and empty text are dropped. Operator traffic only moves
// session state; it never reaches the engine. Customer traffic is
// debounced, gated by session mode, answered by the engine, evaluated,
// and delivered. Every turn that reaches the engine sends something.
func (s *Service) HandleInbound(ctx context.Context, msg contract.InboundMessage) error {
	logger := log.With().
		Str("trace", uuid.NewString()).
		Str("customer", msg.CustomerID).
		Logger()

	if msg.GroupMessage {
		logger.Debug().Msg("dropping group message")
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		logger.Debug().Msg("dropping empty message")
		return nil
	}

	if msg.FromOperator {
		s.handleOperator(ctx, logger, msg, text)
		return nil
	}

	return s.handleCustomer(ctx, logger, msg, text)
}

func (s *Service) handleOperator(ctx context.Context, logger zerolog.Logger, msg contract.InboundMessage, text string) {
	switch {
	case session.IsCommand(text):
		res := s.arbiter.RouteCommand(msg.CustomerID, text, msg.OperatorID)
		logger.Info().
			Bool("ok", res.OK).
			Str("mode", string(res.CurrentMode)).
			Msg("operator command routed")
		if err := s.notifier.SendText(ctx, msg.CustomerID, res.Reply); err != nil {
			logger.Error().Err(err).Msg("command reply delivery failed")
		}
	case s.arbiter.DetectHumanOverride(text):
		s.arbiter.ForceHuman(msg.CustomerID, msg.OperatorID)
		s.arbiter.NoteOperatorMessage(msg.CustomerID, msg.OperatorID)
		logger.Info().Msg("human override marker detected")
	default:
		// Plain fromMe text includes the bot's own sends echoed back by
		// the channel; note the activity, never change the mode.
		s.arbiter.NoteOperatorMessage(msg.CustomerID, msg.OperatorID)
	}
}

func (s *Service) handleCustomer(ctx context.Context, logger zerolog.Logger, msg contract.InboundMessage, text string) error {
	s.arbiter.NoteCustomerMessage(msg.CustomerID)

	combined := text
	adm := s.arbiter.AdmitMessage(msg.CustomerID, text)
	if adm.ShouldWait {
		if err := s.arbiter.Wait(ctx); err != nil {
			return err
		}
		claimed, ok := s.arbiter.ClaimFlush(msg.CustomerID, adm)
		if !ok {
			logger.Debug().Msg("debounce window claimed by a later message")
			return nil
		}
		combined = claimed
	} else {
		combined = adm.CombinedText
	}

	if gate := s.arbiter.TurnGate(msg.CustomerID); gate != nil {
		// A human owns the conversation. Keep the ledger complete so
		// the model sees these messages once it resumes.
		if err := s.store.Append(ctx, &ledger.Entry{
			CustomerID: msg.CustomerID,
			Role:       contract.RoleUser,
			Content:    combined,
			MediaType:  msg.MediaType,
			MediaURL:   msg.MediaURL,
		}); err != nil {
			logger.Error().Err(err).Msg("ledger append failed for gated message")
		}
		logger.Info().Str("reason", gate.Error()).Msg("automated turn blocked")
		return nil
	}

	isNew := ledger.IsNewConversation(ctx, s.store, msg.CustomerID, s.cfg.NewConversationWindow)
	if isNew {
		s.tracker.Reset(msg.CustomerID)
	}

	history, err := s.store.LoadRecent(ctx, msg.CustomerID, s.cfg.ReplayLimit)
	if err != nil {
		logger.Error().Err(err).Msg("history load failed, continuing without context")
		history = nil
	}

	label := s.resolver.Classify(ctx, combined, intent.Options{
		Stage:   s.tracker.Current(msg.CustomerID),
		History: history,
	})
	logger.Info().Str("intent", label).Bool("new_conversation", isNew).Msg("inbound turn")

	reply, err := s.engine.Turn(ctx, msg.CustomerID, combined, msg.MediaType, msg.MediaURL)
	final := reply
	if err != nil {
		logger.Error().Err(err).Msg("engine turn failed, sending fallback")
		s.tracker.Update(msg.CustomerID, label)
		final = stage.SafeTextBrokenResponse
	} else {
		result := s.evaluator.Evaluate(msg.CustomerID, combined, label, reply, history, isNew, nil)
		switch {
		case result.AdjustedResponse != "":
			final = result.AdjustedResponse
		case !result.Passed:
			final = stage.SafeTextBrokenResponse
		}
	}

	if err := s.notifier.SendText(ctx, msg.CustomerID, final); err != nil {
		logger.Error().Err(err).Msg("response delivery failed")
		return err
	}
	s.arbiter.NoteAutomatedMessage(msg.CustomerID)
	return nil
}

// RouteCommand exposes operator commands to the management endpoint.
func (s *Service) RouteCommand(customerID, command, operatorID string) session.CommandResult {
	return s.arbiter.RouteCommand(customerID, command, operatorID)
}

// SessionSnapshot exposes session state to the management endpoint.
func (s *Service) SessionSnapshot(customerID string) session.Session {
	return s.arbiter.Snapshot(customerID)
}
