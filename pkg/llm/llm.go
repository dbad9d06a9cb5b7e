// Package llm adapts the chat-completions SDK to the engine's
// ChatClient contract. All SDK types stay inside this package.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gmarchetti/balcao/agent/contract"
)

type Config struct {
	BaseURL string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model   string        `envconfig:"MODEL" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

// Client implements contract.ChatClient over the OpenAI-compatible
// completions API.
type Client struct {
	api     openaisdk.Client
	model   string
	timeout time.Duration
}

var _ contract.ChatClient = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: llm api key is required", contract.ErrValidation)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: llm model is required", contract.ErrValidation)
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	return &Client{
		api:     openaisdk.NewClient(opts...),
		model:   strings.TrimSpace(cfg.Model),
		timeout: cfg.Timeout,
	}, nil
}

func (c *Client) Complete(ctx context.Context, req contract.CompletionRequest) (contract.Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    c.model,
		Messages: toSDKMessages(req),
	}
	params.Temperature = openaisdk.Float(req.Temperature)
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = toSDKTools(req.Tools)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return contract.Completion{}, fmt.Errorf("%w: %v", contract.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return contract.Completion{}, fmt.Errorf("%w: completion had no choices", contract.ErrModelInvoke)
	}

	choice := resp.Choices[0].Message
	out := contract.Completion{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, contract.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toSDKMessages(req contract.CompletionRequest) []openaisdk.ChatCompletionMessageParamUnion {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleUser:
			messages = append(messages, openaisdk.UserMessage(m.Content))
		case contract.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openaisdk.AssistantMessage(m.Content))
				continue
			}
			assistant := openaisdk.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content = openaisdk.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openaisdk.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			messages = append(messages, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case contract.RoleTool:
			messages = append(messages, openaisdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return messages
}

func toSDKTools(defs []contract.ToolDef) []openaisdk.ChatCompletionToolParam {
	tools := make([]openaisdk.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openaisdk.String(d.Description),
				Parameters:  openaisdk.FunctionParameters(d.Parameters),
			},
		})
	}
	return tools
}
