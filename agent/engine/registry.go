// Package engine runs the tool-calling dialogue loop: it replays the
// conversation ledger to the model, executes the tool calls it asks
// for, and keeps going until the model produces plain text or the
// iteration ceiling hits.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gmarchetti/balcao/agent/contract"
)

// Executor runs one tool call for one customer and returns a payload
// that will be serialized back to the model.
type Executor func(ctx context.Context, customerID string, args map[string]any) (any, error)

// Registry pairs the tool definitions shown to the model with the
// executors that back them. Construction fails on any mismatch so a
// typo between the two surfaces at startup, not mid-conversation.
type Registry struct {
	defs  []contract.ToolDef
	execs map[string]Executor
}

func NewRegistry(defs []contract.ToolDef, execs map[string]Executor) (*Registry, error) {
	byName := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: tool definition with empty name", contract.ErrValidation)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tool definition %q", contract.ErrValidation, d.Name)
		}
		byName[d.Name] = struct{}{}
		if _, ok := execs[d.Name]; !ok {
			return nil, fmt.Errorf("%w: tool %q has no executor", contract.ErrValidation, d.Name)
		}
	}
	for name := range execs {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: executor %q has no tool definition", contract.ErrValidation, name)
		}
	}
	return &Registry{defs: defs, execs: execs}, nil
}

// Defs returns the tool definitions in declaration order.
func (r *Registry) Defs() []contract.ToolDef {
	return r.defs
}

// Dispatch executes one tool call and always returns a JSON payload:
// executor failures and hallucinated tool names become error payloads
// the model can read and recover from, never a dead turn.
func (r *Registry) Dispatch(ctx context.Context, customerID, name, rawArgs string) string {
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			log.Warn().Str("tool", name).Err(err).Msg("malformed tool arguments, using empty args")
			args = map[string]any{}
		}
	}

	exec, ok := r.execs[name]
	if !ok {
		log.Warn().Str("tool", name).Err(fmt.Errorf("%w: %s", contract.ErrUnknownTool, name)).Msg("model requested unknown tool")
		return errorPayload(fmt.Sprintf("Tool desconhecida: %s", name))
	}

	result, err := exec(ctx, customerID, args)
	if err != nil {
		log.Error().Str("tool", name).Str("customer", customerID).Err(err).Msg("tool execution failed")
		return errorPayload(err.Error())
	}

	body, err := json.Marshal(result)
	if err != nil {
		log.Error().Str("tool", name).Err(err).Msg("tool result not serializable")
		return errorPayload("resultado nao serializavel")
	}
	return string(body)
}

func errorPayload(msg string) string {
	body, _ := json.Marshal(map[string]string{"erro": msg})
	return string(body)
}

// Argument accessors tolerant of the model's loose typing: numbers may
// arrive as strings, integers as floats.

func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
