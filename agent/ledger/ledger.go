// Package ledger persists the append-only conversation log and
// reconstructs protocol-valid message windows for model replay.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/gmarchetti/balcao/agent/contract"
)

var ErrNoEntries = errors.New("no ledger entries for customer")

// Entry is one persisted turn unit. Entries are immutable once written;
// the history is append-only and never updated or deleted.
type Entry struct {
	bun.BaseModel `bun:"table:chat_history,alias:ch"`

	ID         int64               `bun:"id,pk,autoincrement"`
	CustomerID string              `bun:"telefone,notnull"`
	Role       contract.Role       `bun:"role,notnull"`
	Content    string              `bun:"content,nullzero"`
	ToolCalls  []contract.ToolCall `bun:"tool_calls,type:jsonb,nullzero"`
	ToolCallID string              `bun:"tool_call_id,nullzero"`
	ToolName   string              `bun:"name,nullzero"`
	MediaType  string              `bun:"media_type,nullzero,default:'text'"`
	MediaURL   string              `bun:"media_url,nullzero"`
	CreatedAt  time.Time           `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Store is the persistence contract used by the dialogue engine.
//
// Append must never fail the caller-visible flow: implementations
// return the storage error for logging, but callers are expected to
// log and continue so a live conversation never dies on a lost
// history row.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// LoadRecent returns the most recent limit entries in
	// chronological order, already mapped to protocol messages and
	// sanitized (see Sanitize).
	LoadRecent(ctx context.Context, customerID string, limit int) ([]contract.Message, error)
	// LastUserMessageAt returns the timestamp of the customer's most
	// recent message, or ErrNoEntries.
	LastUserMessageAt(ctx context.Context, customerID string) (time.Time, error)
}

// IsNewConversation reports whether the customer has been quiet for
// longer than window (or has no history at all). A new conversation
// gets the full greeting treatment downstream.
func IsNewConversation(ctx context.Context, s Store, customerID string, window time.Duration) bool {
	last, err := s.LastUserMessageAt(ctx, customerID)
	if err != nil {
		return true
	}
	return time.Since(last) > window
}

func toMessage(e Entry) contract.Message {
	msg := contract.Message{Role: e.Role}
	switch e.Role {
	case contract.RoleAssistant:
		msg.Content = e.Content
		msg.ToolCalls = e.ToolCalls
	case contract.RoleTool:
		msg.Content = e.Content
		msg.ToolCallID = e.ToolCallID
		msg.ToolName = e.ToolName
	default:
		msg.Content = e.Content
	}
	return msg
}

// Sanitize enforces the tool-call pairing contract on a truncated
// replay window. Truncating history to the last N entries can slice a
// tool-call/tool-response pair in half, and the completion API rejects
// such sequences, so:
//
//  1. any tool message whose tool_call_id was not declared by an
//     assistant message inside the window is dropped;
//  2. any assistant message declaring a tool call with no surviving
//     tool response is downgraded to a plain content message, or
//     dropped entirely when it has no content.
func Sanitize(messages []contract.Message) []contract.Message {
	if len(messages) == 0 {
		return messages
	}

	declared := make(map[string]struct{})
	for _, m := range messages {
		if m.Role != contract.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID != "" {
				declared[tc.ID] = struct{}{}
			}
		}
	}

	cleaned := messages[:0:0]
	for _, m := range messages {
		if m.Role == contract.RoleTool {
			if _, ok := declared[m.ToolCallID]; !ok {
				continue
			}
		}
		cleaned = append(cleaned, m)
	}

	answered := make(map[string]struct{})
	for _, m := range cleaned {
		if m.Role == contract.RoleTool {
			answered[m.ToolCallID] = struct{}{}
		}
	}

	final := cleaned[:0:0]
	for _, m := range cleaned {
		if m.Role == contract.RoleAssistant && len(m.ToolCalls) > 0 {
			complete := true
			for _, tc := range m.ToolCalls {
				if _, ok := answered[tc.ID]; !ok {
					complete = false
					break
				}
			}
			if !complete {
				if m.Content == "" {
					continue
				}
				m = contract.Message{Role: contract.RoleAssistant, Content: m.Content}
			}
		}
		final = append(final, m)
	}

	return final
}
