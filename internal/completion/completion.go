// Package completion talks to the remote completion service.
//
// The service contract is a single JSON round trip:
//
//	POST {"messages":[{"role":"system"|"user"|"assistant","content":"..."}]}
//	2xx  {"text":"..."}
//	!2xx {"error":"..."}
//
// Every failure is returned as a transport-kind types.ChatError whose reason
// is suitable for showing inside the conversation.
package completion

import (
	"context"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// Turn is one entry of a completion request.
type Turn struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

// Completer produces the next assistant reply for an ordered list of turns.
type Completer interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, turns []Turn) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}

// BuildTurns maps a conversation history to request turns, prefixed by the
// system directive when one is configured.
func BuildTurns(systemPrompt string, messages []*types.Message) []Turn {
	turns := make([]Turn, 0, len(messages)+1)
	if systemPrompt != "" {
		turns = append(turns, Turn{Role: types.RoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := types.RoleUser
		if m.Role == types.RoleAssistant {
			role = types.RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Text})
	}
	return turns
}

func transportError(err error) error {
	return types.NewError(types.KindTransport, "complete", err)
}
