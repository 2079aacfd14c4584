package types

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem only appears in completion requests, never in stored history.
	RoleSystem Role = "system"
)

// Valid reports whether r may appear in a stored conversation.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents either a user or an assistant turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`

	// Error holds the failure reason when the message is a synthetic
	// assistant reply recording a failed exchange.
	Error string `json:"error,omitempty"`
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Failed reports whether the message records a failed exchange.
func (m *Message) Failed() bool {
	return m.Role == RoleAssistant && m.Error != ""
}
