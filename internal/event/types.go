package event

import "github.com/DmytroChyzh/ciedenmanager/pkg/types"

// EventType represents the type of event.
type EventType string

const (
	ChatCreated   EventType = "chat.created"
	ChatSelected  EventType = "chat.selected"
	ChatDeleted   EventType = "chat.deleted"
	ChatsCleared  EventType = "chat.cleared"
	ChatStatus    EventType = "chat.status"
	ChatError     EventType = "chat.error"
	ChatPersisted EventType = "chat.persisted"

	MessageAppended EventType = "message.appended"
	MessageEdited   EventType = "message.edited"
	MessageRemoved  EventType = "message.removed"
)

// SessionData carries a session snapshot.
type SessionData struct {
	Info *types.Session `json:"info"`
}

// SessionRefData identifies a session that no longer has a snapshot.
type SessionRefData struct {
	SessionID string `json:"sessionID"`
}

// StatusData reports a pipeline state transition ("idle", "pending", "settling").
type StatusData struct {
	SessionID string `json:"sessionID"`
	Status    string `json:"status"`
}

// ErrorData reports a change of the controller's last error. Empty means cleared.
type ErrorData struct {
	SessionID string `json:"sessionID,omitempty"`
	Error     string `json:"error"`
}

// PersistedData reports a failed write-through save.
type PersistedData struct {
	Error string `json:"error"`
}

// MessageData carries a message snapshot.
type MessageData struct {
	SessionID string         `json:"sessionID"`
	Info      *types.Message `json:"info"`
}

// MessageRemovedData is the data for message.removed events.
type MessageRemovedData struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}
