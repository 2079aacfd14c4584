package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch without string matching.
type ErrorKind int

const (
	// KindValidation covers rejected input: empty text, busy session,
	// a message that cannot be regenerated.
	KindValidation ErrorKind = iota + 1
	// KindNotFound means a referenced session or message no longer exists.
	KindNotFound
	// KindTransport covers network errors, non-2xx responses and malformed
	// bodies from the completion service.
	KindTransport
	// KindPersistence covers durable store read/write errors.
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Sentinel causes wrapped by ChatError.
var (
	ErrEmptyText        = errors.New("message text is empty")
	ErrBusy             = errors.New("an exchange is already in flight for this session")
	ErrNotRegenerable   = errors.New("message cannot be regenerated")
	ErrNoActiveSession  = errors.New("no active session")
	ErrNothingToRetry   = errors.New("last exchange did not fail")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrEmptyCompletion  = errors.New("completion response has no text")
	ErrMalformedPayload = errors.New("malformed completion response")
)

// ChatError is the tagged error returned by the engine.
type ChatError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ChatError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// Reason returns the human-readable cause without the op and kind prefix.
func (e *ChatError) Reason() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

// NewError builds a ChatError.
func NewError(kind ErrorKind, op string, err error) *ChatError {
	return &ChatError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not a ChatError.
func KindOf(err error) ErrorKind {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// IsKind reports whether err is a ChatError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Reason returns the failure reason carried by err.
func Reason(err error) string {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Reason()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
