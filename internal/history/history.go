// Package history persists the chat session collection in a single storage slot.
//
// Loading never fails: a missing, empty or unreadable slot yields an empty
// collection. Saving is best-effort: errors are logged and swallowed so the
// in-memory conversation flow is never interrupted.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/DmytroChyzh/ciedenmanager/internal/logging"
	"github.com/DmytroChyzh/ciedenmanager/internal/storage"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// DefaultKey is the slot holding the serialized session collection.
const DefaultKey = "chatSessions"

// Store is the durable store adapter for chat sessions.
type Store struct {
	backend storage.Backend
	key     string
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage slot name.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger overrides the logger used for swallowed failures.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store over the given backend.
func New(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     DefaultKey,
		log:     logging.Component("history"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted sessions, or an empty slice when there is no
// usable history.
func (s *Store) Load(ctx context.Context) []*types.Session {
	data, err := s.backend.Read(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", s.key).Msg("failed to read chat history")
		}
		return []*types.Session{}
	}

	sessions, err := Decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("key", s.key).Msg("discarding unreadable chat history")
		return []*types.Session{}
	}

	s.log.Debug().Int("sessions", len(sessions)).Msg("loaded chat history")
	return sessions
}

// Save writes the full collection. Failures are logged and returned as a
// persistence ChatError for callers that want to report them; the Store
// itself never panics or retries.
func (s *Store) Save(ctx context.Context, sessions []*types.Session) error {
	data, err := Encode(sessions)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode chat history")
		return types.NewError(types.KindPersistence, "history.save", err)
	}

	if err := s.backend.Write(ctx, s.key, data); err != nil {
		s.log.Error().Err(err).Str("key", s.key).Int("bytes", len(data)).Msg("failed to write chat history")
		return types.NewError(types.KindPersistence, "history.save", err)
	}
	return nil
}

// Clear removes the slot.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key); err != nil {
		s.log.Error().Err(err).Str("key", s.key).Msg("failed to clear chat history")
		return types.NewError(types.KindPersistence, "history.clear", err)
	}
	return nil
}

// Encode serializes sessions as a JSON array.
func Encode(sessions []*types.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []*types.Session{}
	}
	return json.Marshal(sessions)
}

// Decode parses a JSON array of sessions. Blank input decodes to an empty
// collection. Records without an id are dropped, as are messages with an
// unknown role or a duplicate id.
func Decode(data []byte) ([]*types.Session, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []*types.Session{}, nil
	}

	var raw []*types.Session
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, sess := range raw {
		if sess == nil || sess.ID == "" || seen[sess.ID] {
			continue
		}
		seen[sess.ID] = true
		sess.Messages = sanitizeMessages(sess.Messages)
		if sess.Title == "" {
			sess.Title = types.UntitledTitle
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func sanitizeMessages(in []*types.Message) []*types.Message {
	out := make([]*types.Message, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, m := range in {
		if m == nil || m.ID == "" || !m.Role.Valid() || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
