package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// Repository manages the in-memory session collection.
type Repository struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	order    []string // most recently created first
	activeID string

	now   func() time.Time
	newID func() string
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator replaces the ULID generator.
func WithIDGenerator(newID func() string) Option {
	return func(r *Repository) { r.newID = newID }
}

// NewRepository creates an empty repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		sessions: make(map[string]*types.Session),
		now:      time.Now,
		newID:    generateID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewMessage builds a message with a fresh id and creation time.
func (r *Repository) NewMessage(role types.Role, text string) *types.Message {
	return &types.Message{
		ID:        r.newID(),
		Role:      role,
		Text:      text,
		CreatedAt: r.now(),
	}
}

// Create adds an empty session and makes it active.
func (r *Repository) Create() *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := &types.Session{
		ID:        r.newID(),
		Title:     types.UntitledTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []*types.Message{},
	}

	r.sessions[s.ID] = s
	r.order = append([]string{s.ID}, r.order...)
	r.activeID = s.ID

	return s.Clone()
}

// Select makes id the active session. It returns false, leaving the active
// session unchanged, when id is unknown.
func (r *Repository) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	r.activeID = id
	return true
}

// Delete removes a session. Deleting the active session promotes the most
// recently created remaining one. Returns false when id is unknown.
func (r *Repository) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}

	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if r.activeID == id {
		r.activeID = ""
		if len(r.order) > 0 {
			r.activeID = r.order[0]
		}
	}
	return true
}

// ClearAll empties the collection and clears the active pointer.
func (r *Repository) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*types.Session)
	r.order = nil
	r.activeID = ""
}

// AppendMessage appends msg to the session. The first message of a session
// sets its title. A missing id or creation time is filled in.
func (r *Repository) AppendMessage(sessionID string, msg *types.Message) error {
	if msg == nil || !msg.Role.Valid() {
		return types.NewError(types.KindValidation, "append", fmt.Errorf("invalid message"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return types.NewError(types.KindNotFound, "append", types.ErrSessionNotFound)
	}

	m := msg.Clone()
	if m.ID == "" {
		m.ID = r.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	if s.MessageIndex(m.ID) >= 0 {
		return types.NewError(types.KindValidation, "append", fmt.Errorf("duplicate message id %s", m.ID))
	}

	if len(s.Messages) == 0 && isDefaultTitle(s.Title) {
		s.Title = DeriveTitle(m.Text)
	}
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = r.now()

	// Reflect generated fields back to the caller.
	msg.ID, msg.CreatedAt = m.ID, m.CreatedAt
	return nil
}

// RemoveMessage deletes a message by id without reordering the rest.
func (r *Repository) RemoveMessage(sessionID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return types.NewError(types.KindNotFound, "remove", types.ErrSessionNotFound)
	}
	idx := s.MessageIndex(messageID)
	if idx < 0 {
		return types.NewError(types.KindNotFound, "remove", types.ErrMessageNotFound)
	}

	s.Messages = append(s.Messages[:idx], s.Messages[idx+1:]...)
	s.UpdatedAt = r.now()
	return nil
}

// EditMessageText replaces a message's text in place. Role and creation
// time are untouched.
func (r *Repository) EditMessageText(sessionID, messageID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return types.NewError(types.KindNotFound, "edit", types.ErrSessionNotFound)
	}
	idx := s.MessageIndex(messageID)
	if idx < 0 {
		return types.NewError(types.KindNotFound, "edit", types.ErrMessageNotFound)
	}

	s.Messages[idx].Text = text
	s.UpdatedAt = r.now()
	return nil
}

// Get returns a copy of the session.
func (r *Repository) Get(id string) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Has reports whether id names a session in the collection.
func (r *Repository) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[id]
	return ok
}

// ActiveID returns the active session id, or "" when the collection is empty.
func (r *Repository) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeID
}

// Active returns a copy of the active session, or nil.
func (r *Repository) Active() *types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return nil
	}
	return r.sessions[r.activeID].Clone()
}

// List returns copies of all sessions, most recently created first.
func (r *Repository) List() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].Clone())
	}
	return out
}

// Len returns the number of sessions.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Replace swaps the whole collection, typically with loaded history. The
// most recently created session becomes active.
func (r *Repository) Replace(sessions []*types.Session) {
	sorted := make([]*types.Session, 0, len(sessions))
	seen := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if s == nil || s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		sorted = append(sorted, s.Clone())
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*types.Session, len(sorted))
	r.order = make([]string, 0, len(sorted))
	for _, s := range sorted {
		if s.Messages == nil {
			s.Messages = []*types.Message{}
		}
		r.sessions[s.ID] = s
		r.order = append(r.order, s.ID)
	}

	r.activeID = ""
	if len(r.order) > 0 {
		r.activeID = r.order[0]
	}
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}
