// Package chat is the lifecycle controller: the single entry point a UI uses
// to manage conversations and exchange messages.
//
// A Controller owns the session repository and the message pipeline, writes
// the whole collection through to the history store after every mutation and
// publishes a bus event for every observable change.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/DmytroChyzh/ciedenmanager/internal/completion"
	"github.com/DmytroChyzh/ciedenmanager/internal/event"
	"github.com/DmytroChyzh/ciedenmanager/internal/history"
	"github.com/DmytroChyzh/ciedenmanager/internal/logging"
	"github.com/DmytroChyzh/ciedenmanager/internal/pipeline"
	"github.com/DmytroChyzh/ciedenmanager/internal/session"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// Options configures a Controller.
type Options struct {
	// SystemPrompt is sent ahead of every conversation history.
	SystemPrompt string
	// Bus receives change events. A private bus is created when nil.
	Bus *event.Bus
	// Repository overrides the session repository, mainly for tests.
	Repository *session.Repository
	Logger     *zerolog.Logger
}

// Controller composes the repository, pipeline and history store.
type Controller struct {
	repo     *session.Repository
	store    *history.Store
	pipeline *pipeline.Pipeline
	bus      *event.Bus
	ownsBus  bool
	log      zerolog.Logger

	saveMu sync.Mutex

	errMu     sync.RWMutex
	lastError string
}

// Open loads the stored history and returns a ready Controller. When nothing
// was stored an empty session is created so there is always an active one.
func Open(ctx context.Context, store *history.Store, completer completion.Completer, opts Options) *Controller {
	log := logging.Component("chat")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	c := &Controller{
		repo:  opts.Repository,
		store: store,
		bus:   opts.Bus,
		log:   log,
	}
	if c.repo == nil {
		c.repo = session.NewRepository()
	}
	if c.bus == nil {
		c.bus = event.NewBus()
		c.ownsBus = true
	}
	c.pipeline = pipeline.New(c.repo, completer, pipeline.Config{
		SystemPrompt: opts.SystemPrompt,
		Observer:     pipelineObserver{c},
		Logger:       &log,
	})

	c.repo.Replace(store.Load(ctx))
	if c.repo.Len() == 0 {
		c.repo.Create()
	}
	c.persist(ctx)

	log.Info().Int("sessions", c.repo.Len()).Str("active", c.repo.ActiveID()).Msg("chat history loaded")
	return c
}

// Bus returns the event bus the controller publishes to.
func (c *Controller) Bus() *event.Bus {
	return c.bus
}

// Close releases the bus when the controller created it.
func (c *Controller) Close() error {
	if c.ownsBus {
		return c.bus.Close()
	}
	return nil
}

// NewChat creates an empty session and makes it active.
func (c *Controller) NewChat(ctx context.Context) *types.Session {
	s := c.repo.Create()
	c.persist(ctx)

	c.publish(event.ChatCreated, event.SessionData{Info: s})
	c.publish(event.ChatSelected, event.SessionRefData{SessionID: s.ID})
	return s
}

// SelectChat makes the session active. Unknown ids are ignored and report false.
func (c *Controller) SelectChat(ctx context.Context, id string) bool {
	if !c.repo.Select(id) {
		return false
	}
	c.persist(ctx)

	c.publish(event.ChatSelected, event.SessionRefData{SessionID: id})
	return true
}

// DeleteChat removes a session. A pending exchange for it is left to settle
// and its result is discarded.
func (c *Controller) DeleteChat(ctx context.Context, id string) bool {
	wasActive := c.repo.ActiveID() == id
	if !c.repo.Delete(id) {
		return false
	}
	c.persist(ctx)

	c.publish(event.ChatDeleted, event.SessionRefData{SessionID: id})
	if wasActive {
		c.publish(event.ChatSelected, event.SessionRefData{SessionID: c.repo.ActiveID()})
	}
	return true
}

// ClearAll removes every session.
func (c *Controller) ClearAll(ctx context.Context) {
	c.repo.ClearAll()
	c.persist(ctx)

	c.publish(event.ChatsCleared, nil)
}

// SendMessage sends text as a user message in the active session and waits
// for the reply. Transport failures are not returned: they land in the
// conversation as an error marker and set LastError.
func (c *Controller) SendMessage(ctx context.Context, text string) (*pipeline.Outcome, error) {
	id := c.repo.ActiveID()
	if id == "" {
		return nil, types.NewError(types.KindValidation, "send", types.ErrNoActiveSession)
	}

	out, err := c.pipeline.Send(ctx, id, text)
	if err != nil {
		c.log.Debug().Err(err).Str("sessionID", id).Msg("send rejected")
		return nil, err
	}
	c.settle(out)
	return out, nil
}

// EditMessage replaces the text of a message in the active session. It does
// not request a new completion.
func (c *Controller) EditMessage(ctx context.Context, messageID, text string) error {
	id := c.repo.ActiveID()
	if id == "" {
		return types.NewError(types.KindValidation, "edit", types.ErrNoActiveSession)
	}
	if strings.TrimSpace(text) == "" {
		return types.NewError(types.KindValidation, "edit", types.ErrEmptyText)
	}

	if err := c.repo.EditMessageText(id, messageID, text); err != nil {
		return err
	}
	c.persist(ctx)

	if s, ok := c.repo.Get(id); ok {
		if idx := s.MessageIndex(messageID); idx >= 0 {
			c.publish(event.MessageEdited, event.MessageData{SessionID: id, Info: s.Messages[idx]})
		}
	}
	return nil
}

// RegenerateMessage replaces an assistant reply in the active session.
// Targets that are not an assistant reply to a user message are rejected
// without a network call.
func (c *Controller) RegenerateMessage(ctx context.Context, messageID string) (*pipeline.Outcome, error) {
	id := c.repo.ActiveID()
	if id == "" {
		return nil, types.NewError(types.KindValidation, "regenerate", types.ErrNoActiveSession)
	}

	out, err := c.pipeline.Regenerate(ctx, id, messageID)
	if err != nil {
		c.log.Debug().Err(err).Str("sessionID", id).Str("messageID", messageID).Msg("regenerate rejected")
		return nil, err
	}
	c.settle(out)
	return out, nil
}

// RetryLast regenerates the active session's last reply when it records a
// failed exchange.
func (c *Controller) RetryLast(ctx context.Context) (*pipeline.Outcome, error) {
	s := c.repo.Active()
	if s == nil {
		return nil, types.NewError(types.KindValidation, "retry", types.ErrNoActiveSession)
	}
	last := s.LastMessage()
	if last == nil || last.Role != types.RoleAssistant || !last.Failed() {
		return nil, types.NewError(types.KindValidation, "retry", types.ErrNothingToRetry)
	}
	return c.RegenerateMessage(ctx, last.ID)
}

// DismissError clears LastError.
func (c *Controller) DismissError() {
	c.setLastError("", "")
}

// LastError is the reason of the most recent failed exchange, or empty.
func (c *Controller) LastError() string {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.lastError
}

// IsBusy reports whether the active session has an exchange in flight.
func (c *Controller) IsBusy() bool {
	id := c.repo.ActiveID()
	return id != "" && c.pipeline.Busy(id)
}

// IsSessionBusy reports whether the given session has an exchange in flight.
func (c *Controller) IsSessionBusy(id string) bool {
	return c.pipeline.Busy(id)
}

// PendingSessions lists the sessions with an exchange in flight.
func (c *Controller) PendingSessions() []string {
	return c.pipeline.PendingSessions()
}

// ActiveSession returns a snapshot of the active session, or nil.
func (c *Controller) ActiveSession() *types.Session {
	return c.repo.Active()
}

// ActiveID returns the active session id, or empty.
func (c *Controller) ActiveID() string {
	return c.repo.ActiveID()
}

// Session returns a snapshot of one session.
func (c *Controller) Session(id string) (*types.Session, bool) {
	return c.repo.Get(id)
}

// Sessions returns snapshots of all sessions, most recently created first.
func (c *Controller) Sessions() []*types.Session {
	return c.repo.List()
}

func (c *Controller) settle(out *pipeline.Outcome) {
	if out == nil || out.Discarded {
		return
	}
	if out.Err != nil {
		c.setLastError(out.SessionID, types.Reason(out.Err))
		return
	}
	c.setLastError(out.SessionID, "")
}

func (c *Controller) setLastError(sessionID, reason string) {
	c.errMu.Lock()
	changed := c.lastError != reason
	c.lastError = reason
	c.errMu.Unlock()

	if changed {
		c.publish(event.ChatError, event.ErrorData{SessionID: sessionID, Error: reason})
	}
}

// persist writes the full collection. Failures are logged by the store and
// reported on the bus; they never interrupt the caller.
func (c *Controller) persist(ctx context.Context) {
	c.saveMu.Lock()
	err := c.store.Save(context.WithoutCancel(ctx), c.repo.List())
	c.saveMu.Unlock()

	if err != nil {
		c.publish(event.ChatPersisted, event.PersistedData{Error: err.Error()})
	}
}

func (c *Controller) publish(t event.EventType, data any) {
	c.bus.PublishSync(event.Event{Type: t, Data: data})
}

// pipelineObserver persists and publishes the pipeline's mutations.
type pipelineObserver struct {
	c *Controller
}

func (o pipelineObserver) MessageAppended(sessionID string, msg *types.Message) {
	o.c.persist(context.Background())
	o.c.publish(event.MessageAppended, event.MessageData{SessionID: sessionID, Info: msg})
}

func (o pipelineObserver) MessageRemoved(sessionID, messageID string) {
	o.c.persist(context.Background())
	o.c.publish(event.MessageRemoved, event.MessageRemovedData{SessionID: sessionID, MessageID: messageID})
}

func (o pipelineObserver) StateChanged(sessionID string, state pipeline.State) {
	o.c.publish(event.ChatStatus, event.StatusData{SessionID: sessionID, Status: state.String()})
}
