// Package pipeline drives request/response exchanges with the completion
// service, one session at a time.
//
// Each session has its own state machine:
//
//	Idle --Send/Regenerate--> Pending --response--> Settling --append--> Idle
//
// A Send or Regenerate for a session that is not Idle is rejected with a
// validation error and makes no network call. Sessions never block each other.
// Results are applied by re-resolving the session id, so a reply for a session
// deleted while Pending is dropped.
package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DmytroChyzh/ciedenmanager/internal/completion"
	"github.com/DmytroChyzh/ciedenmanager/internal/logging"
	"github.com/DmytroChyzh/ciedenmanager/internal/session"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// ErrorMarker prefixes the text of assistant messages recording a failed exchange.
const ErrorMarker = "Request failed: "

// State is the per-session pipeline state.
type State int

const (
	Idle State = iota
	Pending
	Settling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Settling:
		return "settling"
	default:
		return "unknown"
	}
}

// Observer is notified after every repository mutation the pipeline makes
// and on every state transition. Calls happen outside pipeline locks and
// receive copies.
type Observer interface {
	MessageAppended(sessionID string, msg *types.Message)
	MessageRemoved(sessionID, messageID string)
	StateChanged(sessionID string, state State)
}

// Outcome describes a settled exchange.
type Outcome struct {
	SessionID string
	// Reply is the appended assistant message; nil when Discarded.
	Reply *types.Message
	// Err is the transport failure, if the exchange failed.
	Err error
	// Discarded is true when the session vanished while the request was in flight.
	Discarded bool
}

// Config configures a Pipeline.
type Config struct {
	SystemPrompt string
	Observer     Observer
	Logger       *zerolog.Logger
}

// Pipeline orchestrates exchanges against a session repository.
type Pipeline struct {
	repo         *session.Repository
	completer    completion.Completer
	systemPrompt string
	observer     Observer
	log          zerolog.Logger

	mu     sync.Mutex
	states map[string]State
}

// New creates a Pipeline.
func New(repo *session.Repository, completer completion.Completer, cfg Config) *Pipeline {
	log := logging.Component("pipeline")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Pipeline{
		repo:         repo,
		completer:    completer,
		systemPrompt: cfg.SystemPrompt,
		observer:     cfg.Observer,
		log:          log,
		states:       make(map[string]State),
	}
}

// State returns the state of the session's pipeline.
func (p *Pipeline) State(sessionID string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[sessionID]
}

// Busy reports whether the session has an exchange outstanding.
func (p *Pipeline) Busy(sessionID string) bool {
	return p.State(sessionID) != Idle
}

// PendingSessions returns the ids of sessions that are not Idle, sorted.
func (p *Pipeline) PendingSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send appends a user message and requests the assistant's reply.
// Validation and not-found failures are returned as errors and leave the
// session untouched; transport failures are reported in the Outcome.
func (p *Pipeline) Send(ctx context.Context, sessionID, text string) (*Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.KindValidation, "send", types.ErrEmptyText)
	}
	if !p.repo.Has(sessionID) {
		return nil, types.NewError(types.KindNotFound, "send", types.ErrSessionNotFound)
	}

	if err := p.acquire(sessionID, "send"); err != nil {
		return nil, err
	}
	defer p.release(sessionID)

	userMsg := p.repo.NewMessage(types.RoleUser, text)
	if err := p.repo.AppendMessage(sessionID, userMsg); err != nil {
		return nil, err
	}
	p.messageAppended(sessionID, userMsg)

	return p.exchange(ctx, sessionID), nil
}

// Regenerate replaces an assistant reply with a fresh one computed from the
// existing history. The target must directly follow a user message.
func (p *Pipeline) Regenerate(ctx context.Context, sessionID, messageID string) (*Outcome, error) {
	if err := p.checkRegenerable(sessionID, messageID); err != nil {
		return nil, err
	}

	if err := p.acquire(sessionID, "regenerate"); err != nil {
		return nil, err
	}
	defer p.release(sessionID)

	if err := p.checkRegenerable(sessionID, messageID); err != nil {
		return nil, err
	}
	if err := p.repo.RemoveMessage(sessionID, messageID); err != nil {
		return nil, err
	}
	if p.observer != nil {
		p.observer.MessageRemoved(sessionID, messageID)
	}

	return p.exchange(ctx, sessionID), nil
}

func (p *Pipeline) checkRegenerable(sessionID, messageID string) error {
	s, ok := p.repo.Get(sessionID)
	if !ok {
		return types.NewError(types.KindNotFound, "regenerate", types.ErrSessionNotFound)
	}
	idx := s.MessageIndex(messageID)
	if idx < 0 {
		return types.NewError(types.KindNotFound, "regenerate", types.ErrMessageNotFound)
	}
	if s.Messages[idx].Role != types.RoleAssistant || idx == 0 || s.Messages[idx-1].Role != types.RoleUser {
		return types.NewError(types.KindValidation, "regenerate", types.ErrNotRegenerable)
	}
	return nil
}

// exchange performs the network call for the session's current history and
// appends the reply or an error marker.
func (p *Pipeline) exchange(ctx context.Context, sessionID string) *Outcome {
	s, ok := p.repo.Get(sessionID)
	if !ok {
		return &Outcome{SessionID: sessionID, Discarded: true}
	}

	log := p.log.With().Str("sessionID", sessionID).Logger()
	turns := completion.BuildTurns(p.systemPrompt, s.Messages)
	log.Debug().Int("turns", len(turns)).Msg("requesting completion")

	// The exchange has no cancel operation: it settles even if the caller
	// goes away. Timeouts come from the transport.
	start := time.Now()
	text, err := p.completer.Complete(context.WithoutCancel(ctx), turns)
	p.setState(sessionID, Settling)

	var reply *types.Message
	if err != nil {
		if !types.IsKind(err, types.KindTransport) {
			err = types.NewError(types.KindTransport, "complete", err)
		}
		reason := types.Reason(err)
		reply = p.repo.NewMessage(types.RoleAssistant, ErrorMarker+reason)
		reply.Error = reason
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("completion failed")
	} else {
		reply = p.repo.NewMessage(types.RoleAssistant, text)
		log.Info().Dur("elapsed", time.Since(start)).Int("chars", len(text)).Msg("completion settled")
	}

	if appendErr := p.repo.AppendMessage(sessionID, reply); appendErr != nil {
		log.Debug().Err(appendErr).Msg("session gone before reply arrived, discarding")
		return &Outcome{SessionID: sessionID, Err: err, Discarded: true}
	}
	p.messageAppended(sessionID, reply)

	return &Outcome{SessionID: sessionID, Reply: reply.Clone(), Err: err}
}

func (p *Pipeline) acquire(sessionID, op string) error {
	p.mu.Lock()
	if p.states[sessionID] != Idle {
		p.mu.Unlock()
		return types.NewError(types.KindValidation, op, types.ErrBusy)
	}
	p.states[sessionID] = Pending
	p.mu.Unlock()

	p.stateChanged(sessionID, Pending)
	return nil
}

func (p *Pipeline) release(sessionID string) {
	p.mu.Lock()
	delete(p.states, sessionID)
	p.mu.Unlock()

	p.stateChanged(sessionID, Idle)
}

func (p *Pipeline) setState(sessionID string, state State) {
	p.mu.Lock()
	if _, ok := p.states[sessionID]; !ok {
		p.mu.Unlock()
		return
	}
	p.states[sessionID] = state
	p.mu.Unlock()

	p.stateChanged(sessionID, state)
}

func (p *Pipeline) messageAppended(sessionID string, msg *types.Message) {
	if p.observer != nil {
		p.observer.MessageAppended(sessionID, msg.Clone())
	}
}

func (p *Pipeline) stateChanged(sessionID string, state State) {
	if p.observer != nil {
		p.observer.StateChanged(sessionID, state)
	}
}
