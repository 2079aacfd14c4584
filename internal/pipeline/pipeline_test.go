package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DmytroChyzh/ciedenmanager/internal/completion"
	"github.com/DmytroChyzh/ciedenmanager/internal/session"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// gatedCompleter blocks each call until a reply is pushed on release.
type gatedCompleter struct {
	calls   int32
	started chan []completion.Turn
	release chan result
}

type result struct {
	text string
	err  error
}

func newGatedCompleter() *gatedCompleter {
	return &gatedCompleter{
		started: make(chan []completion.Turn, 8),
		release: make(chan result, 8),
	}
}

func (g *gatedCompleter) Complete(ctx context.Context, turns []completion.Turn) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	g.started <- turns
	r := <-g.release
	return r.text, r.err
}

func (g *gatedCompleter) Calls() int {
	return int(atomic.LoadInt32(&g.calls))
}

func staticCompleter(text string, err error) (completion.Completer, *int32) {
	var calls int32
	return completion.CompleterFunc(func(ctx context.Context, turns []completion.Turn) (string, error) {
		atomic.AddInt32(&calls, 1)
		return text, err
	}), &calls
}

type recordingObserver struct {
	mu       sync.Mutex
	mutated  []string
	states   []State
	sessions []string
}

func (o *recordingObserver) MessageAppended(sessionID string, msg *types.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mutated = append(o.mutated, "+"+msg.Text)
}

func (o *recordingObserver) MessageRemoved(sessionID, messageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mutated = append(o.mutated, "-"+messageID)
}

func (o *recordingObserver) StateChanged(sessionID string, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
	o.sessions = append(o.sessions, sessionID)
}

func (o *recordingObserver) snapshot() ([]string, []State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.mutated...), append([]State(nil), o.states...)
}

func roles(s *types.Session) []types.Role {
	out := make([]types.Role, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.Role)
	}
	return out
}

func waitStarted(t *testing.T, g *gatedCompleter) []completion.Turn {
	t.Helper()
	select {
	case turns := <-g.started:
		return turns
	case <-time.After(2 * time.Second):
		t.Fatal("completion request was not issued")
		return nil
	}
}

func TestSend_AppendsUserAndReply(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	completer, calls := staticCompleter("hello", nil)
	obs := &recordingObserver{}
	p := New(repo, completer, Config{Observer: obs})

	out, err := p.Send(context.Background(), s.ID, "hi")
	require.NoError(t, err)
	require.NoError(t, out.Err)
	require.NotNil(t, out.Reply)
	assert.Equal(t, "hello", out.Reply.Text)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	got, _ := repo.Get(s.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, []types.Role{types.RoleUser, types.RoleAssistant}, roles(got))
	assert.Equal(t, "hi", got.Messages[0].Text)
	assert.Equal(t, "hi", got.Title)

	mutated, states := obs.snapshot()
	assert.Equal(t, []string{"+hi", "+hello"}, mutated)
	assert.Equal(t, []State{Pending, Settling, Idle}, states)
	assert.Equal(t, Idle, p.State(s.ID))
}

func TestSend_SystemPromptPrefixesHistory(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	var seen []completion.Turn
	p := New(repo, completion.CompleterFunc(func(ctx context.Context, turns []completion.Turn) (string, error) {
		seen = turns
		return "ok", nil
	}), Config{SystemPrompt: "be brief"})

	_, err := p.Send(context.Background(), s.ID, "hi")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, types.RoleSystem, seen[0].Role)
	assert.Equal(t, "be brief", seen[0].Content)
	assert.Equal(t, completion.Turn{Role: types.RoleUser, Content: "hi"}, seen[1])
}

func TestSend_RejectsEmptyText(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	completer, calls := staticCompleter("x", nil)
	p := New(repo, completer, Config{})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := p.Send(context.Background(), s.ID, text)
		assert.True(t, types.IsKind(err, types.KindValidation))
		assert.ErrorIs(t, err, types.ErrEmptyText)
	}

	got, _ := repo.Get(s.ID)
	assert.Empty(t, got.Messages)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestSend_UnknownSession(t *testing.T) {
	completer, calls := staticCompleter("x", nil)
	p := New(session.NewRepository(), completer, Config{})

	_, err := p.Send(context.Background(), "missing", "hi")
	assert.True(t, types.IsKind(err, types.KindNotFound))
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestSend_TransportFailureAppendsMarker(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	completer, _ := staticCompleter("", types.NewError(types.KindTransport, "complete", errors.New("completion service returned status 500")))
	p := New(repo, completer, Config{})

	out, err := p.Send(context.Background(), s.ID, "hi")
	require.NoError(t, err)
	require.Error(t, out.Err)
	assert.True(t, types.IsKind(out.Err, types.KindTransport))

	got, _ := repo.Get(s.ID)
	require.Len(t, got.Messages, 2)
	reply := got.Messages[1]
	assert.Equal(t, types.RoleAssistant, reply.Role)
	assert.Equal(t, ErrorMarker+"completion service returned status 500", reply.Text)
	assert.Equal(t, "completion service returned status 500", reply.Error)
	assert.True(t, reply.Failed())
}

func TestSend_UntaggedFailureIsTransport(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	completer, _ := staticCompleter("", errors.New("boom"))
	p := New(repo, completer, Config{})

	out, err := p.Send(context.Background(), s.ID, "hi")
	require.NoError(t, err)
	assert.True(t, types.IsKind(out.Err, types.KindTransport))
	assert.Equal(t, ErrorMarker+"boom", out.Reply.Text)
}

func TestSend_BusySessionRejected(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	g := newGatedCompleter()
	p := New(repo, g, Config{})

	done := make(chan *Outcome, 1)
	go func() {
		out, err := p.Send(context.Background(), s.ID, "first")
		assert.NoError(t, err)
		done <- out
	}()
	waitStarted(t, g)
	assert.Equal(t, Pending, p.State(s.ID))
	assert.Equal(t, []string{s.ID}, p.PendingSessions())

	_, err := p.Send(context.Background(), s.ID, "second")
	assert.True(t, types.IsKind(err, types.KindValidation))
	assert.ErrorIs(t, err, types.ErrBusy)

	g.release <- result{text: "reply"}
	out := <-done
	assert.Equal(t, "reply", out.Reply.Text)
	assert.Equal(t, 1, g.Calls())

	got, _ := repo.Get(s.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "first", got.Messages[0].Text)
	assert.Empty(t, p.PendingSessions())
}

func TestSend_SessionsDoNotBlockEachOther(t *testing.T) {
	repo := session.NewRepository()
	a := repo.Create()
	b := repo.Create()
	g := newGatedCompleter()
	p := New(repo, g, Config{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.Send(context.Background(), a.ID, "to a")
		assert.NoError(t, err)
	}()
	waitStarted(t, g)
	go func() {
		defer wg.Done()
		_, err := p.Send(context.Background(), b.ID, "to b")
		assert.NoError(t, err)
	}()
	waitStarted(t, g)

	assert.True(t, p.Busy(a.ID))
	assert.True(t, p.Busy(b.ID))

	g.release <- result{text: "one"}
	g.release <- result{text: "two"}
	wg.Wait()

	for _, id := range []string{a.ID, b.ID} {
		got, _ := repo.Get(id)
		assert.Len(t, got.Messages, 2)
	}
}

func TestSend_DeletedWhilePendingDiscardsReply(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	g := newGatedCompleter()
	p := New(repo, g, Config{})

	done := make(chan *Outcome, 1)
	go func() {
		out, err := p.Send(context.Background(), s.ID, "hi")
		assert.NoError(t, err)
		done <- out
	}()
	waitStarted(t, g)

	require.True(t, repo.Delete(s.ID))
	other := repo.Active()
	g.release <- result{text: "late"}

	out := <-done
	assert.True(t, out.Discarded)
	assert.Nil(t, out.Reply)
	assert.False(t, repo.Has(s.ID))
	if other != nil {
		got, _ := repo.Get(other.ID)
		assert.Empty(t, got.Messages)
	}
	assert.Equal(t, Idle, p.State(s.ID))
}

func TestSend_ReplyLandsInOriginatingSession(t *testing.T) {
	repo := session.NewRepository()
	a := repo.Create()
	g := newGatedCompleter()
	p := New(repo, g, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Send(context.Background(), a.ID, "hi")
		assert.NoError(t, err)
	}()
	waitStarted(t, g)

	b := repo.Create()
	require.Equal(t, b.ID, repo.ActiveID())
	g.release <- result{text: "for a"}
	<-done

	gotA, _ := repo.Get(a.ID)
	gotB, _ := repo.Get(b.ID)
	require.Len(t, gotA.Messages, 2)
	assert.Equal(t, "for a", gotA.Messages[1].Text)
	assert.Empty(t, gotB.Messages)
}

func TestSend_SettlesWhenCallerContextCanceled(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	var sawCanceled bool
	p := New(repo, completion.CompleterFunc(func(ctx context.Context, turns []completion.Turn) (string, error) {
		sawCanceled = ctx.Err() != nil
		return "done", nil
	}), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := p.Send(ctx, s.ID, "hi")
	require.NoError(t, err)
	assert.False(t, sawCanceled)
	assert.Equal(t, "done", out.Reply.Text)
}

func TestRegenerate_ReplacesLastReply(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	replies := []string{"first answer", "second answer"}
	var n int32
	var lastTurns []completion.Turn
	p := New(repo, completion.CompleterFunc(func(ctx context.Context, turns []completion.Turn) (string, error) {
		lastTurns = turns
		i := atomic.AddInt32(&n, 1) - 1
		return replies[i], nil
	}), Config{})

	first, err := p.Send(context.Background(), s.ID, "question")
	require.NoError(t, err)

	out, err := p.Regenerate(context.Background(), s.ID, first.Reply.ID)
	require.NoError(t, err)
	assert.Equal(t, "second answer", out.Reply.Text)
	assert.NotEqual(t, first.Reply.ID, out.Reply.ID)

	require.Len(t, lastTurns, 1, "regenerate requests from history ending at the user message")
	assert.Equal(t, "question", lastTurns[0].Content)

	got, _ := repo.Get(s.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "question", got.Messages[0].Text)
	assert.Equal(t, "second answer", got.Messages[1].Text)
}

func TestRegenerate_MidConversationAppendsAtEnd(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	var n int32
	p := New(repo, completion.CompleterFunc(func(ctx context.Context, turns []completion.Turn) (string, error) {
		return []string{"a1", "a2", "a1-again"}[atomic.AddInt32(&n, 1)-1], nil
	}), Config{})

	first, err := p.Send(context.Background(), s.ID, "q1")
	require.NoError(t, err)
	_, err = p.Send(context.Background(), s.ID, "q2")
	require.NoError(t, err)

	_, err = p.Regenerate(context.Background(), s.ID, first.Reply.ID)
	require.NoError(t, err)

	got, _ := repo.Get(s.ID)
	texts := make([]string, 0, len(got.Messages))
	for _, m := range got.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"q1", "q2", "a2", "a1-again"}, texts)
}

func TestRegenerate_RejectsInvalidTargets(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	completer, calls := staticCompleter("reply", nil)
	p := New(repo, completer, Config{})

	out, err := p.Send(context.Background(), s.ID, "hi")
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(calls))

	snapshot, _ := repo.Get(s.ID)
	userID := snapshot.Messages[0].ID

	_, err = p.Regenerate(context.Background(), s.ID, userID)
	assert.True(t, types.IsKind(err, types.KindValidation))
	assert.ErrorIs(t, err, types.ErrNotRegenerable)

	_, err = p.Regenerate(context.Background(), s.ID, "nope")
	assert.True(t, types.IsKind(err, types.KindNotFound))

	_, err = p.Regenerate(context.Background(), "nope", out.Reply.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	after, _ := repo.Get(s.ID)
	assert.Equal(t, snapshot, after)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestRegenerate_AssistantWithoutPrecedingUser(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	orphan := repo.NewMessage(types.RoleAssistant, "greeting")
	require.NoError(t, repo.AppendMessage(s.ID, orphan))
	completer, calls := staticCompleter("reply", nil)
	p := New(repo, completer, Config{})

	_, err := p.Regenerate(context.Background(), s.ID, orphan.ID)
	assert.ErrorIs(t, err, types.ErrNotRegenerable)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestRegenerate_BusySessionRejected(t *testing.T) {
	repo := session.NewRepository()
	s := repo.Create()
	g := newGatedCompleter()
	p := New(repo, g, Config{})

	g.release <- result{text: "answer"}
	first, err := p.Send(context.Background(), s.ID, "q1")
	require.NoError(t, err)
	waitStarted(t, g)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Send(context.Background(), s.ID, "q2")
		assert.NoError(t, err)
	}()
	waitStarted(t, g)

	_, err = p.Regenerate(context.Background(), s.ID, first.Reply.ID)
	assert.ErrorIs(t, err, types.ErrBusy)

	g.release <- result{text: "answer 2"}
	<-done
	assert.Equal(t, 2, g.Calls())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "settling", Settling.String())
	assert.Equal(t, "unknown", State(42).String())
}
