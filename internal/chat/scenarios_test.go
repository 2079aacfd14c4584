package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/DmytroChyzh/ciedenmanager/internal/chat"
	"github.com/DmytroChyzh/ciedenmanager/internal/completion"
	"github.com/DmytroChyzh/ciedenmanager/internal/history"
	"github.com/DmytroChyzh/ciedenmanager/internal/pipeline"
	"github.com/DmytroChyzh/ciedenmanager/internal/storage"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// completionStub is a completion service answering every request with a
// fixed status and body.
type completionStub struct {
	server *httptest.Server
	calls  int32

	mu     sync.Mutex
	status int
	body   string
}

func newCompletionStub(status int, body string) *completionStub {
	stub := &completionStub{status: status, body: body}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&stub.calls, 1)
		var req struct {
			Messages []completion.Turn `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		stub.mu.Lock()
		status, body := stub.status, stub.body
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return stub
}

func (s *completionStub) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *completionStub) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func texts(s *types.Session) []string {
	out := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.Text)
	}
	return out
}

func rolesOf(s *types.Session) []types.Role {
	out := make([]types.Role, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.Role)
	}
	return out
}

var _ = Describe("Controller", func() {
	var (
		ctx     context.Context
		backend *storage.Memory
		store   *history.Store
		stub    *completionStub
		ctrl    *chat.Controller
	)

	open := func() {
		client := completion.NewHTTPClient(completion.HTTPConfig{URL: stub.server.URL, MaxRetries: 0})
		ctrl = chat.Open(ctx, store, client, chat.Options{SystemPrompt: "You help managers."})
	}

	BeforeEach(func() {
		ctx = context.Background()
		backend = storage.NewMemory()
		store = history.New(backend)
	})

	AfterEach(func() {
		if ctrl != nil {
			Expect(ctrl.Close()).To(Succeed())
			ctrl = nil
		}
		if stub != nil {
			stub.server.Close()
			stub = nil
		}
	})

	Describe("starting from an empty store", func() {
		BeforeEach(func() {
			stub = newCompletionStub(http.StatusOK, `{"text":"hello"}`)
			open()
		})

		It("creates one active untitled session", func() {
			sessions := ctrl.Sessions()
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].Title).To(Equal(types.UntitledTitle))
			Expect(ctrl.ActiveID()).To(Equal(sessions[0].ID))
		})

		It("persists the new session immediately", func() {
			Expect(store.Load(ctx)).To(HaveLen(1))
		})

		It("answers hi with hello", func() {
			ctrl.NewChat(ctx)

			out, err := ctrl.SendMessage(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Err).NotTo(HaveOccurred())

			active := ctrl.ActiveSession()
			Expect(active.Messages).To(HaveLen(2))
			Expect(rolesOf(active)).To(Equal([]types.Role{types.RoleUser, types.RoleAssistant}))
			Expect(texts(active)).To(Equal([]string{"hi", "hello"}))
			Expect(ctrl.IsBusy()).To(BeFalse())
			Expect(ctrl.LastError()).To(BeEmpty())
			Expect(stub.Calls()).To(Equal(1))
		})

		It("writes the exchange through to the store", func() {
			_, err := ctrl.SendMessage(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())

			stored := store.Load(ctx)
			Expect(stored).To(HaveLen(1))
			Expect(texts(stored[0])).To(Equal([]string{"hi", "hello"}))
			Expect(stored[0].Title).To(Equal("hi"))
		})

		It("treats regenerate on a user message as a no-op", func() {
			_, err := ctrl.SendMessage(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())
			before := ctrl.ActiveSession()
			calls := stub.Calls()

			_, err = ctrl.RegenerateMessage(ctx, before.Messages[0].ID)
			Expect(types.IsKind(err, types.KindValidation)).To(BeTrue())

			Expect(ctrl.ActiveSession()).To(Equal(before))
			Expect(stub.Calls()).To(Equal(calls))
			Expect(ctrl.LastError()).To(BeEmpty())
		})

		It("swaps the reply on regenerate", func() {
			first, err := ctrl.SendMessage(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())

			second, err := ctrl.RegenerateMessage(ctx, first.Reply.ID)
			Expect(err).NotTo(HaveOccurred())

			active := ctrl.ActiveSession()
			Expect(active.Messages).To(HaveLen(2))
			Expect(active.Messages[1].ID).To(Equal(second.Reply.ID))
			Expect(active.Messages[1].ID).NotTo(Equal(first.Reply.ID))
			Expect(stub.Calls()).To(Equal(2))
		})

		It("rejects empty text without touching the session", func() {
			_, err := ctrl.SendMessage(ctx, "   ")
			Expect(types.IsKind(err, types.KindValidation)).To(BeTrue())
			Expect(ctrl.ActiveSession().Messages).To(BeEmpty())
			Expect(stub.Calls()).To(BeZero())
		})
	})

	Describe("when the completion service fails", func() {
		BeforeEach(func() {
			stub = newCompletionStub(http.StatusInternalServerError, `{"error":"model overloaded"}`)
			open()
		})

		It("records an error marker and sets the last error", func() {
			out, err := ctrl.SendMessage(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(types.IsKind(out.Err, types.KindTransport)).To(BeTrue())

			active := ctrl.ActiveSession()
			Expect(active.Messages).To(HaveLen(2))
			Expect(active.Messages[0].Text).To(Equal("hi"))
			Expect(active.Messages[1].Role).To(Equal(types.RoleAssistant))
			Expect(active.Messages[1].Text).To(HavePrefix(pipeline.ErrorMarker))
			Expect(active.Messages[1].Text).To(ContainSubstring("model overloaded"))
			Expect(ctrl.LastError()).To(Equal("model overloaded"))
			Expect(ctrl.IsBusy()).To(BeFalse())
		})

		It("clears the last error on dismissal", func() {
			_, _ = ctrl.SendMessage(ctx, "hi")
			ctrl.DismissError()
			Expect(ctrl.LastError()).To(BeEmpty())
		})

		It("clears the last error after a successful retry", func() {
			_, _ = ctrl.SendMessage(ctx, "hi")
			Expect(ctrl.LastError()).NotTo(BeEmpty())

			stub.respond(http.StatusOK, `{"text":"recovered"}`)

			out, err := ctrl.RetryLast(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Reply.Text).To(Equal("recovered"))
			Expect(texts(ctrl.ActiveSession())).To(Equal([]string{"hi", "recovered"}))
			Expect(ctrl.LastError()).To(BeEmpty())
		})

		It("refuses to retry a successful exchange", func() {
			stub.respond(http.StatusOK, `{"text":"fine"}`)
			_, err := ctrl.SendMessage(ctx, "hi")
			Expect(err).NotTo(HaveOccurred())

			_, err = ctrl.RetryLast(ctx)
			Expect(err).To(MatchError(types.ErrNothingToRetry))
		})
	})

	Describe("reopening a persisted history", func() {
		BeforeEach(func() {
			stub = newCompletionStub(http.StatusOK, `{"text":"hello"}`)
		})

		It("restores sessions and selects the most recent", func() {
			open()
			_, err := ctrl.SendMessage(ctx, "first chat")
			Expect(err).NotTo(HaveOccurred())
			newest := ctrl.NewChat(ctx)
			Expect(ctrl.Close()).To(Succeed())

			open()
			Expect(ctrl.Sessions()).To(HaveLen(2))
			Expect(ctrl.ActiveID()).To(Equal(newest.ID))
		})

		It("falls back to a fresh session when the store is corrupt", func() {
			Expect(backend.Write(ctx, history.DefaultKey, []byte("{not json"))).To(Succeed())

			open()
			Expect(ctrl.Sessions()).To(HaveLen(1))
			Expect(ctrl.ActiveSession().Messages).To(BeEmpty())
		})
	})
})
