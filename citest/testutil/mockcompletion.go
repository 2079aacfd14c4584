package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockCompletionServer speaks the {messages} -> {text} completion contract.
// Replies are scripted per call; when the script is empty it echoes the last
// user turn.
type MockCompletionServer struct {
	server *httptest.Server

	mu       sync.Mutex
	script   []MockReply
	requests []MockRequest
	hold     chan struct{}
}

// MockReply is one scripted response. A non-zero Status with Error produces
// a failure body.
type MockReply struct {
	Text   string
	Status int
	Error  string
}

// MockTurn is one entry of a recorded request.
type MockTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MockRequest records an incoming completion request.
type MockRequest struct {
	Timestamp time.Time
	Messages  []MockTurn
}

// NewMockCompletionServer starts the mock server.
func NewMockCompletionServer() *MockCompletionServer {
	m := &MockCompletionServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/complete", m.handleComplete)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the completion endpoint.
func (m *MockCompletionServer) URL() string {
	return m.server.URL + "/complete"
}

// Close shuts down the mock server.
func (m *MockCompletionServer) Close() {
	m.Release()
	m.server.Close()
}

// Script queues replies for the next calls.
func (m *MockCompletionServer) Script(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// Hold makes every request wait until Release is called.
func (m *MockCompletionServer) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold == nil {
		m.hold = make(chan struct{})
	}
}

// Release lets held requests proceed.
func (m *MockCompletionServer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold != nil {
		close(m.hold)
		m.hold = nil
	}
}

// Requests returns all recorded requests.
func (m *MockCompletionServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears the script and recorded requests.
func (m *MockCompletionServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = nil
	m.requests = nil
}

func (m *MockCompletionServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Messages []MockTurn `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Timestamp: time.Now(), Messages: req.Messages})
	var reply MockReply
	if len(m.script) > 0 {
		reply, m.script = m.script[0], m.script[1:]
	} else {
		reply = MockReply{Text: "echo: " + lastUserTurn(req.Messages)}
	}
	hold := m.hold
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.Status != 0 && reply.Status/100 != 2 {
		w.WriteHeader(reply.Status)
		json.NewEncoder(w).Encode(map[string]string{"error": reply.Error})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"text": reply.Text})
}

func lastUserTurn(turns []MockTurn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if strings.EqualFold(turns[i].Role, "user") {
			return turns[i].Content
		}
	}
	return ""
}
