package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second

	// SSEWriteTimeout bounds each write to an SSE client. A client that
	// stops reading is disconnected once it expires.
	SSEWriteTimeout = 10 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent marshals data and writes it as one SSE event.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, jsonData)
}

// writeRaw writes pre-encoded JSON as one SSE event.
func (s *sseWriter) writeRaw(eventType string, jsonData []byte) error {
	s.armDeadline()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}

	// ResponseController sees through middleware wrappers.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() error {
	s.armDeadline()
	if _, err := fmt.Fprintf(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// armDeadline sets the connection's write deadline for the next write.
// Writers without deadline support (httptest recorders) are left as is.
func (s *sseWriter) armDeadline() {
	_ = s.rc.SetWriteDeadline(time.Now().Add(SSEWriteTimeout))
}

// streamedEvent is the subset of an encoded bus event used for filtering.
type streamedEvent struct {
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			ID string `json:"id"`
		} `json:"info"`
	} `json:"data"`
}

// matchesSession reports whether an encoded event concerns sessionID.
// Events that name no session (chat.cleared, error dismissal) always match.
func matchesSession(payload []byte, sessionID string) bool {
	var e streamedEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return false
	}
	if e.Data.SessionID != "" {
		return e.Data.SessionID == sessionID
	}
	if e.Data.Info.ID != "" {
		return e.Data.Info.ID == sessionID
	}
	return true
}

// allEvents handles GET /event. An optional sessionID query parameter limits
// the stream to events about that session.
func (srv *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	messages, err := srv.chat.Bus().Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", map[string]any{"type": "server.connected", "data": map[string]any{}}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if sessionID != "" && !matchesSession(msg.Payload, sessionID) {
				continue
			}
			if err := sse.writeRaw("message", msg.Payload); err != nil {
				srv.log.Debug().Err(err).Msg("SSE client went away")
				return
			}
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				srv.log.Debug().Err(err).Msg("SSE client went away")
				return
			}
		}
	}
}
