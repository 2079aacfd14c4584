package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DmytroChyzh/ciedenmanager/internal/pipeline"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// ChatListResponse is returned by GET /chat.
type ChatListResponse struct {
	Sessions []*types.Session `json:"sessions"`
	ActiveID string           `json:"activeID,omitempty"`
}

// StatusResponse is returned by GET /chat/status.
type StatusResponse struct {
	ActiveID  string   `json:"activeID,omitempty"`
	Busy      bool     `json:"busy"`
	LastError string   `json:"lastError,omitempty"`
	Pending   []string `json:"pending"`
}

// TextRequest is the body of send and edit requests.
type TextRequest struct {
	Text string `json:"text"`
}

// ExchangeResponse reports a settled exchange. Error carries the failure
// reason when the completion service failed; the reply then holds the
// error marker.
type ExchangeResponse struct {
	SessionID string         `json:"sessionID"`
	Reply     *types.Message `json:"reply,omitempty"`
	Error     string         `json:"error,omitempty"`
	Discarded bool           `json:"discarded,omitempty"`
}

func exchangeResponse(out *pipeline.Outcome) ExchangeResponse {
	resp := ExchangeResponse{
		SessionID: out.SessionID,
		Reply:     out.Reply,
		Discarded: out.Discarded,
	}
	if out.Err != nil {
		resp.Error = types.Reason(out.Err)
	}
	return resp
}

func decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return "", false
	}
	return req.Text, true
}

// listChats handles GET /chat
func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ChatListResponse{
		Sessions: s.chat.Sessions(),
		ActiveID: s.chat.ActiveID(),
	})
}

// newChat handles POST /chat
func (s *Server) newChat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.chat.NewChat(r.Context()))
}

// clearChats handles DELETE /chat
func (s *Server) clearChats(w http.ResponseWriter, r *http.Request) {
	s.chat.ClearAll(r.Context())
	writeSuccess(w)
}

// getStatus handles GET /chat/status
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		ActiveID:  s.chat.ActiveID(),
		Busy:      s.chat.IsBusy(),
		LastError: s.chat.LastError(),
		Pending:   s.chat.PendingSessions(),
	})
}

// dismissError handles DELETE /chat/error
func (s *Server) dismissError(w http.ResponseWriter, r *http.Request) {
	s.chat.DismissError()
	writeSuccess(w)
}

// getActiveChat handles GET /chat/active
func (s *Server) getActiveChat(w http.ResponseWriter, r *http.Request) {
	active := s.chat.ActiveSession()
	if active == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, types.ErrNoActiveSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, active)
}

// sendMessage handles POST /chat/message
// The response is written once the exchange settles.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}

	out, err := s.chat.SendMessage(r.Context(), text)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse(out))
}

// editMessage handles PATCH /chat/message/{messageID}
func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	text, ok := decodeText(w, r)
	if !ok {
		return
	}

	if err := s.chat.EditMessage(r.Context(), messageID, text); err != nil {
		writeChatError(w, err)
		return
	}

	active := s.chat.ActiveSession()
	if active == nil {
		writeSuccess(w)
		return
	}
	if idx := active.MessageIndex(messageID); idx >= 0 {
		writeJSON(w, http.StatusOK, active.Messages[idx])
		return
	}
	writeSuccess(w)
}

// regenerateMessage handles POST /chat/message/{messageID}/regenerate
func (s *Server) regenerateMessage(w http.ResponseWriter, r *http.Request) {
	out, err := s.chat.RegenerateMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse(out))
}

// retryLast handles POST /chat/retry
func (s *Server) retryLast(w http.ResponseWriter, r *http.Request) {
	out, err := s.chat.RetryLast(r.Context())
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse(out))
}

// getChat handles GET /chat/{sessionID}
func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.chat.Session(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, types.ErrSessionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// selectChat handles POST /chat/{sessionID}/select
func (s *Server) selectChat(w http.ResponseWriter, r *http.Request) {
	if !s.chat.SelectChat(r.Context(), chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, types.ErrSessionNotFound.Error())
		return
	}
	writeSuccess(w)
}

// deleteChat handles DELETE /chat/{sessionID}
func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	if !s.chat.DeleteChat(r.Context(), chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, types.ErrSessionNotFound.Error())
		return
	}
	writeSuccess(w)
}
