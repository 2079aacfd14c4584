package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBusy           = "BUSY"
	ErrCodeUpstreamError  = "UPSTREAM_ERROR"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeChatError maps a tagged chat error to a status code.
func writeChatError(w http.ResponseWriter, err error) {
	var details map[string]any
	var ce *types.ChatError
	if errors.As(err, &ce) && ce.Op != "" {
		details = map[string]any{"op": ce.Op}
	}

	reason := types.Reason(err)
	switch types.KindOf(err) {
	case types.KindValidation:
		if errors.Is(err, types.ErrBusy) {
			writeErrorWithDetails(w, http.StatusConflict, ErrCodeBusy, reason, details)
			return
		}
		writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidRequest, reason, details)
	case types.KindNotFound:
		writeErrorWithDetails(w, http.StatusNotFound, ErrCodeNotFound, reason, details)
	case types.KindTransport:
		writeErrorWithDetails(w, http.StatusBadGateway, ErrCodeUpstreamError, reason, details)
	default:
		writeErrorWithDetails(w, http.StatusInternalServerError, ErrCodeInternalError, reason, details)
	}
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
