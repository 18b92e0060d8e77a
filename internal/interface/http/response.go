package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/domain/timer"
	"github.com/studyhub/study-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every JSON response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// APIError describes a failed request. Retryable tells the client to offer
// a retry instead of asking the user to change the input.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Version   string    `json:"version,omitempty"`
	Count     *int      `json:"count,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
}

func newMeta(w http.ResponseWriter) *ResponseMeta {
	return &ResponseMeta{
		Timestamp: time.Now().UTC(),
		RequestID: w.Header().Get(RequestIDHeader),
		Version:   "v1",
	}
}

// writeJSON writes a successful response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSONWithMeta(w, status, data, nil)
}

// writeJSONWithMeta writes a successful response with extra metadata.
func writeJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = newMeta(w)
	}
	writeEnvelope(w, status, JSONResponse{Success: true, Data: data, Meta: meta})
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeEnvelope(w, status, JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Retryable: retryable},
		Meta:    newMeta(w),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// errorResponse maps an application error to status, code and message.
type errorResponse struct {
	status    int
	code      string
	message   string
	retryable bool
}

const genericMessage = "An unexpected error occurred"

func classify(err error) errorResponse {
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		return classifyIdentity(idErr)
	}

	switch {
	case errors.Is(err, timer.ErrSubjectRequired):
		return errorResponse{http.StatusBadRequest, "subject_required", "Select a subject before starting a pomodoro session.", false}
	case errors.Is(err, timer.ErrInvalidMode):
		return errorResponse{http.StatusBadRequest, "invalid_mode", "Unknown timer mode.", false}
	case errors.Is(err, timer.ErrRunning):
		return errorResponse{http.StatusConflict, "timer_running", "Pause the timer first.", false}
	case errors.Is(err, timer.ErrClosed):
		return errorResponse{http.StatusServiceUnavailable, "timer_unavailable", "The timer is restarting. Please try again.", true}
	}

	msg := shared.UserMessage(err)
	with := func(status int, code, fallback string, retryable bool) errorResponse {
		if msg == "" {
			msg = fallback
		}
		return errorResponse{status, code, msg, retryable}
	}

	switch {
	case shared.IsValidation(err):
		return with(http.StatusBadRequest, "validation_error", "The request is invalid.", false)
	case shared.IsNotFound(err):
		return with(http.StatusNotFound, "not_found", "Not found.", false)
	case shared.IsAlreadyExists(err):
		return with(http.StatusConflict, "already_exists", "Already exists.", false)
	case errors.Is(err, shared.ErrUnauthorized):
		return with(http.StatusUnauthorized, "unauthorized", "Sign in to continue.", false)
	case errors.Is(err, shared.ErrForbidden):
		return with(http.StatusForbidden, "forbidden", "Not allowed.", false)
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrStateTransition):
		return with(http.StatusConflict, "conflict", "The request conflicts with the current state.", false)
	case errors.Is(err, shared.ErrRateLimited):
		return with(http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later.", true)
	case shared.IsRetryable(err):
		return with(http.StatusServiceUnavailable, "service_unavailable", "Temporarily unavailable. Please try again.", true)
	case errors.Is(err, shared.ErrExternalService):
		return with(http.StatusBadGateway, "upstream_error", "An upstream service failed. Please try again.", true)
	case errors.Is(err, context.DeadlineExceeded):
		return errorResponse{http.StatusGatewayTimeout, "timeout", "The request timed out. Please try again.", true}
	}
	return errorResponse{http.StatusInternalServerError, "internal_error", genericMessage, false}
}

func classifyIdentity(e *identity.Error) errorResponse {
	status := http.StatusBadRequest
	switch e.Code {
	case identity.CodeEmailInUse:
		status = http.StatusConflict
	case identity.CodeInvalidCredential, identity.CodeInvalidToken:
		status = http.StatusUnauthorized
	case identity.CodeInternal:
		return errorResponse{http.StatusInternalServerError, string(e.Code), genericMessage, false}
	}
	return errorResponse{status, string(e.Code), e.Message, false}
}

// writeErr maps err and writes it. 5xx errors are logged with the cause.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	resp := classify(err)
	l := logger.FromContext(r.Context())
	if resp.status >= http.StatusInternalServerError {
		l.Error("request failed", "code", resp.code, logger.Err(err))
	} else {
		l.Debug("request rejected", "code", resp.code, logger.Err(err))
	}
	if resp.retryable && resp.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, resp.status, resp.code, resp.message, resp.retryable)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

const badBodyMessage = "Request body must be valid JSON."

// decodeJSON reads a JSON body into dst. An empty body is allowed when
// optional is true.
func decodeJSON(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return shared.WrapError("http", "decode", shared.ErrInvalidInput, "Request body too large.", err)
		}
		return shared.WrapError("http", "decode", shared.ErrValidation, badBodyMessage, err)
	}
	return nil
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.NewDomainError("http", "query", shared.ErrInvalidInput, fmt.Sprintf("%s must be a number", key))
	}
	return n, nil
}
