package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"quiz-coordinator/internal/auth"
	"quiz-coordinator/internal/domain"
)

// Machine-readable error codes shared by REST responses and websocket error events.
const (
	codeConflict          = "conflict"
	codeSessionDenied     = "session_denied"
	codeQuizLocked        = "quiz_locked"
	codeInvalidTransition = "invalid_transition"
	codeNotFound          = "not_found"
	codeForbidden         = "forbidden"
	codeBadRequest        = "bad_request"
	codeUnauthenticated   = "unauthenticated"
	codeRoomClosed        = "room_closed"
	codeInternal          = "internal"
)

const maxBodyBytes = 1 << 20

// apiError is the body of every failed request.
type apiError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
	ActualVersion   *int64 `json:"actualVersion,omitempty"`
}

// classify maps a service error onto an HTTP status and a client-facing body.
func classify(err error) (int, apiError) {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		expected, actual := conflict.Expected, conflict.Actual
		return http.StatusConflict, apiError{
			Code:            codeConflict,
			Message:         err.Error(),
			ExpectedVersion: &expected,
			ActualVersion:   &actual,
		}
	}

	switch {
	case errors.Is(err, domain.ErrSessionDenied):
		return http.StatusConflict, apiError{Code: codeSessionDenied, Message: err.Error()}
	case errors.Is(err, domain.ErrQuizLocked):
		return http.StatusConflict, apiError{Code: codeQuizLocked, Message: err.Error()}
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, apiError{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, apiError{Code: codeForbidden, Message: err.Error()}
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, apiError{Code: codeUnauthenticated, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrInvalidQuestionIndex),
		errors.Is(err, domain.ErrQuizEmpty):
		return http.StatusBadRequest, apiError{Code: codeBadRequest, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrRoomFull):
		return http.StatusUnprocessableEntity, apiError{Code: codeInvalidTransition, Message: err.Error()}
	case errors.Is(err, domain.ErrRoomClosed):
		return http.StatusGone, apiError{Code: codeRoomClosed, Message: err.Error()}
	default:
		return http.StatusInternalServerError, apiError{Code: codeInternal, Message: "internal server error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	entry := h.log.WithError(err).WithField("method", r.Method).WithField("path", r.URL.Path)
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error("request failed")
	case status == http.StatusUnprocessableEntity:
		entry.Warn("rejected transition")
	default:
		entry.Debug("request rejected")
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
