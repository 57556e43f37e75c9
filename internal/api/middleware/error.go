// Package middleware provides HTTP middleware and the JSON error envelope
// shared by every handler.
package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/rental-feed-sync/backend/internal/calendar"
	"github.com/rental-feed-sync/backend/internal/logging"
	"github.com/rental-feed-sync/backend/internal/storage"
)

// Code is the machine-readable "error" field of an error body.
type Code string

// Error codes
const (
	CodeBadRequest     Code = "bad_request"
	CodeValidation     Code = "validation_error"
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeUpstreamFailed Code = "upstream_failed"
	CodeInternal       Code = "internal_error"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   Code   `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// WriteError writes an error body with the given status.
func WriteError(w http.ResponseWriter, status int, code Code, message string) {
	writeErrorBody(w, status, ErrorResponse{Error: code, Message: message})
}

// WriteKindError answers with the status that matches err's calendar error
// kind. Errors the caller cannot act on are logged and reported as fallback.
func WriteKindError(w http.ResponseWriter, err error, fallback string) {
	kind := calendar.KindOf(err)
	body := ErrorResponse{Message: err.Error(), Kind: string(kind)}

	var status int
	switch {
	case errors.Is(err, storage.ErrDuplicateFeed):
		status, body.Error = http.StatusConflict, CodeConflict
	case kind == calendar.KindNotFound:
		status, body.Error = http.StatusNotFound, CodeNotFound
	case kind == calendar.KindValidation:
		status, body.Error = http.StatusBadRequest, CodeValidation
	case kind == calendar.KindTransport || kind == calendar.KindParse:
		status, body.Error = http.StatusBadGateway, CodeUpstreamFailed
	default:
		logging.Logger.WithField("kind", kind).Errorf("%s: %v", fallback, err)
		status, body.Error, body.Message = http.StatusInternalServerError, CodeInternal, fallback
	}
	writeErrorBody(w, status, body)
}

func writeErrorBody(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Logger.Warnf("Writing error response: %v", err)
	}
}

// ErrorRecovery turns a handler panic into a 500 error body.
func ErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logging.Logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
				}).Errorf("Handler panicked: %v\n%s", p, debug.Stack())
				WriteError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
