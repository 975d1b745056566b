package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so API responses share
// one shape:
//
//	{"error": "forbidden", "message": "upload token not recognized"}
//
// The message is the AppError's client-safe text. Causes (SQL errors, storage
// responses, provider failures) are logged here and never sent.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/auth"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind, e.g. "not_found"
	Message string `json:"message"` // human-readable description
}

// writeJSON sets headers, then the status, then writes the body. Headers
// changed after the first Write are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps the outermost *AppError's kind to an HTTP status.
// Errors that carry no AppError are 500.
func statusFor(err error) (int, string, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "internal_error", "an internal error occurred"
	}

	switch appErr.Err {
	case apperror.ErrValidation:
		return http.StatusBadRequest, "validation_error", appErr.Message
	case apperror.ErrUnauthenticated:
		return http.StatusUnauthorized, "unauthenticated", appErr.Message
	case apperror.ErrForbidden:
		return http.StatusForbidden, "forbidden", appErr.Message
	case apperror.ErrNotFound:
		return http.StatusNotFound, "not_found", appErr.Message
	case apperror.ErrConflict:
		return http.StatusConflict, "conflict", appErr.Message
	case apperror.ErrUnavailable:
		return http.StatusServiceUnavailable, "unavailable", appErr.Message
	case apperror.ErrNotImplemented:
		return http.StatusNotImplemented, "not_implemented", appErr.Message
	default:
		return http.StatusInternalServerError, "internal_error", appErr.Message
	}
}

// writeError logs err with the request context and answers with its mapped
// status. Server errors log at error level, client errors at warn.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, kind, message := statusFor(err)
	logFailure(r, logger, status, err)
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

func logFailure(r *http.Request, logger *slog.Logger, status int, err error) {
	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		attrs = append(attrs, slog.String("subject", id.Subject))
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", attrs...)
		return
	}
	logger.WarnContext(r.Context(), "request rejected", attrs...)
}

// decodeJSON reads a single JSON object from the body.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "request body must be a JSON object")
	}
	return nil
}
