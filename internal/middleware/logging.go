// Package middleware contains the gateway's HTTP middleware.
//
// The pattern is:
//
//	func MyMiddleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // before
//	        next.ServeHTTP(w, r)
//	        // after
//	    })
//	}
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/sercy/internal/auth"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
// A fresh one is created for every request, so a status never leaks from one
// request into the next.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush lets streamed renderer responses through.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// StatusRecorder receives the final status of every request.
// *metrics.Collector satisfies it.
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// requestInfo is filled in by inner middleware and read back by Logger once
// the handler returns.
type requestInfo struct {
	subject string
}

type infoKey struct{}

// Logger logs each request with method, path, status, duration, bytes,
// request id and, when resolved, the caller's subject. 5xx responses are
// logged at error level. rec may be nil.
func Logger(logger *slog.Logger, rec StatusRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{}
			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // if WriteHeader is never called
			}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), infoKey{}, info)))

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if id := chimiddleware.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if info.subject != "" {
				attrs = append(attrs, slog.String("subject", info.subject))
			}

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request completed", attrs...)

			if rec != nil {
				rec.RecordHTTPStatus(wrapped.statusCode)
			}
		})
	}
}

// TagSubject copies the authenticated subject into the request log line.
// Mount it after auth.RequireIdentity.
func TagSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(infoKey{}).(*requestInfo); ok {
			if id, ok := auth.IdentityFromContext(r.Context()); ok {
				info.subject = id.Subject
			}
		}
		next.ServeHTTP(w, r)
	})
}
