package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
)

// SessionCookie is the cookie that carries the ID token on page-initiated calls.
const SessionCookie = "session"

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or overwrite the identity.
type contextKey string

const identityKey contextKey = "identity"

// FailureRecorder counts rejected requests by reason.
// *metrics.Collector satisfies it.
type FailureRecorder interface {
	RecordAuthFailure(reason string)
}

// Failure reasons as they appear in logs and metrics. Missing and invalid
// credentials produce the same status code; only these labels tell them apart.
const (
	ReasonMissing     = "missing_credential"
	ReasonInvalid     = "invalid_credential"
	ReasonUnavailable = "provider_unavailable"
)

// errNoCredential is returned by Authenticate when the request carries neither
// a bearer token nor a session cookie.
var errNoCredential = errors.New("no bearer token or session cookie")

// RequireIdentity is the middleware guarding the API namespace.
//
// It reads the ID token from "Authorization: Bearer <token>" or, failing that,
// the "session" cookie, verifies it with v within timeout and stores the
// identity in the request context. Requests without a usable credential get
// 401 and the chain stops. A provider outage or timeout gets 503.
//
// The middleware never writes state; its only effects are the context value
// and the log line.
func RequireIdentity(v IdentityVerifier, timeout time.Duration, logger *slog.Logger, rec FailureRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := Authenticate(r.Context(), v, timeout, r)
			if err != nil {
				reason := failureReason(err)
				attrs := []any{
					slog.String("path", r.URL.Path),
					slog.String("reason", reason),
				}
				if !errors.Is(err, errNoCredential) {
					attrs = append(attrs, slog.String("error", err.Error()))
				}
				if reason == ReasonUnavailable {
					logger.Error("identity verification unavailable", attrs...)
				} else {
					logger.Warn("request not authenticated", attrs...)
				}
				if rec != nil {
					rec.RecordAuthFailure(reason)
				}
				writeAuthError(w, reason)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), *identity)))
		})
	}
}

// Authenticate extracts and verifies the caller's ID token.
//
// It is exported for routes outside the API namespace that want to know who
// the caller is without rejecting anonymous requests.
func Authenticate(ctx context.Context, v IdentityVerifier, timeout time.Duration, r *http.Request) (*model.Identity, error) {
	token, ok := credential(r)
	if !ok {
		return nil, apperror.Unauthenticated("authentication required", errNoCredential)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	identity, err := v.Verify(ctx, token)
	if err != nil {
		if apperror.IsTimeout(err) && !errors.Is(err, apperror.ErrUnavailable) {
			return nil, apperror.Unavailable("identity provider unavailable", err)
		}
		return nil, err
	}
	return identity, nil
}

// credential returns the bearer token, else the session cookie value.
func credential(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); token != "" {
			return token, true
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errNoCredential):
		return ReasonMissing
	case errors.Is(err, apperror.ErrUnavailable):
		return ReasonUnavailable
	default:
		return ReasonInvalid
	}
}

func writeAuthError(w http.ResponseWriter, reason string) {
	status := http.StatusUnauthorized
	body := map[string]string{"error": "unauthenticated", "message": "valid authentication required"}
	if reason == ReasonUnavailable {
		status = http.StatusServiceUnavailable
		body = map[string]string{"error": "unavailable", "message": "identity provider unavailable, retry later"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WithIdentity returns a context carrying a private copy of identity.
func WithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity.Clone())
}

// IdentityFromContext returns the identity stored by RequireIdentity.
// The returned value is a copy; mutating it does not affect other readers.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	if !ok || id.Subject == "" {
		return model.Identity{}, false
	}
	return id.Clone(), true
}

// MustIdentity is IdentityFromContext for handlers mounted behind
// RequireIdentity. A missing identity there is a wiring bug, so it panics
// (chi's Recoverer turns the panic into a 500).
func MustIdentity(ctx context.Context) model.Identity {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: handler reached without a resolved identity; is it mounted behind RequireIdentity?")
	}
	return id
}
