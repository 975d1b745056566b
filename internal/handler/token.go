package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/service"
)

// TokenHandler serves the caller's upload token.
type TokenHandler struct {
	tokens *service.UploadTokenService
	logger *slog.Logger
}

func NewTokenHandler(tokens *service.UploadTokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, logger: logger}
}

// TokenResponse is the body of both token endpoints. Token is null when the
// caller never issued one.
type TokenResponse struct {
	Token *string `json:"token"`
}

// HandleIssue replaces the caller's upload token with a new one.
//
// HTTP: POST /api/token
func (h *TokenHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentity(r.Context())

	token, err := h.tokens.Issue(r.Context(), identity.Subject)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: &token})
}

// HandleFetch returns the caller's current upload token.
//
// HTTP: GET /api/token
func (h *TokenHandler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentity(r.Context())

	token, ok, err := h.tokens.Fetch(r.Context(), identity.Subject)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, TokenResponse{})
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: &token})
}
