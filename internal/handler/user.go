package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/sercy/internal/auth"
	"github.com/sakif/sercy/internal/service"
)

// UserHandler stores the profile the browser obtained at sign-in.
type UserHandler struct {
	users  *service.UserService
	logger *slog.Logger
}

func NewUserHandler(users *service.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// RegisterUserRequest is the body of POST /api/user.
type RegisterUserRequest struct {
	GitHubToken string `json:"githubToken"`
	UserInfo    struct {
		ProviderID string          `json:"providerId"`
		Username   string          `json:"username"`
		Profile    json.RawMessage `json:"profile"`
	} `json:"userInfo"`
}

// HandleRegister replaces the caller's user record.
//
// HTTP: POST /api/user
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentity(r.Context())

	var req RegisterUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.Register(r.Context(), identity.Subject, service.RegisterUserInput{
		ProviderToken: req.GitHubToken,
		ProviderID:    req.UserInfo.ProviderID,
		Username:      req.UserInfo.Username,
		Profile:       req.UserInfo.Profile,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleGet returns the caller's user record.
//
// HTTP: GET /api/user
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity := auth.MustIdentity(r.Context())

	user, err := h.users.Get(r.Context(), identity.Subject)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
