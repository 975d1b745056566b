package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

// RegisterUserInput is what the browser sends after sign-in.
type RegisterUserInput struct {
	ProviderToken string
	ProviderID    string
	Username      string
	Profile       json.RawMessage
}

// UserService stores the profile record of signed-in users.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// Register fully replaces the caller's record. Fields left out of input are
// cleared, not kept from the previous record.
func (s *UserService) Register(ctx context.Context, subject string, input RegisterUserInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, apperror.ValidationFailed("userInfo.username", "userInfo.username is required")
	}
	if len(input.Profile) > 0 && !json.Valid(input.Profile) {
		return nil, apperror.ValidationFailed("userInfo.profile", "userInfo.profile must be valid JSON")
	}

	user := &model.User{
		SubjectID:     subject,
		ProviderToken: input.ProviderToken,
		ProviderID:    input.ProviderID,
		Username:      username,
		Profile:       input.Profile,
	}
	if err := s.users.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/user: registering %s: %w", subject, err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("subject", subject),
		slog.String("username", username),
		slog.String("provider", input.ProviderID),
	)
	return user, nil
}

func (s *UserService) Get(ctx context.Context, subject string) (*model.User, error) {
	user, err := s.users.GetUser(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("service/user: getting %s: %w", subject, err)
	}
	return user, nil
}
