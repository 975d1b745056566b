// Package service holds the gateway's business rules.
//
// Services sit between the HTTP handlers and the repositories:
//
//	handler (HTTP) → service (rules) → repository (sqlite)
//	                                 ↘ storage / events
//
// They never read requests or write responses; failures are returned as
// *apperror.AppError values that the handlers map to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/metrics"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

// UploadTokenService issues and resolves the per-user upload credential.
//
// Each subject has at most one active token. Issuing replaces the previous
// one; concurrent issues for the same subject resolve last-write-wins.
type UploadTokenService struct {
	tokens  repository.UploadTokenRepository
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

func NewUploadTokenService(tokens repository.UploadTokenRepository, logger *slog.Logger, rec metrics.Recorder) *UploadTokenService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &UploadTokenService{tokens: tokens, logger: logger, metrics: rec, now: time.Now}
}

// Issue generates a fresh random token (UUIDv4, 122 random bits) for subject
// and stores it over any previous one.
func (s *UploadTokenService) Issue(ctx context.Context, subject string) (string, error) {
	if subject == "" {
		return "", apperror.ValidationFailed("subject", "subject is required")
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", apperror.Internal("could not generate upload token", err)
	}

	token := &model.UploadToken{
		SubjectID: subject,
		Token:     id.String(),
		IssuedAt:  s.now().UTC(),
	}
	if err := s.tokens.PutUploadToken(ctx, token); err != nil {
		return "", fmt.Errorf("service/token: issuing for %s: %w", subject, err)
	}

	s.metrics.RecordTokenIssued()
	s.logger.InfoContext(ctx, "upload token issued", slog.String("subject", subject))
	return token.Token, nil
}

// Fetch returns the subject's current token. ok is false when none was ever
// issued, which is not an error.
func (s *UploadTokenService) Fetch(ctx context.Context, subject string) (token string, ok bool, err error) {
	t, err := s.tokens.GetUploadToken(ctx, subject)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("service/token: fetching for %s: %w", subject, err)
	}
	return t.Token, true, nil
}

// Resolve maps a presented token back to its subject. Missing and unknown
// tokens are Forbidden.
func (s *UploadTokenService) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperror.Forbidden("upload token required")
	}
	t, err := s.tokens.FindUploadToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.Forbidden("upload token not recognized")
		}
		return "", fmt.Errorf("service/token: resolving: %w", err)
	}
	return t.SubjectID, nil
}
