// Package repository declares the persistence contracts the services depend on.
// The sqlite sub-package provides the implementation.
package repository

import (
	"context"

	"github.com/sakif/sercy/internal/model"
)

// UserRepository stores the profile record of each subject.
type UserRepository interface {
	// SaveUser fully replaces the record for user.SubjectID.
	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, subjectID string) (*model.User, error)
}

// UploadTokenRepository keeps at most one upload token per subject.
type UploadTokenRepository interface {
	// PutUploadToken overwrites any token previously stored for the subject.
	PutUploadToken(ctx context.Context, token *model.UploadToken) error
	// GetUploadToken returns apperror.ErrNotFound when no token was issued.
	GetUploadToken(ctx context.Context, subjectID string) (*model.UploadToken, error)
	// FindUploadToken looks a token up by value; apperror.ErrNotFound when unknown.
	FindUploadToken(ctx context.Context, token string) (*model.UploadToken, error)
}

// BuildRepository tracks which subject owns a build id.
type BuildRepository interface {
	// ClaimBuild records ownerID as the owner of buildID unless another subject
	// already owns it. It returns the build as stored, which may belong to someone else.
	ClaimBuild(ctx context.Context, buildID, ownerID string) (*model.Build, error)
	GetBuild(ctx context.Context, buildID string) (*model.Build, error)
	FinishBuild(ctx context.Context, buildID string) (*model.Build, error)
}

// InstallationRepository records GitHub App installations.
type InstallationRepository interface {
	SaveInstallation(ctx context.Context, inst *model.Installation) error
	GetInstallation(ctx context.Context, id int64) (*model.Installation, error)
}
