package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// SaveUser replaces the record for user.SubjectID.
//
// ON CONFLICT DO UPDATE overwrites every profile column, so fields the caller
// left empty are cleared rather than merged. created_at is the only column
// that survives a replace.
func (db *DB) SaveUser(ctx context.Context, user *model.User) error {
	profile := string(user.Profile)
	if len(user.Profile) == 0 {
		profile = "null"
	}

	now := time.Now().UTC()
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (subject_id, provider_token, provider_id, username, profile, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
			provider_token = excluded.provider_token,
			provider_id    = excluded.provider_id,
			username       = excluded.username,
			profile        = excluded.profile,
			updated_at     = excluded.updated_at`,
		user.SubjectID,
		user.ProviderToken,
		user.ProviderID,
		user.Username,
		profile,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving user %s: %w", user.SubjectID, err)
	}

	// Read back created_at: on a replace it is the original insert time.
	err = db.conn.QueryRowContext(ctx,
		`SELECT created_at FROM users WHERE subject_id = ?`, user.SubjectID,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading back user %s: %w", user.SubjectID, err)
	}

	return nil
}

// GetUser returns apperror.ErrNotFound if no record exists for subjectID.
func (db *DB) GetUser(ctx context.Context, subjectID string) (*model.User, error) {
	var (
		u       model.User
		profile string
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT subject_id, provider_token, provider_id, username, profile, created_at, updated_at
		 FROM users WHERE subject_id = ?`,
		subjectID,
	).Scan(
		&u.SubjectID,
		&u.ProviderToken,
		&u.ProviderID,
		&u.Username,
		&profile,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", subjectID)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", subjectID, err)
	}
	u.Profile = json.RawMessage(profile)

	return &u, nil
}
