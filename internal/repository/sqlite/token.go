package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

var _ repository.UploadTokenRepository = (*DB)(nil)

// PutUploadToken stores token as the only active upload token of its subject.
// The previous token, if any, is overwritten and stops resolving immediately.
func (db *DB) PutUploadToken(ctx context.Context, token *model.UploadToken) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO upload_tokens (subject_id, token, issued_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
			token     = excluded.token,
			issued_at = excluded.issued_at`,
		token.SubjectID,
		token.Token,
		token.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: storing upload token for %s: %w", token.SubjectID, err)
	}
	return nil
}

func (db *DB) GetUploadToken(ctx context.Context, subjectID string) (*model.UploadToken, error) {
	return db.scanUploadToken(ctx, subjectID,
		`SELECT subject_id, token, issued_at FROM upload_tokens WHERE subject_id = ?`, subjectID)
}

func (db *DB) FindUploadToken(ctx context.Context, token string) (*model.UploadToken, error) {
	// The token value itself must not end up in error messages or logs.
	return db.scanUploadToken(ctx, "<redacted>",
		`SELECT subject_id, token, issued_at FROM upload_tokens WHERE token = ?`, token)
}

func (db *DB) scanUploadToken(ctx context.Context, label, query string, arg string) (*model.UploadToken, error) {
	var t model.UploadToken
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(&t.SubjectID, &t.Token, &t.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("upload token", label)
		}
		return nil, fmt.Errorf("sqlite: reading upload token %s: %w", label, err)
	}
	return &t, nil
}
