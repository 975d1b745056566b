package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

var _ repository.BuildRepository = (*DB)(nil)

// ClaimBuild inserts the build with ownerID unless the id is already taken,
// then reads back whatever row is stored. Two subjects racing for the same
// new build id both get the same row back; only the winner sees itself as owner.
func (db *DB) ClaimBuild(ctx context.Context, buildID, ownerID string) (*model.Build, error) {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO builds (id, owner_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		buildID, ownerID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: claiming build %s: %w", buildID, err)
	}
	return db.GetBuild(ctx, buildID)
}

func (db *DB) GetBuild(ctx context.Context, buildID string) (*model.Build, error) {
	var (
		b        model.Build
		finished sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at, finished_at FROM builds WHERE id = ?`,
		buildID,
	).Scan(&b.ID, &b.OwnerID, &b.CreatedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("build", buildID)
		}
		return nil, fmt.Errorf("sqlite: getting build %s: %w", buildID, err)
	}
	if finished.Valid {
		t := finished.Time
		b.FinishedAt = &t
	}
	return &b, nil
}

// FinishBuild stamps finished_at. Finishing twice moves the timestamp forward.
func (db *DB) FinishBuild(ctx context.Context, buildID string) (*model.Build, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE builds SET finished_at = ? WHERE id = ?`,
		time.Now().UTC(), buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finishing build %s: %w", buildID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: finishing build %s: %w", buildID, err)
	}
	if n == 0 {
		return nil, apperror.NotFound("build", buildID)
	}
	return db.GetBuild(ctx, buildID)
}
