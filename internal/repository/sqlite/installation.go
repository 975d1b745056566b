package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/sercy/internal/apperror"
	"github.com/sakif/sercy/internal/model"
	"github.com/sakif/sercy/internal/repository"
)

var _ repository.InstallationRepository = (*DB)(nil)

// SaveInstallation upserts by installation id. A repeated setup callback
// without a session or OAuth code keeps the subject and login learned earlier.
func (db *DB) SaveInstallation(ctx context.Context, inst *model.Installation) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO installations (id, subject_id, github_login, setup_action, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			subject_id   = CASE WHEN excluded.subject_id   != '' THEN excluded.subject_id   ELSE installations.subject_id   END,
			github_login = CASE WHEN excluded.github_login != '' THEN excluded.github_login ELSE installations.github_login END,
			setup_action = excluded.setup_action`,
		inst.ID,
		inst.SubjectID,
		inst.GitHubLogin,
		inst.SetupAction,
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving installation %d: %w", inst.ID, err)
	}
	return nil
}

func (db *DB) GetInstallation(ctx context.Context, id int64) (*model.Installation, error) {
	var inst model.Installation
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, subject_id, github_login, setup_action, created_at
		 FROM installations WHERE id = ?`,
		id,
	).Scan(&inst.ID, &inst.SubjectID, &inst.GitHubLogin, &inst.SetupAction, &inst.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("installation", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting installation %d: %w", id, err)
	}
	return &inst, nil
}
