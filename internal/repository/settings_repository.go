package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-insights-bridge/internal/models"
)

// SettingsRepository persists plugin-level key/value settings such as the
// anonymization salt.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs the repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get fetches a single setting by key. A missing key yields an error wrapping
// sql.ErrNoRows.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	const query = `SELECT key, value, updated_at FROM plugin_settings WHERE key = $1`
	var setting models.Setting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return &setting, nil
}

// Upsert inserts or replaces a setting value.
func (r *SettingsRepository) Upsert(ctx context.Context, key, value string) error {
	const query = `INSERT INTO plugin_settings (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

// InsertIfAbsent stores value only when key does not exist yet. It reports whether this
// call created the row, so concurrent first writers can detect that they lost the race.
func (r *SettingsRepository) InsertIfAbsent(ctx context.Context, key, value string) (bool, error) {
	const query = `INSERT INTO plugin_settings (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert setting %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert setting %s: %w", key, err)
	}
	return affected == 1, nil
}
