package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

const settingsColumns = `version, notifications_enabled, max_media_bytes, max_video_duration, max_voice_duration, updated_at`

// SettingsRepository stores the single versioned app_settings row.
type SettingsRepository struct {
	db *sql.DB
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs the repository.
func NewSettingsRepository(db *sql.DB) (*SettingsRepository, error) {
	if db == nil {
		return nil, errors.New("settings repository requires a database")
	}
	return &SettingsRepository{db: db}, nil
}

// Current returns the stored settings.
func (r *SettingsRepository) Current(ctx context.Context) (domain.Settings, error) {
	if r == nil || r.db == nil {
		return domain.Settings{}, errors.New("settings repository not initialised")
	}
	settings, err := scanSettings(database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM app_settings WHERE id = 1`))
	if err != nil {
		return domain.Settings{}, database.WrapError("app_settings.current", err)
	}
	return settings, nil
}

// Save writes version expectedVersion+1. Version 0 means no row has been written yet.
func (r *SettingsRepository) Save(ctx context.Context, settings domain.Settings, expectedVersion int64) (domain.Settings, error) {
	if r == nil || r.db == nil {
		return domain.Settings{}, errors.New("settings repository not initialised")
	}
	conn := database.Conn(ctx, r.db)
	args := []any{
		expectedVersion + 1, settings.NotificationsEnabled, settings.MaxMediaBytes,
		settings.MaxVideoDuration, settings.MaxVoiceDuration, nowOr(settings.UpdatedAt),
	}

	var row *sql.Row
	if expectedVersion == 0 {
		row = conn.QueryRowContext(ctx, `
			INSERT INTO app_settings (id, `+settingsColumns+`)
			VALUES (1, $1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+settingsColumns, args...)
	} else {
		row = conn.QueryRowContext(ctx, `
			UPDATE app_settings
			SET version = $1, notifications_enabled = $2, max_media_bytes = $3,
				max_video_duration = $4, max_voice_duration = $5, updated_at = $6
			WHERE id = 1 AND version = $7
			RETURNING `+settingsColumns, append(args, expectedVersion)...)
	}

	saved, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Settings{}, database.Conflict("app_settings.save", "settings version %d is stale", expectedVersion)
	}
	if err != nil {
		return domain.Settings{}, database.WrapError("app_settings.save", err)
	}
	return saved, nil
}

func scanSettings(row scanner) (domain.Settings, error) {
	var settings domain.Settings
	if err := row.Scan(&settings.Version, &settings.NotificationsEnabled, &settings.MaxMediaBytes,
		&settings.MaxVideoDuration, &settings.MaxVoiceDuration, &settings.UpdatedAt); err != nil {
		return domain.Settings{}, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}
