package services

import (
	"context"
	"errors"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/repositories"
)

const (
	settingsEventUpdated = "settings.updated"

	defaultMaxMediaBytes    = int64(100 * 1024 * 1024)
	defaultMaxVideoDuration = 60
	defaultMaxVoiceDuration = 600
)

// SettingsServiceDeps wires the settings service.
type SettingsServiceDeps struct {
	Repository repositories.SettingsRepository
	// Defaults apply until an admin saves the first version.
	Defaults Settings
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	repo     repositories.SettingsRepository
	defaults Settings
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ SettingsService = (*settingsService)(nil)

// NewSettingsService constructs a SettingsService.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Repository == nil {
		return nil, errors.New("settings service: repository is required")
	}
	defaults := deps.Defaults
	if defaults.MaxMediaBytes <= 0 {
		defaults.MaxMediaBytes = defaultMaxMediaBytes
	}
	if defaults.MaxVideoDuration <= 0 {
		defaults.MaxVideoDuration = defaultMaxVideoDuration
	}
	if defaults.MaxVoiceDuration <= 0 {
		defaults.MaxVoiceDuration = defaultMaxVoiceDuration
	}
	defaults.Version = 0

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settingsService{
		repo:     deps.Repository,
		defaults: defaults,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Current returns the stored settings, or the defaults at version 0 before the first save.
func (s *settingsService) Current(ctx context.Context) (Settings, error) {
	settings, err := s.repo.Current(ctx)
	if err != nil {
		if isNotFound(err) {
			return s.defaults, nil
		}
		return Settings{}, mapRepositoryError(err, "settings")
	}
	return settings, nil
}

func (s *settingsService) Update(ctx context.Context, actor Principal, cmd UpdateSettingsCommand) (Settings, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return Settings{}, err
	}
	if cmd.NotificationsEnabled == nil && cmd.MaxMediaBytes == nil && cmd.MaxVideoDuration == nil && cmd.MaxVoiceDuration == nil {
		return Settings{}, validation(CodeValidation, "at least one setting must be provided")
	}
	if cmd.MaxMediaBytes != nil && *cmd.MaxMediaBytes <= 0 {
		return Settings{}, validation(CodeValidation, "max_media_bytes must be positive")
	}
	if cmd.MaxVideoDuration != nil && *cmd.MaxVideoDuration <= 0 {
		return Settings{}, validation(CodeValidation, "max_video_duration must be positive")
	}
	if cmd.MaxVoiceDuration != nil && *cmd.MaxVoiceDuration <= 0 {
		return Settings{}, validation(CodeValidation, "max_voice_duration must be positive")
	}

	current, err := s.Current(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := current
	if cmd.NotificationsEnabled != nil {
		next.NotificationsEnabled = *cmd.NotificationsEnabled
	}
	if cmd.MaxMediaBytes != nil {
		next.MaxMediaBytes = *cmd.MaxMediaBytes
	}
	if cmd.MaxVideoDuration != nil {
		next.MaxVideoDuration = *cmd.MaxVideoDuration
	}
	if cmd.MaxVoiceDuration != nil {
		next.MaxVoiceDuration = *cmd.MaxVoiceDuration
	}
	next.UpdatedAt = s.clock()

	saved, err := s.repo.Save(ctx, next, current.Version)
	if err != nil {
		if isConflict(err) {
			return Settings{}, wrapError(ErrConflict, CodeConflict, "settings were changed by another admin, reload and retry", err)
		}
		return Settings{}, mapRepositoryError(err, "settings")
	}
	s.logger(ctx, settingsEventUpdated, map[string]any{
		"adminId":              actor.ID,
		"version":              saved.Version,
		"notificationsEnabled": saved.NotificationsEnabled,
	})
	return saved, nil
}
