package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

// NotificationLogRepository appends to notifications_log.
type NotificationLogRepository struct {
	db *sql.DB
}

var _ repositories.NotificationLogRepository = (*NotificationLogRepository)(nil)

// NewNotificationLogRepository constructs the repository.
func NewNotificationLogRepository(db *sql.DB) (*NotificationLogRepository, error) {
	if db == nil {
		return nil, errors.New("notification log repository requires a database")
	}
	return &NotificationLogRepository{db: db}, nil
}

// Append records one notification attempt.
func (r *NotificationLogRepository) Append(ctx context.Context, entry domain.NotificationLog) error {
	if r == nil || r.db == nil {
		return errors.New("notification log repository not initialised")
	}
	_, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO notifications_log (type, to_phone, content, status, sent_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.Type, entry.ToPhone, entry.Content, string(entry.Status), nowOr(entry.SentAt))
	return database.WrapError("notifications_log.append", err)
}
