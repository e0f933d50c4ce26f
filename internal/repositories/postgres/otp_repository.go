package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

const otpColumns = `id, phone, code_hash, purpose, expires_at, verified, created_at`

// OTPSessionRepository stores hashed one-time codes.
type OTPSessionRepository struct {
	db *sql.DB
}

var _ repositories.OTPSessionRepository = (*OTPSessionRepository)(nil)

// NewOTPSessionRepository constructs the repository.
func NewOTPSessionRepository(db *sql.DB) (*OTPSessionRepository, error) {
	if db == nil {
		return nil, errors.New("otp session repository requires a database")
	}
	return &OTPSessionRepository{db: db}, nil
}

// Insert stores a session.
func (r *OTPSessionRepository) Insert(ctx context.Context, session domain.OTPSession) (domain.OTPSession, error) {
	if r == nil || r.db == nil {
		return domain.OTPSession{}, errors.New("otp session repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO otp_sessions (phone, code_hash, purpose, expires_at, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+otpColumns,
		session.Phone, session.CodeHash, string(session.Purpose), session.ExpiresAt.UTC(), session.Verified, nowOr(session.CreatedAt))
	saved, err := scanOTP(row)
	if err != nil {
		return domain.OTPSession{}, database.WrapError("otp_sessions.insert", err)
	}
	return saved, nil
}

// CountSince counts sessions created for the phone at or after since, across purposes.
func (r *OTPSessionRepository) CountSince(ctx context.Context, phone string, since time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("otp session repository not initialised")
	}
	var count int
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM otp_sessions WHERE phone = $1 AND created_at >= $2`, phone, since.UTC()).Scan(&count)
	if err != nil {
		return 0, database.WrapError("otp_sessions.count", err)
	}
	return count, nil
}

// FindLatestActive returns the newest unverified, unexpired session.
func (r *OTPSessionRepository) FindLatestActive(ctx context.Context, phone string, purpose domain.OTPPurpose, now time.Time) (domain.OTPSession, error) {
	if r == nil || r.db == nil {
		return domain.OTPSession{}, errors.New("otp session repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+otpColumns+` FROM otp_sessions
		WHERE phone = $1 AND purpose = $2 AND verified = FALSE AND expires_at > $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, phone, string(purpose), now.UTC())
	session, err := scanOTP(row)
	if err != nil {
		return domain.OTPSession{}, database.WrapError("otp_sessions.latest", err)
	}
	return session, nil
}

// MarkVerified flags the session as consumed.
func (r *OTPSessionRepository) MarkVerified(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("otp session repository not initialised")
	}
	res, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE otp_sessions SET verified = TRUE WHERE id = $1 AND verified = FALSE`, id)
	if err != nil {
		return database.WrapError("otp_sessions.verify", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return database.Conflict("otp_sessions.verify", "otp session %d already verified", id)
	}
	return nil
}

// DeleteExpired removes expired sessions created before createdBefore.
func (r *OTPSessionRepository) DeleteExpired(ctx context.Context, expiredBefore, createdBefore time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("otp session repository not initialised")
	}
	res, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM otp_sessions WHERE expires_at < $1 AND created_at < $2`, expiredBefore.UTC(), createdBefore.UTC())
	if err != nil {
		return 0, database.WrapError("otp_sessions.cleanup", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, database.WrapError("otp_sessions.cleanup", err)
	}
	return deleted, nil
}

func scanOTP(row scanner) (domain.OTPSession, error) {
	var (
		session domain.OTPSession
		purpose string
	)
	if err := row.Scan(&session.ID, &session.Phone, &session.CodeHash, &purpose, &session.ExpiresAt,
		&session.Verified, &session.CreatedAt); err != nil {
		return domain.OTPSession{}, err
	}
	session.Purpose = domain.OTPPurpose(purpose)
	session.ExpiresAt = session.ExpiresAt.UTC()
	session.CreatedAt = session.CreatedAt.UTC()
	return session, nil
}
