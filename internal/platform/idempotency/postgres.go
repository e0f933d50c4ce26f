package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/watchfix/api/internal/platform/database"
)

// PostgresStore implements Store on the idempotency_keys table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: postgres store requires a database")
	}
	return &PostgresStore{db: db}, nil
}

// Reserve claims the key for the fingerprint. Expired records are reclaimed in place.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key)
	expires := now.Add(ttl)

	var claimed string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, fingerprint, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, 'pending', $3, $3, $4)
		ON CONFLICT (key_hash) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    status = 'pending',
		    response_status = NULL,
		    response_headers = NULL,
		    response_body = NULL,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= $3
		RETURNING key_hash`, id, fingerprint, now, expires).Scan(&claimed)
	switch {
	case err == nil:
		return Reservation{State: ReservationStateNew, Record: Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   expires,
		}}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Reservation{}, database.WrapError("idempotency_keys.reserve", err)
	}

	// A live record holds the key.
	record, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	record.Key = key
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse stores the response for replay and extends the record's lifetime.
func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	headers, err := json.Marshal(replayHeaders(resp.Headers))
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = 'completed', response_status = $3, response_headers = $4, response_body = $5,
		    updated_at = $6, expires_at = $7
		WHERE key_hash = $1 AND fingerprint = $2`,
		recordID(key), fingerprint, resp.Status, headers, resp.Body, now, now.Add(ttl))
	if err != nil {
		return database.WrapError("idempotency_keys.save", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key_hash = $1 AND fingerprint = $2`,
		recordID(key), fingerprint)
	if err != nil {
		return database.WrapError("idempotency_keys.release", err)
	}
	return nil
}

// CleanupExpired removes up to limit expired records.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key_hash IN (
			SELECT key_hash FROM idempotency_keys WHERE expires_at <= $1 ORDER BY expires_at LIMIT $2
		)`, now.UTC(), limit)
	if err != nil {
		return 0, database.WrapError("idempotency_keys.cleanup", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *PostgresStore) load(ctx context.Context, id string) (Record, error) {
	var (
		record         Record
		status         string
		responseStatus sql.NullInt64
		headers        []byte
		body           []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, status, response_status, response_headers, response_body, created_at, updated_at, expires_at
		FROM idempotency_keys WHERE key_hash = $1`, id).
		Scan(&record.Fingerprint, &status, &responseStatus, &headers, &body, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt)
	if err != nil {
		return Record{}, database.WrapError("idempotency_keys.load", err)
	}
	record.Status = Status(status)
	if responseStatus.Valid {
		record.ResponseStatus = int(responseStatus.Int64)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &record.ResponseHeaders); err != nil {
			return Record{}, err
		}
	}
	if len(body) > 0 {
		record.ResponseBody = body
	}
	return record, nil
}
