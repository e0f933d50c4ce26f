package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

const mediaColumns = `id, request_id, uploader_type, uploader_id, type, s3_key, original_filename,
	size_bytes, duration_seconds, created_at`

// MediaRepository stores media rows. An unbound row has a NULL request_id.
type MediaRepository struct {
	db *sql.DB
}

var _ repositories.MediaRepository = (*MediaRepository)(nil)

// NewMediaRepository constructs the repository.
func NewMediaRepository(db *sql.DB) (*MediaRepository, error) {
	if db == nil {
		return nil, errors.New("media repository requires a database")
	}
	return &MediaRepository{db: db}, nil
}

// Insert stores a media row.
func (r *MediaRepository) Insert(ctx context.Context, media domain.Media) (domain.Media, error) {
	if r == nil || r.db == nil {
		return domain.Media{}, errors.New("media repository not initialised")
	}
	var requestID any
	if id, ok := media.Binding.RequestID(); ok {
		requestID = id
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO media (request_id, uploader_type, uploader_id, type, s3_key, original_filename,
			size_bytes, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+mediaColumns,
		requestID, string(media.UploaderType), media.UploaderID, string(media.Type), media.Key,
		media.OriginalFilename, media.SizeBytes, nullable(media.DurationSeconds), nowOr(media.CreatedAt))
	saved, err := scanMedia(row)
	if err != nil {
		return domain.Media{}, database.WrapError("media.insert", err)
	}
	return saved, nil
}

// FindByID loads a media row.
func (r *MediaRepository) FindByID(ctx context.Context, id int64) (domain.Media, error) {
	return r.find(ctx, "media.find", `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id)
}

// LockByID loads a media row FOR UPDATE. Outside a transaction the lock is released immediately.
func (r *MediaRepository) LockByID(ctx context.Context, id int64) (domain.Media, error) {
	return r.find(ctx, "media.lock", `SELECT `+mediaColumns+` FROM media WHERE id = $1 FOR UPDATE`, id)
}

func (r *MediaRepository) find(ctx context.Context, op, query string, id int64) (domain.Media, error) {
	if r == nil || r.db == nil {
		return domain.Media{}, errors.New("media repository not initialised")
	}
	media, err := scanMedia(database.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return domain.Media{}, database.WrapError(op, err)
	}
	return media, nil
}

// Bind records the relocated key and owning request. Rows that are already bound are left alone
// and reported as a conflict.
func (r *MediaRepository) Bind(ctx context.Context, id int64, key string, requestID int64) error {
	if r == nil || r.db == nil {
		return errors.New("media repository not initialised")
	}
	res, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE media SET s3_key = $1, request_id = $2 WHERE id = $3 AND request_id IS NULL`, key, requestID, id)
	if err != nil {
		return database.WrapError("media.bind", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return database.WrapError("media.bind", err)
	}
	if affected == 0 {
		return database.Conflict("media.bind", "media %d is missing or already bound", id)
	}
	return nil
}

// ListByRequest returns the media of a request in upload order.
func (r *MediaRepository) ListByRequest(ctx context.Context, requestID int64) ([]domain.Media, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("media repository not initialised")
	}
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, database.WrapError("media.list", err)
	}
	defer rows.Close()

	var items []domain.Media
	for rows.Next() {
		media, err := scanMedia(rows)
		if err != nil {
			return nil, database.WrapError("media.list", err)
		}
		items = append(items, media)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("media.list", err)
	}
	return items, nil
}

// Delete removes a media row.
func (r *MediaRepository) Delete(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("media repository not initialised")
	}
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return database.WrapError("media.delete", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return database.NotFound("media.delete", "media %d not found", id)
	}
	return nil
}

func scanMedia(row scanner) (domain.Media, error) {
	var (
		media        domain.Media
		requestID    sql.NullInt64
		uploaderType string
		mediaType    string
		duration     sql.NullInt32
	)
	if err := row.Scan(&media.ID, &requestID, &uploaderType, &media.UploaderID, &mediaType, &media.Key,
		&media.OriginalFilename, &media.SizeBytes, &duration, &media.CreatedAt); err != nil {
		return domain.Media{}, err
	}
	media.Binding = domain.Unbound()
	if requestID.Valid {
		media.Binding = domain.BoundTo(requestID.Int64)
	}
	media.UploaderType = domain.UploaderType(uploaderType)
	media.Type = domain.MediaType(mediaType)
	media.DurationSeconds = intPtr(duration)
	media.CreatedAt = media.CreatedAt.UTC()
	return media, nil
}
