package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

// ServiceItemRepository stores request items.
type ServiceItemRepository struct {
	db *sql.DB
}

var _ repositories.ServiceItemRepository = (*ServiceItemRepository)(nil)

// NewServiceItemRepository constructs the repository.
func NewServiceItemRepository(db *sql.DB) (*ServiceItemRepository, error) {
	if db == nil {
		return nil, errors.New("service item repository requires a database")
	}
	return &ServiceItemRepository{db: db}, nil
}

// Insert stores one item.
func (r *ServiceItemRepository) Insert(ctx context.Context, item domain.ServiceItem) (domain.ServiceItem, error) {
	if r == nil || r.db == nil {
		return domain.ServiceItem{}, errors.New("service item repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO service_items (request_id, category, title, problem_description, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, request_id, category, title, problem_description, created_at`,
		item.RequestID, string(item.Category), nullable(item.Title), nullable(item.ProblemDescription), nowOr(item.CreatedAt))
	saved, err := scanItem(row)
	if err != nil {
		return domain.ServiceItem{}, database.WrapError("service_items.insert", err)
	}
	return saved, nil
}

// ListByRequest returns the items of a request in insertion order.
func (r *ServiceItemRepository) ListByRequest(ctx context.Context, requestID int64) ([]domain.ServiceItem, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("service item repository not initialised")
	}
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, request_id, category, title, problem_description, created_at
		FROM service_items WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, database.WrapError("service_items.list", err)
	}
	defer rows.Close()

	var items []domain.ServiceItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, database.WrapError("service_items.list", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("service_items.list", err)
	}
	return items, nil
}

func scanItem(row scanner) (domain.ServiceItem, error) {
	var (
		item        domain.ServiceItem
		category    string
		title       sql.NullString
		description sql.NullString
	)
	if err := row.Scan(&item.ID, &item.RequestID, &category, &title, &description, &item.CreatedAt); err != nil {
		return domain.ServiceItem{}, err
	}
	item.Category = domain.ItemCategory(category)
	item.Title = stringPtr(title)
	item.ProblemDescription = stringPtr(description)
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}
