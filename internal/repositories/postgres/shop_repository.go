package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

const shopColumns = `id, name, address, phone, created_at, updated_at`

// ShopRepository stores repair shops.
type ShopRepository struct {
	db *sql.DB
}

var _ repositories.ShopRepository = (*ShopRepository)(nil)

// NewShopRepository constructs the repository.
func NewShopRepository(db *sql.DB) (*ShopRepository, error) {
	if db == nil {
		return nil, errors.New("shop repository requires a database")
	}
	return &ShopRepository{db: db}, nil
}

// Insert creates a shop.
func (r *ShopRepository) Insert(ctx context.Context, shop domain.Shop) (domain.Shop, error) {
	if r == nil || r.db == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO shops (name, address, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+shopColumns,
		shop.Name, shop.Address, shop.Phone, nowOr(shop.CreatedAt))
	saved, err := scanShop(row)
	if err != nil {
		return domain.Shop{}, database.WrapError("shops.insert", err)
	}
	return saved, nil
}

// FindByID loads a shop.
func (r *ShopRepository) FindByID(ctx context.Context, id int64) (domain.Shop, error) {
	if r == nil || r.db == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	shop, err := scanShop(database.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, id))
	if err != nil {
		return domain.Shop{}, database.WrapError("shops.find", err)
	}
	return shop, nil
}

// First returns the shop with the lowest id.
func (r *ShopRepository) First(ctx context.Context) (domain.Shop, error) {
	if r == nil || r.db == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	shop, err := scanShop(database.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY id LIMIT 1`))
	if err != nil {
		return domain.Shop{}, database.WrapError("shops.first", err)
	}
	return shop, nil
}

// List returns shops newest first.
func (r *ShopRepository) List(ctx context.Context) ([]domain.Shop, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("shop repository not initialised")
	}
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `SELECT `+shopColumns+` FROM shops ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, database.WrapError("shops.list", err)
	}
	defer rows.Close()

	var shops []domain.Shop
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, database.WrapError("shops.list", err)
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("shops.list", err)
	}
	return shops, nil
}

func scanShop(row scanner) (domain.Shop, error) {
	var shop domain.Shop
	if err := row.Scan(&shop.ID, &shop.Name, &shop.Address, &shop.Phone, &shop.CreatedAt, &shop.UpdatedAt); err != nil {
		return domain.Shop{}, err
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	shop.UpdatedAt = shop.UpdatedAt.UTC()
	return shop, nil
}
