package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

const customerColumns = `id, phone, name, email, default_address, latitude, longitude, created_at, updated_at`

// CustomerRepository stores customer accounts; phone numbers are unique.
type CustomerRepository struct {
	db *sql.DB
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs the repository.
func NewCustomerRepository(db *sql.DB) (*CustomerRepository, error) {
	if db == nil {
		return nil, errors.New("customer repository requires a database")
	}
	return &CustomerRepository{db: db}, nil
}

// Insert creates a customer. A duplicate phone yields a conflict error.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if r == nil || r.db == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	now := nowOr(customer.CreatedAt)
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO customers (phone, name, email, default_address, latitude, longitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+customerColumns,
		customer.Phone, nullable(customer.Name), nullable(customer.Email), nullable(customer.DefaultAddress),
		nullable(customer.Latitude), nullable(customer.Longitude), now)
	saved, err := scanCustomer(row)
	if err != nil {
		return domain.Customer{}, database.WrapError("customers.insert", err)
	}
	return saved, nil
}

// FindByID loads a customer.
func (r *CustomerRepository) FindByID(ctx context.Context, id int64) (domain.Customer, error) {
	return r.findOne(ctx, "customers.find", `WHERE id = $1`, id)
}

// FindByPhone loads a customer by phone.
func (r *CustomerRepository) FindByPhone(ctx context.Context, phone string) (domain.Customer, error) {
	return r.findOne(ctx, "customers.find_phone", `WHERE phone = $1`, phone)
}

func (r *CustomerRepository) findOne(ctx context.Context, op, where string, arg any) (domain.Customer, error) {
	if r == nil || r.db == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers `+where, arg)
	customer, err := scanCustomer(row)
	if err != nil {
		return domain.Customer{}, database.WrapError(op, err)
	}
	return customer, nil
}

// Update changes the non-nil profile fields.
func (r *CustomerRepository) Update(ctx context.Context, id int64, update repositories.CustomerUpdate) (domain.Customer, error) {
	if r == nil || r.db == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.Email != nil {
		set("email", *update.Email)
	}
	if update.DefaultAddress != nil {
		set("default_address", *update.DefaultAddress)
	}
	if update.Latitude != nil {
		set("latitude", *update.Latitude)
	}
	if update.Longitude != nil {
		set("longitude", *update.Longitude)
	}
	set("updated_at", nowOr(update.UpdatedAt))
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE customers SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), customerColumns)
	saved, err := scanCustomer(database.Conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Customer{}, database.WrapError("customers.update", err)
	}
	return saved, nil
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var (
		customer            domain.Customer
		name, email, addr   sql.NullString
		latitude, longitude sql.NullFloat64
	)
	if err := row.Scan(&customer.ID, &customer.Phone, &name, &email, &addr, &latitude, &longitude,
		&customer.CreatedAt, &customer.UpdatedAt); err != nil {
		return domain.Customer{}, err
	}
	customer.Name = stringPtr(name)
	customer.Email = stringPtr(email)
	customer.DefaultAddress = stringPtr(addr)
	customer.Latitude = float64Ptr(latitude)
	customer.Longitude = float64Ptr(longitude)
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return customer, nil
}
