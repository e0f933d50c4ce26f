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

// AdminRepository reads administrators.
type AdminRepository struct {
	db *sql.DB
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)

// NewAdminRepository constructs the repository.
func NewAdminRepository(db *sql.DB) (*AdminRepository, error) {
	if db == nil {
		return nil, errors.New("admin repository requires a database")
	}
	return &AdminRepository{db: db}, nil
}

// FindByPhone loads an admin by phone.
func (r *AdminRepository) FindByPhone(ctx context.Context, phone string) (domain.Admin, error) {
	return r.findOne(ctx, "admins.find_phone", `SELECT id, phone, name FROM admins WHERE phone = $1`, phone)
}

// First returns the admin with the lowest id.
func (r *AdminRepository) First(ctx context.Context) (domain.Admin, error) {
	return r.findOne(ctx, "admins.first", `SELECT id, phone, name FROM admins ORDER BY id LIMIT 1`)
}

func (r *AdminRepository) findOne(ctx context.Context, op, query string, args ...any) (domain.Admin, error) {
	if r == nil || r.db == nil {
		return domain.Admin{}, errors.New("admin repository not initialised")
	}
	var admin domain.Admin
	if err := database.Conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&admin.ID, &admin.Phone, &admin.Name); err != nil {
		return domain.Admin{}, database.WrapError(op, err)
	}
	return admin, nil
}

const deliveryColumns = `id, phone, name, active, created_at, updated_at`

// DeliveryPersonRepository stores delivery personnel; phone numbers are unique.
type DeliveryPersonRepository struct {
	db *sql.DB
}

var _ repositories.DeliveryPersonRepository = (*DeliveryPersonRepository)(nil)

// NewDeliveryPersonRepository constructs the repository.
func NewDeliveryPersonRepository(db *sql.DB) (*DeliveryPersonRepository, error) {
	if db == nil {
		return nil, errors.New("delivery person repository requires a database")
	}
	return &DeliveryPersonRepository{db: db}, nil
}

// Insert creates a delivery person. A duplicate phone yields a conflict error.
func (r *DeliveryPersonRepository) Insert(ctx context.Context, person domain.DeliveryPerson) (domain.DeliveryPerson, error) {
	if r == nil || r.db == nil {
		return domain.DeliveryPerson{}, errors.New("delivery person repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO delivery_personnel (phone, name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+deliveryColumns,
		person.Phone, person.Name, person.Active, nowOr(person.CreatedAt))
	saved, err := scanDeliveryPerson(row)
	if err != nil {
		return domain.DeliveryPerson{}, database.WrapError("delivery_personnel.insert", err)
	}
	return saved, nil
}

// FindByID loads a delivery person.
func (r *DeliveryPersonRepository) FindByID(ctx context.Context, id int64) (domain.DeliveryPerson, error) {
	return r.findOne(ctx, "delivery_personnel.find", `WHERE id = $1`, id)
}

// FindByPhone loads a delivery person by phone.
func (r *DeliveryPersonRepository) FindByPhone(ctx context.Context, phone string) (domain.DeliveryPerson, error) {
	return r.findOne(ctx, "delivery_personnel.find_phone", `WHERE phone = $1`, phone)
}

func (r *DeliveryPersonRepository) findOne(ctx context.Context, op, where string, arg any) (domain.DeliveryPerson, error) {
	if r == nil || r.db == nil {
		return domain.DeliveryPerson{}, errors.New("delivery person repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM delivery_personnel `+where, arg)
	person, err := scanDeliveryPerson(row)
	if err != nil {
		return domain.DeliveryPerson{}, database.WrapError(op, err)
	}
	return person, nil
}

// List returns personnel ordered by name, optionally filtered by the active flag.
func (r *DeliveryPersonRepository) List(ctx context.Context, active *bool) ([]domain.DeliveryPerson, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("delivery person repository not initialised")
	}
	query := `SELECT ` + deliveryColumns + ` FROM delivery_personnel`
	var args []any
	if active != nil {
		query += ` WHERE active = $1`
		args = append(args, *active)
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.WrapError("delivery_personnel.list", err)
	}
	defer rows.Close()

	var people []domain.DeliveryPerson
	for rows.Next() {
		person, err := scanDeliveryPerson(rows)
		if err != nil {
			return nil, database.WrapError("delivery_personnel.list", err)
		}
		people = append(people, person)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("delivery_personnel.list", err)
	}
	return people, nil
}

// SetActive toggles the active flag.
func (r *DeliveryPersonRepository) SetActive(ctx context.Context, id int64, active bool, at time.Time) (domain.DeliveryPerson, error) {
	if r == nil || r.db == nil {
		return domain.DeliveryPerson{}, errors.New("delivery person repository not initialised")
	}
	row := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE delivery_personnel SET active = $1, updated_at = $2 WHERE id = $3 RETURNING `+deliveryColumns,
		active, nowOr(at), id)
	person, err := scanDeliveryPerson(row)
	if err != nil {
		return domain.DeliveryPerson{}, database.WrapError("delivery_personnel.set_active", err)
	}
	return person, nil
}

func scanDeliveryPerson(row scanner) (domain.DeliveryPerson, error) {
	var person domain.DeliveryPerson
	if err := row.Scan(&person.ID, &person.Phone, &person.Name, &person.Active, &person.CreatedAt, &person.UpdatedAt); err != nil {
		return domain.DeliveryPerson{}, err
	}
	person.CreatedAt = person.CreatedAt.UTC()
	person.UpdatedAt = person.UpdatedAt.UTC()
	return person, nil
}
