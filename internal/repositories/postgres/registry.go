package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/repositories"
)

// Registry wires every PostgreSQL repository over one connection pool.
type Registry struct {
	tx   *database.TxRunner
	pool *sql.DB

	requests      *ServiceRequestRepository
	items         *ServiceItemRepository
	media         *MediaRepository
	otp           *OTPSessionRepository
	customers     *CustomerRepository
	admins        *AdminRepository
	delivery      *DeliveryPersonRepository
	shops         *ShopRepository
	notifications *NotificationLogRepository
	settings      *SettingsRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. health may be nil, in which case readiness pings the pool.
func NewRegistry(pool *sql.DB, health repositories.HealthRepository, opts ...database.TxOption) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry requires a database")
	}
	runner, err := database.NewTxRunner(pool, opts...)
	if err != nil {
		return nil, err
	}
	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return database.Ping(ctx, pool) },
		}})
		if err != nil {
			return nil, err
		}
	}

	r := &Registry{tx: runner, pool: pool, health: health}
	r.requests, _ = NewServiceRequestRepository(pool)
	r.items, _ = NewServiceItemRepository(pool)
	r.media, _ = NewMediaRepository(pool)
	r.otp, _ = NewOTPSessionRepository(pool)
	r.customers, _ = NewCustomerRepository(pool)
	r.admins, _ = NewAdminRepository(pool)
	r.delivery, _ = NewDeliveryPersonRepository(pool)
	r.shops, _ = NewShopRepository(pool)
	r.notifications, _ = NewNotificationLogRepository(pool)
	r.settings, _ = NewSettingsRepository(pool)
	return r, nil
}

// Close releases the connection pool.
func (r *Registry) Close(context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	if err := r.pool.Close(); err != nil {
		return fmt.Errorf("postgres registry: close: %w", err)
	}
	return nil
}

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.tx.RunInTx(ctx, fn)
}

func (r *Registry) Requests() repositories.ServiceRequestRepository          { return r.requests }
func (r *Registry) Items() repositories.ServiceItemRepository                { return r.items }
func (r *Registry) Media() repositories.MediaRepository                      { return r.media }
func (r *Registry) OTPSessions() repositories.OTPSessionRepository           { return r.otp }
func (r *Registry) Customers() repositories.CustomerRepository               { return r.customers }
func (r *Registry) Admins() repositories.AdminRepository                     { return r.admins }
func (r *Registry) DeliveryPersonnel() repositories.DeliveryPersonRepository { return r.delivery }
func (r *Registry) Shops() repositories.ShopRepository                       { return r.shops }
func (r *Registry) Notifications() repositories.NotificationLogRepository    { return r.notifications }
func (r *Registry) Settings() repositories.SettingsRepository                { return r.settings }
func (r *Registry) Health() repositories.HealthRepository                    { return r.health }
