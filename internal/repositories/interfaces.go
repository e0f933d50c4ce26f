package repositories

import (
	"context"
	"time"

	"github.com/watchfix/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Requests() ServiceRequestRepository
	Items() ServiceItemRepository
	Media() MediaRepository
	OTPSessions() OTPSessionRepository
	Customers() CustomerRepository
	Admins() AdminRepository
	DeliveryPersonnel() DeliveryPersonRepository
	Shops() ShopRepository
	Notifications() NotificationLogRepository
	Settings() SettingsRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one database transaction. Repositories called with
// the ctx passed to fn participate in the transaction; fn returning an error rolls everything back.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ServiceRequestRepository persists service requests. Rows are never deleted.
type ServiceRequestRepository interface {
	Insert(ctx context.Context, request domain.ServiceRequest) (domain.ServiceRequest, error)
	FindByID(ctx context.Context, id int64) (domain.ServiceRequest, error)
	FindParties(ctx context.Context, id int64) (domain.RequestParties, error)
	Update(ctx context.Context, id int64, update RequestUpdate) (domain.ServiceRequest, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]domain.RequestSummary, error)
	ListForAdmin(ctx context.Context, filter AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error)
	ListAssignments(ctx context.Context, deliveryPersonID int64, statuses []domain.RequestStatus) ([]domain.Assignment, error)
}

// RequestUpdate lists the columns an operation changes; nil fields are left untouched.
type RequestUpdate struct {
	Status            *domain.RequestStatus
	Quote             *Quote
	ScheduledPickupAt *time.Time
	DeliveryPersonID  *int64
	UpdatedAt         time.Time
}

// Quote is the price range attached to a request by the admin.
type Quote struct {
	Min      int64
	Max      int64
	Note     *string
	VoiceKey *string
}

// AdminRequestFilter narrows the admin request listing.
type AdminRequestFilter struct {
	Status *domain.RequestStatus
	ShopID *int64
	Page   int
	Limit  int
}

// ServiceItemRepository stores the immutable items of a request.
type ServiceItemRepository interface {
	Insert(ctx context.Context, item domain.ServiceItem) (domain.ServiceItem, error)
	ListByRequest(ctx context.Context, requestID int64) ([]domain.ServiceItem, error)
}

// MediaRepository stores uploaded media rows.
type MediaRepository interface {
	Insert(ctx context.Context, media domain.Media) (domain.Media, error)
	FindByID(ctx context.Context, id int64) (domain.Media, error)
	// LockByID reads the row with a row lock held until the surrounding transaction ends.
	LockByID(ctx context.Context, id int64) (domain.Media, error)
	// Bind records the relocated key and owning request of an unbound row.
	Bind(ctx context.Context, id int64, key string, requestID int64) error
	ListByRequest(ctx context.Context, requestID int64) ([]domain.Media, error)
	Delete(ctx context.Context, id int64) error
}

// OTPSessionRepository stores hashed one-time codes.
type OTPSessionRepository interface {
	Insert(ctx context.Context, session domain.OTPSession) (domain.OTPSession, error)
	CountSince(ctx context.Context, phone string, since time.Time) (int, error)
	// FindLatestActive returns the newest unverified, unexpired session for the phone and purpose.
	FindLatestActive(ctx context.Context, phone string, purpose domain.OTPPurpose, now time.Time) (domain.OTPSession, error)
	MarkVerified(ctx context.Context, id int64) error
	// DeleteExpired removes sessions that expired before expiredBefore and were created before
	// createdBefore. Rows inside the rate window must survive so CountSince still sees them.
	DeleteExpired(ctx context.Context, expiredBefore, createdBefore time.Time) (int64, error)
}

// CustomerRepository stores customer accounts.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	FindByID(ctx context.Context, id int64) (domain.Customer, error)
	FindByPhone(ctx context.Context, phone string) (domain.Customer, error)
	Update(ctx context.Context, id int64, update CustomerUpdate) (domain.Customer, error)
}

// CustomerUpdate lists the profile fields to change; nil fields are left untouched.
type CustomerUpdate struct {
	Name           *string
	Email          *string
	DefaultAddress *string
	Latitude       *float64
	Longitude      *float64
	UpdatedAt      time.Time
}

// AdminRepository reads shop administrators.
type AdminRepository interface {
	FindByPhone(ctx context.Context, phone string) (domain.Admin, error)
	// First returns the admin with the lowest id.
	First(ctx context.Context) (domain.Admin, error)
}

// DeliveryPersonRepository stores delivery personnel.
type DeliveryPersonRepository interface {
	Insert(ctx context.Context, person domain.DeliveryPerson) (domain.DeliveryPerson, error)
	FindByID(ctx context.Context, id int64) (domain.DeliveryPerson, error)
	FindByPhone(ctx context.Context, phone string) (domain.DeliveryPerson, error)
	List(ctx context.Context, active *bool) ([]domain.DeliveryPerson, error)
	SetActive(ctx context.Context, id int64, active bool, at time.Time) (domain.DeliveryPerson, error)
}

// ShopRepository stores repair shops.
type ShopRepository interface {
	Insert(ctx context.Context, shop domain.Shop) (domain.Shop, error)
	FindByID(ctx context.Context, id int64) (domain.Shop, error)
	// First returns the shop with the lowest id.
	First(ctx context.Context) (domain.Shop, error)
	List(ctx context.Context) ([]domain.Shop, error)
}

// NotificationLogRepository appends notification attempts.
type NotificationLogRepository interface {
	Append(ctx context.Context, entry domain.NotificationLog) error
}

// SettingsRepository stores the single versioned settings row.
type SettingsRepository interface {
	// Current returns a not-found error until the first Save.
	Current(ctx context.Context) (domain.Settings, error)
	// Save writes settings as version expectedVersion+1 and fails with a conflict when another
	// writer got there first.
	Save(ctx context.Context, settings domain.Settings, expectedVersion int64) (domain.Settings, error)
}

// HealthRepository reports on backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
