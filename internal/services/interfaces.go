package services

import (
	"context"
	"time"

	"github.com/watchfix/api/internal/domain"
	pstorage "github.com/watchfix/api/internal/platform/storage"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Principal          = domain.Principal
	ServiceRequest     = domain.ServiceRequest
	Media              = domain.Media
	Settings           = domain.Settings
	SystemHealthReport = domain.SystemHealthReport
)

// ObjectStore relocates and inspects objects in the media bucket.
type ObjectStore interface {
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
	Head(ctx context.Context, key string) (pstorage.ObjectAttrs, error)
}

// URLSigner issues signed upload and download URLs.
type URLSigner interface {
	PresignUpload(ctx context.Context, key string, opts pstorage.UploadOptions) (pstorage.SignedURL, error)
	PresignDownload(ctx context.Context, key string, expiresIn time.Duration) (pstorage.SignedURL, error)
}

// TokenIssuer signs bearer tokens for principals.
type TokenIssuer interface {
	Issue(principal domain.Principal) (string, time.Time, error)
}

// SMSSender delivers text messages.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// ReverseGeocoder turns coordinates into a formatted address.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// LifecyclePublisher publishes request lifecycle events.
type LifecyclePublisher interface {
	PublishLifecycleEvent(ctx context.Context, event LifecycleEvent) (string, error)
}

// LifecycleEvent is the payload published whenever a request changes.
type LifecycleEvent struct {
	EventID    string               `json:"eventId"`
	Type       string               `json:"type"`
	RequestID  int64                `json:"requestId"`
	Status     domain.RequestStatus `json:"status"`
	ActorRole  domain.Role          `json:"actorRole"`
	ActorID    int64                `json:"actorId"`
	OccurredAt time.Time            `json:"occurredAt"`
}

// RequestService drives the service request lifecycle.
type RequestService interface {
	Create(ctx context.Context, actor Principal, cmd CreateRequestCommand) (ServiceRequest, error)
	ListMine(ctx context.Context, actor Principal) ([]domain.RequestSummary, error)
	Get(ctx context.Context, actor Principal, requestID int64) (RequestDetail, error)
	AcceptQuote(ctx context.Context, actor Principal, requestID int64, accept bool) (ServiceRequest, error)

	ListForAdmin(ctx context.Context, actor Principal, filter AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error)
	SendQuote(ctx context.Context, actor Principal, requestID int64, cmd QuoteCommand) (ServiceRequest, error)
	Confirm(ctx context.Context, actor Principal, requestID int64, scheduledPickupAt *time.Time) (ServiceRequest, error)
	AssignDelivery(ctx context.Context, actor Principal, requestID int64, deliveryPersonID int64) (ServiceRequest, error)
	MarkReceived(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error)
	MarkInRepair(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error)
	MarkReadyForPayment(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error)
	MarkPaid(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error)

	ListAssignments(ctx context.Context, actor Principal) ([]domain.Assignment, error)
	MarkPickup(ctx context.Context, actor Principal, requestID int64, cmd DeliveryPhotoCommand) (ServiceRequest, error)
	MarkOutForDelivery(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error)
	MarkDelivered(ctx context.Context, actor Principal, requestID int64, cmd DeliveryPhotoCommand) (ServiceRequest, error)
}

// CreateRequestCommand is the customer's new request.
type CreateRequestCommand struct {
	Items         []CreateItemCommand
	ShopID        *int64
	MediaIDs      []int64
	AddressManual string
	Description   *string
	GPSLat        *float64
	GPSLon        *float64
}

// CreateItemCommand describes one article to repair.
type CreateItemCommand struct {
	Category    domain.ItemCategory
	Title       *string
	Description *string
}

// QuoteCommand is the admin's price range for a request.
type QuoteCommand struct {
	Min      int64
	Max      int64
	Note     *string
	VoiceKey *string
}

// DeliveryPhotoCommand carries the optional proof photo of a pickup or drop-off.
type DeliveryPhotoCommand struct {
	PhotoKey *string
	Notes    *string
}

// AdminRequestFilter narrows and pages the admin listing.
type AdminRequestFilter struct {
	Status *domain.RequestStatus
	ShopID *int64
	Page   int
	Limit  int
}

// RequestDetail is a request with everything a reader may see.
type RequestDetail struct {
	Request       ServiceRequest
	Items         []domain.ServiceItem
	Media         []MediaView
	QuoteVoiceURL *string
	Parties       *domain.RequestParties
}

// MediaView is a media row with a freshly signed download URL.
type MediaView struct {
	Media
	URL          string
	URLExpiresAt time.Time
}

// MediaService implements the upload half of media binding plus reads and deletes.
type MediaService interface {
	Presign(ctx context.Context, actor Principal, cmd PresignCommand) (PresignResult, error)
	Register(ctx context.Context, actor Principal, cmd RegisterMediaCommand) (Media, error)
	ListByRequest(ctx context.Context, actor Principal, requestID int64) ([]MediaView, error)
	Delete(ctx context.Context, actor Principal, mediaID int64) error
}

// PresignCommand requests an upload URL. RequestID targets an existing request directly.
type PresignCommand struct {
	Filename    string
	ContentType string
	Type        domain.MediaType
	ShopID      *int64
	RequestID   *int64
}

// PresignResult is the upload URL and the key to register afterwards.
type PresignResult struct {
	URL       string
	Method    string
	Headers   map[string]string
	Key       string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// RegisterMediaCommand records an uploaded object.
type RegisterMediaCommand struct {
	Key              string
	Type             domain.MediaType
	OriginalFilename string
	SizeBytes        int64
	DurationSeconds  *int
}

// OTPService issues and checks one-time codes.
type OTPService interface {
	CreateSession(ctx context.Context, phone string, purpose domain.OTPPurpose) (string, error)
	Verify(ctx context.Context, phone, code string, purpose domain.OTPPurpose) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// AuthService runs the OTP login flows of every role.
type AuthService interface {
	RequestCustomerOTP(ctx context.Context, phone string) (OTPDispatch, error)
	VerifyCustomerOTP(ctx context.Context, phone, code string) (CustomerLogin, error)
	RegisterCustomer(ctx context.Context, cmd RegisterCustomerCommand) (CustomerLogin, error)
	RequestDeliveryOTP(ctx context.Context, phone string) (OTPDispatch, error)
	VerifyDeliveryOTP(ctx context.Context, phone, code string) (StaffLogin[domain.DeliveryPerson], error)
	RequestAdminOTP(ctx context.Context, phone string) (OTPDispatch, error)
	VerifyAdminOTP(ctx context.Context, phone, code string) (StaffLogin[domain.Admin], error)
	// CheckPrincipal refuses principals whose account no longer permits acting.
	CheckPrincipal(ctx context.Context, principal Principal) error
}

// OTPDispatch reports where a code was sent.
type OTPDispatch struct {
	Phone     string
	ExpiresIn time.Duration
}

// IssuedToken is a signed bearer token.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// CustomerLogin is the outcome of a customer OTP verification or registration.
// New phones get IsNewUser and no token until they register.
type CustomerLogin struct {
	IsNewUser bool
	Customer  *domain.Customer
	Token     *IssuedToken
}

// StaffLogin is the outcome of a delivery or admin OTP verification.
type StaffLogin[T any] struct {
	Account T
	Token   IssuedToken
}

// RegisterCustomerCommand creates a customer after OTP verification.
type RegisterCustomerCommand struct {
	Phone          string
	Name           *string
	Email          *string
	DefaultAddress *string
	Latitude       *float64
	Longitude      *float64
}

// CustomerService serves the customer's own profile.
type CustomerService interface {
	Profile(ctx context.Context, actor Principal) (domain.Customer, error)
	UpdateProfile(ctx context.Context, actor Principal, cmd UpdateProfileCommand) (domain.Customer, error)
	Categories() []CategoryOption
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodeResult, error)
}

// UpdateProfileCommand changes the non-nil profile fields.
type UpdateProfileCommand struct {
	Name           *string
	Email          *string
	DefaultAddress *string
	Latitude       *float64
	Longitude      *float64
}

// CategoryOption is an item category with its display label.
type CategoryOption struct {
	Value domain.ItemCategory
	Label string
}

// GeocodeResult is a reverse geocoded address.
type GeocodeResult struct {
	Address   string
	Latitude  float64
	Longitude float64
}

// AdminService manages delivery personnel and shops.
type AdminService interface {
	CreateDeliveryPerson(ctx context.Context, actor Principal, cmd CreateDeliveryPersonCommand) (domain.DeliveryPerson, error)
	ListDeliveryPersonnel(ctx context.Context, actor Principal, active *bool) ([]domain.DeliveryPerson, error)
	SetDeliveryPersonActive(ctx context.Context, actor Principal, id int64, active bool) (domain.DeliveryPerson, error)
	ListShops(ctx context.Context, actor Principal) ([]domain.Shop, error)
	CreateShop(ctx context.Context, actor Principal, cmd CreateShopCommand) (domain.Shop, error)
}

// CreateDeliveryPersonCommand registers delivery staff.
type CreateDeliveryPersonCommand struct {
	Phone string
	Name  string
}

// CreateShopCommand registers a shop.
type CreateShopCommand struct {
	Name    string
	Address string
	Phone   string
}

// SettingsService reads and updates runtime settings.
type SettingsService interface {
	Current(ctx context.Context) (Settings, error)
	Update(ctx context.Context, actor Principal, cmd UpdateSettingsCommand) (Settings, error)
}

// UpdateSettingsCommand changes the non-nil settings.
type UpdateSettingsCommand struct {
	NotificationsEnabled *bool
	MaxMediaBytes        *int64
	MaxVideoDuration     *int
	MaxVoiceDuration     *int
}

// Notifier sends best-effort lifecycle notifications.
type Notifier interface {
	// Notify sends one SMS now and reports whether it was delivered.
	Notify(ctx context.Context, phone, message string) bool
	// Dispatch schedules an event notification after the triggering transaction committed.
	Dispatch(event NotificationEvent)
	// Drain waits for in-flight notifications or until ctx ends.
	Drain(ctx context.Context) error
}

// NotificationEvent describes a lifecycle change worth telling someone about.
type NotificationEvent struct {
	Kind              NotificationKind
	Request           ServiceRequest
	Actor             Principal
	CustomerPhone     string
	ScheduledPickupAt *time.Time
}

// NotificationKind enumerates the lifecycle notifications.
type NotificationKind string

const (
	NotifyRequestCreated   NotificationKind = "request_created"
	NotifyQuoteSent        NotificationKind = "quote_sent"
	NotifyQuoteAccepted    NotificationKind = "quote_accepted"
	NotifyPickupScheduled  NotificationKind = "pickup_scheduled"
	NotifyPickedUp         NotificationKind = "picked_up"
	NotifyDelivered        NotificationKind = "delivered"
	NotifyDeliveryAssigned NotificationKind = "delivery_assigned"
	NotifyStatusChanged    NotificationKind = "status_changed"
)

// SystemService aggregates health and maintenance endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	CleanupOTPSessions(ctx context.Context) (int64, error)
}
