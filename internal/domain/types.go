package domain

import (
	"strings"
	"time"
)

// RequestStatus is the lifecycle status of a service request.
type RequestStatus string

const (
	StatusRequested       RequestStatus = "requested"
	StatusQuoted          RequestStatus = "quoted"
	StatusAccepted        RequestStatus = "accepted"
	StatusScheduled       RequestStatus = "scheduled"
	StatusPickedUp        RequestStatus = "picked_up"
	StatusReceivedShop    RequestStatus = "received_shop"
	StatusInRepair        RequestStatus = "in_repair"
	StatusReadyForPayment RequestStatus = "ready_for_payment"
	StatusPaymentReceived RequestStatus = "payment_received"
	StatusOutForDelivery  RequestStatus = "out_for_delivery"
	StatusDelivered       RequestStatus = "delivered"
	// StatusCompleted is accepted when read back from storage but no operation produces it.
	StatusCompleted RequestStatus = "completed"
)

var knownStatuses = map[RequestStatus]struct{}{
	StatusRequested:       {},
	StatusQuoted:          {},
	StatusAccepted:        {},
	StatusScheduled:       {},
	StatusPickedUp:        {},
	StatusReceivedShop:    {},
	StatusInRepair:        {},
	StatusReadyForPayment: {},
	StatusPaymentReceived: {},
	StatusOutForDelivery:  {},
	StatusDelivered:       {},
	StatusCompleted:       {},
}

// ParseRequestStatus normalises and validates a status string.
func ParseRequestStatus(value string) (RequestStatus, bool) {
	status := RequestStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := knownStatuses[status]
	return status, ok
}

// IsTerminal reports whether no further transition is expected from the status.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCompleted
}

// ItemCategory classifies a service item.
type ItemCategory string

const (
	CategoryWatch         ItemCategory = "watch"
	CategoryClock         ItemCategory = "clock"
	CategoryTimepiece     ItemCategory = "timepiece"
	CategorySmartWearable ItemCategory = "smart_wearable"
	CategoryCustom        ItemCategory = "custom"
)

// ItemCategories lists supported categories in display order.
func ItemCategories() []ItemCategory {
	return []ItemCategory{CategoryWatch, CategoryClock, CategoryTimepiece, CategorySmartWearable, CategoryCustom}
}

// Valid reports whether the category is supported.
func (c ItemCategory) Valid() bool {
	for _, known := range ItemCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// MediaType enumerates uploadable media kinds.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaVoice MediaType = "voice"
)

// Valid reports whether the media type is supported.
func (t MediaType) Valid() bool {
	switch t {
	case MediaImage, MediaVideo, MediaVoice:
		return true
	}
	return false
}

// Folder returns the storage folder used for the media type.
func (t MediaType) Folder() string {
	switch t {
	case MediaImage:
		return "images"
	case MediaVideo:
		return "videos"
	default:
		return "audio"
	}
}

// MediaTypeForFolder is the inverse of MediaType.Folder.
func MediaTypeForFolder(folder string) (MediaType, bool) {
	switch folder {
	case "images":
		return MediaImage, true
	case "videos":
		return MediaVideo, true
	case "audio":
		return MediaVoice, true
	}
	return "", false
}

// Role identifies the kind of authenticated principal.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDelivery Role = "delivery"
	RoleAdmin    Role = "admin"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleDelivery || r == RoleAdmin
}

// Principal is the authenticated actor attached to a request.
type Principal struct {
	Role  Role
	ID    int64
	Phone string
}

// UploaderType records which kind of principal uploaded a media object.
type UploaderType string

const (
	UploaderCustomer UploaderType = "customer"
	UploaderAdmin    UploaderType = "admin"
	UploaderDelivery UploaderType = "delivery"
)

// UploaderTypeForRole maps a principal role onto the uploader type recorded for media.
func UploaderTypeForRole(role Role) UploaderType {
	switch role {
	case RoleAdmin:
		return UploaderAdmin
	case RoleDelivery:
		return UploaderDelivery
	default:
		return UploaderCustomer
	}
}

// ServiceRequest is one repair job.
type ServiceRequest struct {
	ID                int64
	ShopID            int64
	CustomerID        int64
	DeliveryPersonID  *int64
	Status            RequestStatus
	Description       *string
	AddressManual     string
	GPSLat            *float64
	GPSLon            *float64
	QuoteMin          *int64
	QuoteMax          *int64
	QuoteNote         *string
	QuoteVoiceKey     *string
	ScheduledPickupAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasQuote reports whether both quote bounds are present.
func (r ServiceRequest) HasQuote() bool {
	return r.QuoteMin != nil && r.QuoteMax != nil
}

// AssignedTo reports whether the request is assigned to the delivery person.
func (r ServiceRequest) AssignedTo(deliveryPersonID int64) bool {
	return r.DeliveryPersonID != nil && *r.DeliveryPersonID == deliveryPersonID
}

// VisibleTo applies the read visibility rules for the principal.
func (r ServiceRequest) VisibleTo(p Principal) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleCustomer:
		return r.CustomerID == p.ID
	case RoleDelivery:
		return r.AssignedTo(p.ID)
	}
	return false
}

// ServiceItem is one article submitted for repair within a request.
type ServiceItem struct {
	ID                 int64
	RequestID          int64
	Category           ItemCategory
	Title              *string
	ProblemDescription *string
	CreatedAt          time.Time
}

// MediaBinding tags a media row as either unbound (uploaded ahead of its request) or bound to a request.
type MediaBinding struct {
	requestID int64
}

// Unbound returns the binding of media that has no owning request yet.
func Unbound() MediaBinding { return MediaBinding{} }

// BoundTo returns the binding of media owned by the request.
func BoundTo(requestID int64) MediaBinding { return MediaBinding{requestID: requestID} }

// IsBound reports whether the media belongs to a request.
func (b MediaBinding) IsBound() bool { return b.requestID > 0 }

// RequestID returns the owning request when bound.
func (b MediaBinding) RequestID() (int64, bool) {
	return b.requestID, b.requestID > 0
}

// Media is an uploaded asset stored in object storage.
type Media struct {
	ID               int64
	Binding          MediaBinding
	UploaderType     UploaderType
	UploaderID       int64
	Type             MediaType
	Key              string
	OriginalFilename string
	SizeBytes        int64
	DurationSeconds  *int
	CreatedAt        time.Time
}

// OwnedByCustomer reports whether the media was uploaded by the given customer.
func (m Media) OwnedByCustomer(customerID int64) bool {
	return m.UploaderType == UploaderCustomer && m.UploaderID == customerID
}

// OTPPurpose scopes a one-time code to a login flow.
type OTPPurpose string

const (
	OTPCustomerLogin OTPPurpose = "customer_login"
	OTPDeliveryLogin OTPPurpose = "delivery_login"
	OTPAdminInvite   OTPPurpose = "admin_invite"
)

// OTPSession stores a hashed one-time code.
type OTPSession struct {
	ID        int64
	Phone     string
	CodeHash  string
	Purpose   OTPPurpose
	ExpiresAt time.Time
	Verified  bool
	CreatedAt time.Time
}

// Customer is an end user requesting repairs.
type Customer struct {
	ID             int64
	Phone          string
	Name           *string
	Email          *string
	DefaultAddress *string
	Latitude       *float64
	Longitude      *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Admin operates the shop.
type Admin struct {
	ID    int64
	Phone string
	Name  string
}

// DeliveryPerson performs pickups and drop-offs.
type DeliveryPerson struct {
	ID        int64
	Phone     string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shop is a repair location.
type Shop struct {
	ID        int64
	Name      string
	Address   string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotificationStatus records the outcome of a notification attempt.
type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// NotificationLog is an append-only record of a notification attempt.
type NotificationLog struct {
	ID      int64
	Type    string
	ToPhone string
	Content string
	Status  NotificationStatus
	SentAt  time.Time
}

// Settings holds the runtime-adjustable limits and flags.
type Settings struct {
	Version              int64
	NotificationsEnabled bool
	MaxMediaBytes        int64
	MaxVideoDuration     int
	MaxVoiceDuration     int
	UpdatedAt            time.Time
}

// RequestSummary is a customer-facing list row.
type RequestSummary struct {
	ServiceRequest
	ItemsCount int
	MediaCount int
}

// RequestParties carries the display data of the people and shop attached to a request.
type RequestParties struct {
	CustomerName           *string
	CustomerPhone          *string
	CustomerEmail          *string
	CustomerDefaultAddress *string
	ShopName               *string
	ShopAddress            *string
	DeliveryPersonName     *string
	DeliveryPersonPhone    *string
}

// AdminRequestSummary is an admin list row.
type AdminRequestSummary struct {
	ServiceRequest
	Parties    RequestParties
	ItemsCount int
}

// Assignment is a delivery list row.
type Assignment struct {
	ServiceRequest
	Parties RequestParties
}

// Page is an offset-paginated result set.
type Page[T any] struct {
	Items []T
	Page  int
	Limit int
	Total int
}

// Pages returns the number of pages for the result set.
func (p Page[T]) Pages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// HealthStatus summarises a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for readiness.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
