package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/repositories"
)

const (
	notificationEventSent      = "notification.sent"
	notificationEventFailed    = "notification.failed"
	notificationEventDisabled  = "notification.disabled"
	notificationEventLogFailed = "notification.log_failed"
	notificationEventDropped   = "notification.dropped"
	notificationEventNoTarget  = "notification.no_recipient"
	lifecycleEventPublished    = "lifecycle.published"
	lifecycleEventPublishError = "lifecycle.publish_failed"

	notificationTypeSMS        = "sms"
	defaultNotificationTimeout = 15 * time.Second
)

// Pickup times are shown to customers in Indian Standard Time.
var pickupZone = time.FixedZone("IST", 5*60*60+30*60)

// NotificationServiceDeps wires the notification dispatcher.
type NotificationServiceDeps struct {
	Sender    SMSSender
	Log       repositories.NotificationLogRepository
	Settings  SettingsService
	Admins    repositories.AdminRepository
	Customers repositories.CustomerRepository
	// AdminPhone overrides the admin looked up in the database.
	AdminPhone  string
	Publisher   LifecyclePublisher
	Timeout     time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	sender     SMSSender
	log        repositories.NotificationLogRepository
	settings   SettingsService
	admins     repositories.AdminRepository
	customers  repositories.CustomerRepository
	adminPhone string
	publisher  LifecyclePublisher
	timeout    time.Duration
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

var _ Notifier = (*notificationService)(nil)

// NewNotificationService constructs the Notifier.
func NewNotificationService(deps NotificationServiceDeps) (Notifier, error) {
	if deps.Sender == nil {
		return nil, errors.New("notification service: sender is required")
	}
	if deps.Log == nil {
		return nil, errors.New("notification service: log repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("notification service: settings service is required")
	}
	if deps.Admins == nil || deps.Customers == nil {
		return nil, errors.New("notification service: admin and customer repositories are required")
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		sender:     deps.Sender,
		log:        deps.Log,
		settings:   deps.Settings,
		admins:     deps.Admins,
		customers:  deps.Customers,
		adminPhone: strings.TrimSpace(deps.AdminPhone),
		publisher:  deps.Publisher,
		timeout:    timeout,
		clock:      func() time.Time { return clock().UTC() },
		newID:      newID,
		logger:     logger,
	}, nil
}

// Notify sends the message unless notifications are disabled. Every call is recorded in the
// notification log, disabled ones as failed.
func (s *notificationService) Notify(ctx context.Context, phone, message string) bool {
	enabled := false
	if settings, err := s.settings.Current(ctx); err != nil {
		s.logger(ctx, notificationEventFailed, map[string]any{"phone": phone, "error": err.Error()})
	} else {
		enabled = settings.NotificationsEnabled
	}

	sent := false
	switch {
	case !enabled:
		s.logger(ctx, notificationEventDisabled, map[string]any{"phone": phone, "message": message})
	default:
		if err := s.sender.Send(ctx, phone, message); err != nil {
			s.logger(ctx, notificationEventFailed, map[string]any{"phone": phone, "error": err.Error()})
		} else {
			sent = true
			s.logger(ctx, notificationEventSent, map[string]any{"phone": phone})
		}
	}

	status := domain.NotificationFailed
	if sent {
		status = domain.NotificationSent
	}
	if err := s.log.Append(ctx, domain.NotificationLog{
		Type:    notificationTypeSMS,
		ToPhone: phone,
		Content: message,
		Status:  status,
		SentAt:  s.clock(),
	}); err != nil {
		s.logger(ctx, notificationEventLogFailed, map[string]any{"phone": phone, "error": err.Error()})
	}
	return sent
}

// Dispatch handles the event on a background goroutine with its own deadline so it never
// delays or fails the request that triggered it.
func (s *notificationService) Dispatch(event NotificationEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger(context.Background(), notificationEventDropped, map[string]any{
			"kind": string(event.Kind), "requestId": event.Request.ID,
		})
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.handle(ctx, event)
	}()
}

// Drain stops accepting events and waits for in-flight ones.
func (s *notificationService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *notificationService) handle(ctx context.Context, event NotificationEvent) {
	s.publish(ctx, event)

	request := event.Request
	var (
		phone   string
		message string
	)
	switch event.Kind {
	case NotifyRequestCreated:
		phone = s.resolveAdminPhone(ctx)
		message = fmt.Sprintf("New service request #%d has been created and needs review.", request.ID)
	case NotifyQuoteAccepted:
		phone = s.resolveAdminPhone(ctx)
		message = fmt.Sprintf("Service request #%d quote has been accepted by customer.", request.ID)
	case NotifyQuoteSent:
		if !request.HasQuote() {
			return
		}
		phone = s.resolveCustomerPhone(ctx, event)
		message = fmt.Sprintf("Your service request #%d has received a quote: ₹%d - ₹%d. Please check your portal to accept.",
			request.ID, *request.QuoteMin, *request.QuoteMax)
	case NotifyPickupScheduled:
		at := event.ScheduledPickupAt
		if at == nil {
			at = request.ScheduledPickupAt
		}
		if at == nil {
			return
		}
		phone = s.resolveCustomerPhone(ctx, event)
		message = fmt.Sprintf("Your pickup for service request #%d is scheduled for %s.",
			request.ID, at.In(pickupZone).Format("02 Jan 2006, 03:04 PM MST"))
	case NotifyPickedUp:
		phone = s.resolveCustomerPhone(ctx, event)
		message = fmt.Sprintf("Your item for service request #%d has been picked up and is on the way to our shop.", request.ID)
	case NotifyDelivered:
		phone = s.resolveCustomerPhone(ctx, event)
		message = fmt.Sprintf("Your repaired item for service request #%d has been delivered. Thank you for choosing our service!", request.ID)
	default:
		return
	}

	if phone == "" {
		s.logger(ctx, notificationEventNoTarget, map[string]any{"kind": string(event.Kind), "requestId": request.ID})
		return
	}
	s.Notify(ctx, phone, message)
}

func (s *notificationService) publish(ctx context.Context, event NotificationEvent) {
	if s.publisher == nil {
		return
	}
	msg := LifecycleEvent{
		EventID:    s.newID(),
		Type:       string(event.Kind),
		RequestID:  event.Request.ID,
		Status:     event.Request.Status,
		ActorRole:  event.Actor.Role,
		ActorID:    event.Actor.ID,
		OccurredAt: s.clock(),
	}
	messageID, err := s.publisher.PublishLifecycleEvent(ctx, msg)
	if err != nil {
		s.logger(ctx, lifecycleEventPublishError, map[string]any{
			"eventId": msg.EventID, "requestId": msg.RequestID, "error": err.Error(),
		})
		return
	}
	s.logger(ctx, lifecycleEventPublished, map[string]any{
		"eventId": msg.EventID, "requestId": msg.RequestID, "messageId": messageID,
	})
}

func (s *notificationService) resolveAdminPhone(ctx context.Context) string {
	if s.adminPhone != "" {
		return s.adminPhone
	}
	admin, err := s.admins.First(ctx)
	if err != nil {
		if !isNotFound(err) {
			s.logger(ctx, notificationEventFailed, map[string]any{"recipient": "admin", "error": err.Error()})
		}
		return ""
	}
	return admin.Phone
}

func (s *notificationService) resolveCustomerPhone(ctx context.Context, event NotificationEvent) string {
	if phone := strings.TrimSpace(event.CustomerPhone); phone != "" {
		return phone
	}
	customer, err := s.customers.FindByID(ctx, event.Request.CustomerID)
	if err != nil {
		s.logger(ctx, notificationEventFailed, map[string]any{
			"recipient": "customer", "customerId": event.Request.CustomerID, "error": err.Error(),
		})
		return ""
	}
	return customer.Phone
}
