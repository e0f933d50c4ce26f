package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/pagination"
	"github.com/watchfix/api/internal/platform/storage"
	"github.com/watchfix/api/internal/platform/textutil"
	"github.com/watchfix/api/internal/repositories"
)

const (
	requestEventCreated      = "request.created"
	requestEventCreateFailed = "request.create_failed"
	requestEventTransition   = "request.transition"
	requestEventAssigned     = "request.delivery_assigned"
	requestEventQuoted       = "request.quoted"

	maxAddressManualLength = 1000
	maxDescriptionLength   = 2000
	maxItemTitleLength     = 255
	maxItemProblemLength   = 1000
	maxQuoteNoteLength     = 2000
	maxDeliveryNotesLength = 1000

	defaultAdminPageSize = 20
	maxAdminPageSize     = 100

	pickupPhotoFilename   = "pickup_photo.jpg"
	deliveryPhotoFilename = "delivery_photo.jpg"
)

var adminPageOptions = pagination.Options{DefaultLimit: defaultAdminPageSize, MaxLimit: maxAdminPageSize}

// assignmentStatuses are the states in which a request shows up on a delivery person's list.
var assignmentStatuses = []domain.RequestStatus{
	domain.StatusScheduled,
	domain.StatusPickedUp,
	domain.StatusOutForDelivery,
}

// RequestServiceDeps wires the request lifecycle service.
type RequestServiceDeps struct {
	UnitOfWork     repositories.UnitOfWork
	Requests       repositories.ServiceRequestRepository
	Items          repositories.ServiceItemRepository
	Media          repositories.MediaRepository
	Shops          repositories.ShopRepository
	Delivery       repositories.DeliveryPersonRepository
	Objects        ObjectStore
	Signer         URLSigner
	Notifier       Notifier
	DefaultShopID  int64
	DownloadURLTTL time.Duration
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type requestService struct {
	uow         repositories.UnitOfWork
	requests    repositories.ServiceRequestRepository
	items       repositories.ServiceItemRepository
	media       repositories.MediaRepository
	delivery    repositories.DeliveryPersonRepository
	shops       shopResolver
	binder      mediaBinder
	objects     ObjectStore
	signer      URLSigner
	notifier    Notifier
	downloadTTL time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

var _ RequestService = (*requestService)(nil)

// NewRequestService constructs a RequestService.
func NewRequestService(deps RequestServiceDeps) (RequestService, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("request service: unit of work is required")
	case deps.Requests == nil || deps.Items == nil || deps.Media == nil || deps.Shops == nil || deps.Delivery == nil:
		return nil, errors.New("request service: repositories are required")
	case deps.Objects == nil || deps.Signer == nil:
		return nil, errors.New("request service: object store and url signer are required")
	case deps.Notifier == nil:
		return nil, errors.New("request service: notifier is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.DownloadURLTTL
	if ttl <= 0 {
		ttl = defaultDownloadURLTTL
	}
	return &requestService{
		uow:         deps.UnitOfWork,
		requests:    deps.Requests,
		items:       deps.Items,
		media:       deps.Media,
		delivery:    deps.Delivery,
		shops:       shopResolver{shops: deps.Shops, defaultID: deps.DefaultShopID},
		binder:      mediaBinder{media: deps.Media, objects: deps.Objects, logger: logger},
		objects:     deps.Objects,
		signer:      deps.Signer,
		notifier:    deps.Notifier,
		downloadTTL: ttl,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// Create stores the request with its items and binds the customer's uploads to it in one
// transaction. Objects already relocated when the transaction fails are moved back.
func (s *requestService) Create(ctx context.Context, actor Principal, cmd CreateRequestCommand) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleCustomer); err != nil {
		return ServiceRequest{}, err
	}
	address := textutil.CleanText(cmd.AddressManual, maxAddressManualLength)
	if address == "" {
		return ServiceRequest{}, validation(CodeValidation, "address_manual is required")
	}
	if len(cmd.Items) == 0 {
		return ServiceRequest{}, validation(CodeValidation, "at least one service item is required")
	}
	for i, item := range cmd.Items {
		if !item.Category.Valid() {
			return ServiceRequest{}, validation(CodeValidation, fmt.Sprintf("items[%d].category is not supported", i))
		}
	}
	if err := checkCoordinates(cmd.GPSLat, cmd.GPSLon); err != nil {
		return ServiceRequest{}, err
	}

	shop, err := s.shops.resolve(ctx, cmd.ShopID)
	if err != nil {
		return ServiceRequest{}, err
	}

	now := s.clock()
	var (
		created     ServiceRequest
		relocations []relocation
	)
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		relocations = nil
		request, err := s.requests.Insert(ctx, domain.ServiceRequest{
			ShopID:        shop.ID,
			CustomerID:    actor.ID,
			Status:        domain.StatusRequested,
			Description:   textutil.CleanOptional(cmd.Description, maxDescriptionLength),
			AddressManual: address,
			GPSLat:        cmd.GPSLat,
			GPSLon:        cmd.GPSLon,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return mapRepositoryError(err, "service request")
		}
		for _, item := range cmd.Items {
			if _, err := s.items.Insert(ctx, domain.ServiceItem{
				RequestID:          request.ID,
				Category:           item.Category,
				Title:              textutil.CleanOptional(item.Title, maxItemTitleLength),
				ProblemDescription: textutil.CleanOptional(item.Description, maxItemProblemLength),
				CreatedAt:          now,
			}); err != nil {
				return mapRepositoryError(err, "service item")
			}
		}
		relocations, err = s.binder.bind(ctx, actor.ID, request.ID, cmd.MediaIDs)
		if err != nil {
			return err
		}
		created = request
		return nil
	})
	if err != nil {
		if len(relocations) > 0 {
			s.binder.revert(ctx, relocations)
		}
		s.logger(ctx, requestEventCreateFailed, map[string]any{"customerId": actor.ID, "error": err.Error()})
		return ServiceRequest{}, err
	}

	s.logger(ctx, requestEventCreated, map[string]any{
		"requestId": created.ID, "customerId": actor.ID, "items": len(cmd.Items), "media": len(relocations),
	})
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyRequestCreated, Request: created, Actor: actor})
	return created, nil
}

func (s *requestService) ListMine(ctx context.Context, actor Principal) ([]domain.RequestSummary, error) {
	if err := requireRole(actor, domain.RoleCustomer); err != nil {
		return nil, err
	}
	summaries, err := s.requests.ListByCustomer(ctx, actor.ID)
	if err != nil {
		return nil, mapRepositoryError(err, "service request")
	}
	return summaries, nil
}

// Get returns the request with items, media and signed URLs. Staff also get the parties.
func (s *requestService) Get(ctx context.Context, actor Principal, requestID int64) (RequestDetail, error) {
	if err := requireRole(actor, domain.RoleCustomer, domain.RoleDelivery, domain.RoleAdmin); err != nil {
		return RequestDetail{}, err
	}
	request, err := visibleRequest(ctx, s.requests, actor, requestID)
	if err != nil {
		return RequestDetail{}, err
	}
	items, err := s.items.ListByRequest(ctx, request.ID)
	if err != nil {
		return RequestDetail{}, mapRepositoryError(err, "service item")
	}
	media, err := s.media.ListByRequest(ctx, request.ID)
	if err != nil {
		return RequestDetail{}, mapRepositoryError(err, "media")
	}
	views, err := signMedia(ctx, s.signer, s.downloadTTL, media)
	if err != nil {
		return RequestDetail{}, err
	}

	detail := RequestDetail{Request: request, Items: items, Media: views}
	if request.QuoteVoiceKey != nil && *request.QuoteVoiceKey != "" {
		signed, err := s.signer.PresignDownload(ctx, *request.QuoteVoiceKey, s.downloadTTL)
		if err != nil {
			return RequestDetail{}, wrapError(ErrUpstream, CodeStorage, "failed to generate download url", err)
		}
		detail.QuoteVoiceURL = &signed.URL
	}
	if actor.Role != domain.RoleCustomer {
		parties, err := s.requests.FindParties(ctx, request.ID)
		if err != nil {
			return RequestDetail{}, mapRepositoryError(err, "service request")
		}
		detail.Parties = &parties
	}
	return detail, nil
}

func (s *requestService) AcceptQuote(ctx context.Context, actor Principal, requestID int64, accept bool) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleCustomer); err != nil {
		return ServiceRequest{}, err
	}
	if !accept {
		return ServiceRequest{}, validation(CodeInvalidRequest, "accept must be true")
	}
	request, err := visibleRequest(ctx, s.requests, actor, requestID)
	if err != nil {
		return ServiceRequest{}, err
	}
	if request.Status != domain.StatusQuoted {
		return ServiceRequest{}, invalidStatus(fmt.Sprintf("request is %s, only quoted requests can be accepted", request.Status))
	}
	if !request.HasQuote() {
		return ServiceRequest{}, newError(ErrInvalidStatus, CodeNoQuote, "request has no quote to accept")
	}
	updated, err := s.transition(ctx, actor, request, domain.StatusAccepted)
	if err != nil {
		return ServiceRequest{}, err
	}
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyQuoteAccepted, Request: updated, Actor: actor})
	return updated, nil
}

func (s *requestService) ListForAdmin(ctx context.Context, actor Principal, filter AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Page[domain.AdminRequestSummary]{}, err
	}
	page := pagination.Normalize(filter.Page, filter.Limit, adminPageOptions)
	result, err := s.requests.ListForAdmin(ctx, repositories.AdminRequestFilter{
		Status: filter.Status,
		ShopID: filter.ShopID,
		Page:   page.Page,
		Limit:  page.Limit,
	})
	if err != nil {
		return domain.Page[domain.AdminRequestSummary]{}, mapRepositoryError(err, "service request")
	}
	return result, nil
}

// SendQuote attaches the price range whatever the current status.
func (s *requestService) SendQuote(ctx context.Context, actor Principal, requestID int64, cmd QuoteCommand) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return ServiceRequest{}, err
	}
	if cmd.Min < 0 {
		return ServiceRequest{}, validation(CodeValidation, "quote_min must not be negative")
	}
	if cmd.Max < cmd.Min {
		return ServiceRequest{}, validation(CodeValidation, "quote_max must be greater than or equal to quote_min")
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}

	voiceKey := trimOptional(cmd.VoiceKey)
	if voiceKey != nil {
		if err := s.checkVoiceNote(ctx, request, *voiceKey); err != nil {
			return ServiceRequest{}, err
		}
	}

	status := domain.StatusQuoted
	updated, err := s.requests.Update(ctx, request.ID, repositories.RequestUpdate{
		Status: &status,
		Quote: &repositories.Quote{
			Min:      cmd.Min,
			Max:      cmd.Max,
			Note:     textutil.CleanOptional(cmd.Note, maxQuoteNoteLength),
			VoiceKey: voiceKey,
		},
		UpdatedAt: s.clock(),
	})
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	s.logger(ctx, requestEventQuoted, map[string]any{
		"requestId": updated.ID, "adminId": actor.ID, "from": string(request.Status), "min": cmd.Min, "max": cmd.Max,
	})
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyQuoteSent, Request: updated, Actor: actor})
	return updated, nil
}

// Confirm moves the request to scheduled when a pickup time is given, otherwise to accepted.
func (s *requestService) Confirm(ctx context.Context, actor Principal, requestID int64, scheduledPickupAt *time.Time) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return ServiceRequest{}, err
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}

	status := domain.StatusAccepted
	update := repositories.RequestUpdate{Status: &status, UpdatedAt: s.clock()}
	if scheduledPickupAt != nil {
		status = domain.StatusScheduled
		at := scheduledPickupAt.UTC()
		update.ScheduledPickupAt = &at
	}
	updated, err := s.requests.Update(ctx, request.ID, update)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	s.logTransition(ctx, actor, request, updated.Status)

	kind := NotifyStatusChanged
	if update.ScheduledPickupAt != nil {
		kind = NotifyPickupScheduled
	}
	s.notifier.Dispatch(NotificationEvent{Kind: kind, Request: updated, Actor: actor, ScheduledPickupAt: update.ScheduledPickupAt})
	return updated, nil
}

func (s *requestService) AssignDelivery(ctx context.Context, actor Principal, requestID int64, deliveryPersonID int64) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return ServiceRequest{}, err
	}
	person, err := s.delivery.FindByID(ctx, deliveryPersonID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "delivery person")
	}
	if !person.Active {
		return ServiceRequest{}, newError(ErrNotFound, CodeNotFound, "delivery person not found or inactive")
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	updated, err := s.requests.Update(ctx, request.ID, repositories.RequestUpdate{
		DeliveryPersonID: &person.ID,
		UpdatedAt:        s.clock(),
	})
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	s.logger(ctx, requestEventAssigned, map[string]any{
		"requestId": updated.ID, "deliveryPersonId": person.ID, "adminId": actor.ID,
	})
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyDeliveryAssigned, Request: updated, Actor: actor})
	return updated, nil
}

func (s *requestService) MarkReceived(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error) {
	return s.adminTransition(ctx, actor, requestID, domain.StatusReceivedShop)
}

func (s *requestService) MarkInRepair(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error) {
	return s.adminTransition(ctx, actor, requestID, domain.StatusInRepair)
}

func (s *requestService) MarkReadyForPayment(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error) {
	return s.adminTransition(ctx, actor, requestID, domain.StatusReadyForPayment)
}

func (s *requestService) MarkPaid(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error) {
	return s.adminTransition(ctx, actor, requestID, domain.StatusPaymentReceived)
}

func (s *requestService) ListAssignments(ctx context.Context, actor Principal) ([]domain.Assignment, error) {
	if err := requireRole(actor, domain.RoleDelivery); err != nil {
		return nil, err
	}
	assignments, err := s.requests.ListAssignments(ctx, actor.ID, assignmentStatuses)
	if err != nil {
		return nil, mapRepositoryError(err, "service request")
	}
	return assignments, nil
}

func (s *requestService) MarkPickup(ctx context.Context, actor Principal, requestID int64, cmd DeliveryPhotoCommand) (ServiceRequest, error) {
	updated, err := s.deliveryTransition(ctx, actor, requestID, domain.StatusScheduled, domain.StatusPickedUp, cmd, pickupPhotoFilename)
	if err != nil {
		return ServiceRequest{}, err
	}
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyPickedUp, Request: updated, Actor: actor})
	return updated, nil
}

func (s *requestService) MarkOutForDelivery(ctx context.Context, actor Principal, requestID int64) (ServiceRequest, error) {
	updated, err := s.deliveryTransition(ctx, actor, requestID, domain.StatusPaymentReceived, domain.StatusOutForDelivery, DeliveryPhotoCommand{}, "")
	if err != nil {
		return ServiceRequest{}, err
	}
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyStatusChanged, Request: updated, Actor: actor})
	return updated, nil
}

func (s *requestService) MarkDelivered(ctx context.Context, actor Principal, requestID int64, cmd DeliveryPhotoCommand) (ServiceRequest, error) {
	updated, err := s.deliveryTransition(ctx, actor, requestID, domain.StatusOutForDelivery, domain.StatusDelivered, cmd, deliveryPhotoFilename)
	if err != nil {
		return ServiceRequest{}, err
	}
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyDelivered, Request: updated, Actor: actor})
	return updated, nil
}

// adminTransition sets the status without looking at the current one.
func (s *requestService) adminTransition(ctx context.Context, actor Principal, requestID int64, to domain.RequestStatus) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return ServiceRequest{}, err
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	updated, err := s.transition(ctx, actor, request, to)
	if err != nil {
		return ServiceRequest{}, err
	}
	s.notifier.Dispatch(NotificationEvent{Kind: NotifyStatusChanged, Request: updated, Actor: actor})
	return updated, nil
}

// deliveryTransition checks the assignment before the status, then updates the status and stores
// the optional proof photo in one transaction.
func (s *requestService) deliveryTransition(ctx context.Context, actor Principal, requestID int64, from, to domain.RequestStatus, cmd DeliveryPhotoCommand, photoFilename string) (ServiceRequest, error) {
	if err := requireRole(actor, domain.RoleDelivery); err != nil {
		return ServiceRequest{}, err
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	if !request.AssignedTo(actor.ID) {
		return ServiceRequest{}, notFound("service request")
	}
	if request.Status != from {
		return ServiceRequest{}, invalidStatus(fmt.Sprintf("request is %s, expected %s", request.Status, from))
	}

	var photo *domain.Media
	if key := trimOptional(cmd.PhotoKey); key != nil && photoFilename != "" {
		media, err := photoMedia(ctx, s.objects, request, actor, *key, photoFilename, s.clock())
		if err != nil {
			return ServiceRequest{}, err
		}
		photo = &media
	}

	var updated ServiceRequest
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		status := to
		var err error
		updated, err = s.requests.Update(ctx, request.ID, repositories.RequestUpdate{Status: &status, UpdatedAt: s.clock()})
		if err != nil {
			return mapRepositoryError(err, "service request")
		}
		if photo != nil {
			if _, err := s.media.Insert(ctx, *photo); err != nil {
				if isConflict(err) {
					return wrapError(ErrConflict, CodeConflict, "photo is already registered", err)
				}
				return mapRepositoryError(err, "media")
			}
		}
		return nil
	})
	if err != nil {
		return ServiceRequest{}, err
	}

	fields := map[string]any{"withPhoto": photo != nil}
	if notes := textutil.CleanOptional(cmd.Notes, maxDeliveryNotesLength); notes != nil {
		fields["notes"] = *notes
	}
	s.logTransition(ctx, actor, request, to, fields)
	return updated, nil
}

func (s *requestService) transition(ctx context.Context, actor Principal, request ServiceRequest, to domain.RequestStatus) (ServiceRequest, error) {
	updated, err := s.requests.Update(ctx, request.ID, repositories.RequestUpdate{Status: &to, UpdatedAt: s.clock()})
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	s.logTransition(ctx, actor, request, to)
	return updated, nil
}

func (s *requestService) logTransition(ctx context.Context, actor Principal, request ServiceRequest, to domain.RequestStatus, extra ...map[string]any) {
	fields := map[string]any{
		"requestId": request.ID,
		"from":      string(request.Status),
		"to":        string(to),
		"role":      string(actor.Role),
		"actorId":   actor.ID,
	}
	for _, m := range extra {
		for k, v := range m {
			fields[k] = v
		}
	}
	s.logger(ctx, requestEventTransition, fields)
}

// checkVoiceNote accepts only a voice key issued for this request whose object exists.
func (s *requestService) checkVoiceNote(ctx context.Context, request ServiceRequest, raw string) error {
	key, err := storage.ParseMediaKey(raw)
	if err != nil {
		return validation(CodeInvalidMedia, "voice_note_s3_key is not a valid media key")
	}
	if key.Type != domain.MediaVoice {
		return validation(CodeInvalidMedia, "voice_note_s3_key must reference a voice note")
	}
	if requestID, ok := key.Binding.RequestID(); !ok || requestID != request.ID {
		return validation(CodeInvalidMedia, "voice_note_s3_key was not issued for this request")
	}
	if _, err := s.objects.Head(ctx, key.String()); err != nil {
		if isObjectNotFound(err) {
			return validation(CodeFileNotFound, "voice note not found in storage, upload it first")
		}
		return wrapError(ErrUpstream, CodeStorage, "failed to inspect voice note", err)
	}
	return nil
}
