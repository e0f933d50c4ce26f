package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/watchfix/api/internal/domain"
	pstorage "github.com/watchfix/api/internal/platform/storage"
	"github.com/watchfix/api/internal/repositories"
)

type fakeRepoError struct {
	msg      string
	notFound bool
	conflict bool
}

func (e fakeRepoError) Error() string       { return e.msg }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return false }

func errMissing(what string, id any) error {
	return fakeRepoError{msg: fmt.Sprintf("%s %v not found", what, id), notFound: true}
}

func errDuplicate(what string) error {
	return fakeRepoError{msg: what + " already exists", conflict: true}
}

// memStore is an in-memory relational store. RunInTx snapshots every table and restores the
// snapshot when fn fails, mirroring a database rollback.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID        int64
	requests      map[int64]domain.ServiceRequest
	items         map[int64]domain.ServiceItem
	media         map[int64]domain.Media
	customers     map[int64]domain.Customer
	admins        map[int64]domain.Admin
	delivery      map[int64]domain.DeliveryPerson
	shops         map[int64]domain.Shop
	otp           map[int64]domain.OTPSession
	notifications []domain.NotificationLog
	settings      *domain.Settings

	lastAdminFilter repositories.AdminRequestFilter
	commits         int
	rollbacks       int
}

func newMemStore() *memStore {
	return &memStore{
		requests:  map[int64]domain.ServiceRequest{},
		items:     map[int64]domain.ServiceItem{},
		media:     map[int64]domain.Media{},
		customers: map[int64]domain.Customer{},
		admins:    map[int64]domain.Admin{},
		delivery:  map[int64]domain.DeliveryPerson{},
		shops:     map[int64]domain.Shop{},
		otp:       map[int64]domain.OTPSession{},
	}
}

type memSnapshot struct {
	requests  map[int64]domain.ServiceRequest
	items     map[int64]domain.ServiceItem
	media     map[int64]domain.Media
	customers map[int64]domain.Customer
	delivery  map[int64]domain.DeliveryPerson
	shops     map[int64]domain.Shop
	otp       map[int64]domain.OTPSession
	notifs    []domain.NotificationLog
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memSnapshot{
		requests:  maps.Clone(s.requests),
		items:     maps.Clone(s.items),
		media:     maps.Clone(s.media),
		customers: maps.Clone(s.customers),
		delivery:  maps.Clone(s.delivery),
		shops:     maps.Clone(s.shops),
		otp:       maps.Clone(s.otp),
		notifs:    slices.Clone(s.notifications),
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.requests, s.items, s.media = snap.requests, snap.items, snap.media
		s.customers, s.delivery, s.shops = snap.customers, snap.delivery, snap.shops
		s.otp, s.notifications = snap.otp, snap.notifs
		s.rollbacks++
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addShop(name string) domain.Shop {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop := domain.Shop{ID: s.id(), Name: name, Address: name + " street"}
	s.shops[shop.ID] = shop
	return shop
}

func (s *memStore) addCustomer(phone string) domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer := domain.Customer{ID: s.id(), Phone: phone}
	s.customers[customer.ID] = customer
	return customer
}

func (s *memStore) addAdmin(phone string) domain.Admin {
	s.mu.Lock()
	defer s.mu.Unlock()
	admin := domain.Admin{ID: s.id(), Phone: phone, Name: "Admin"}
	s.admins[admin.ID] = admin
	return admin
}

func (s *memStore) addDeliveryPerson(phone string, active bool) domain.DeliveryPerson {
	s.mu.Lock()
	defer s.mu.Unlock()
	person := domain.DeliveryPerson{ID: s.id(), Phone: phone, Name: "Rider", Active: active}
	s.delivery[person.ID] = person
	return person
}

func (s *memStore) addMedia(m domain.Media) domain.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	s.media[m.ID] = m
	return m
}

func (s *memStore) putRequest(r domain.ServiceRequest) domain.ServiceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.id()
	}
	s.requests[r.ID] = r
	return r
}

func (s *memStore) request(id int64) domain.ServiceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

func (s *memStore) mediaRow(id int64) domain.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media[id]
}

func (s *memStore) counts() (requests, items, media int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests), len(s.items), len(s.media)
}

type memRequests struct{ s *memStore }

func (r memRequests) Insert(_ context.Context, request domain.ServiceRequest) (domain.ServiceRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request.ID = r.s.id()
	r.s.requests[request.ID] = request
	return request, nil
}

func (r memRequests) FindByID(_ context.Context, id int64) (domain.ServiceRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[id]
	if !ok {
		return domain.ServiceRequest{}, errMissing("service request", id)
	}
	return request, nil
}

func (r memRequests) FindParties(_ context.Context, id int64) (domain.RequestParties, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[id]
	if !ok {
		return domain.RequestParties{}, errMissing("service request", id)
	}
	var parties domain.RequestParties
	if c, ok := r.s.customers[request.CustomerID]; ok {
		parties.CustomerPhone = &c.Phone
	}
	if shop, ok := r.s.shops[request.ShopID]; ok {
		parties.ShopName = &shop.Name
	}
	return parties, nil
}

func (r memRequests) Update(_ context.Context, id int64, update repositories.RequestUpdate) (domain.ServiceRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[id]
	if !ok {
		return domain.ServiceRequest{}, errMissing("service request", id)
	}
	if update.Status != nil {
		request.Status = *update.Status
	}
	if q := update.Quote; q != nil {
		min, max := q.Min, q.Max
		request.QuoteMin, request.QuoteMax = &min, &max
		request.QuoteNote, request.QuoteVoiceKey = q.Note, q.VoiceKey
	}
	if update.ScheduledPickupAt != nil {
		at := *update.ScheduledPickupAt
		request.ScheduledPickupAt = &at
	}
	if update.DeliveryPersonID != nil {
		dp := *update.DeliveryPersonID
		request.DeliveryPersonID = &dp
	}
	request.UpdatedAt = update.UpdatedAt
	r.s.requests[id] = request
	return request, nil
}

func (r memRequests) ListByCustomer(_ context.Context, customerID int64) ([]domain.RequestSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.RequestSummary
	for _, request := range r.s.requests {
		if request.CustomerID != customerID {
			continue
		}
		summary := domain.RequestSummary{ServiceRequest: request}
		for _, item := range r.s.items {
			if item.RequestID == request.ID {
				summary.ItemsCount++
			}
		}
		for _, m := range r.s.media {
			if id, ok := m.Binding.RequestID(); ok && id == request.ID {
				summary.MediaCount++
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r memRequests) ListForAdmin(_ context.Context, filter repositories.AdminRequestFilter) (domain.Page[domain.AdminRequestSummary], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lastAdminFilter = filter
	var all []domain.AdminRequestSummary
	for _, request := range r.s.requests {
		if filter.Status != nil && request.Status != *filter.Status {
			continue
		}
		if filter.ShopID != nil && request.ShopID != *filter.ShopID {
			continue
		}
		all = append(all, domain.AdminRequestSummary{ServiceRequest: request})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	page := domain.Page[domain.AdminRequestSummary]{Page: filter.Page, Limit: filter.Limit, Total: len(all)}
	start := (filter.Page - 1) * filter.Limit
	if start < len(all) {
		end := min(start+filter.Limit, len(all))
		page.Items = all[start:end]
	}
	return page, nil
}

func (r memRequests) ListAssignments(_ context.Context, deliveryPersonID int64, statuses []domain.RequestStatus) ([]domain.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Assignment
	for _, request := range r.s.requests {
		if request.AssignedTo(deliveryPersonID) && slices.Contains(statuses, request.Status) {
			out = append(out, domain.Assignment{ServiceRequest: request})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memItems struct{ s *memStore }

func (r memItems) Insert(_ context.Context, item domain.ServiceItem) (domain.ServiceItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item.ID = r.s.id()
	r.s.items[item.ID] = item
	return item, nil
}

func (r memItems) ListByRequest(_ context.Context, requestID int64) ([]domain.ServiceItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ServiceItem
	for _, item := range r.s.items {
		if item.RequestID == requestID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memMedia struct{ s *memStore }

func (r memMedia) Insert(_ context.Context, media domain.Media) (domain.Media, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.media {
		if existing.Key == media.Key {
			return domain.Media{}, errDuplicate("media key")
		}
	}
	media.ID = r.s.id()
	r.s.media[media.ID] = media
	return media, nil
}

func (r memMedia) FindByID(_ context.Context, id int64) (domain.Media, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	media, ok := r.s.media[id]
	if !ok {
		return domain.Media{}, errMissing("media", id)
	}
	return media, nil
}

func (r memMedia) LockByID(ctx context.Context, id int64) (domain.Media, error) {
	return r.FindByID(ctx, id)
}

func (r memMedia) Bind(_ context.Context, id int64, key string, requestID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	media, ok := r.s.media[id]
	if !ok {
		return errMissing("media", id)
	}
	if media.Binding.IsBound() {
		return errDuplicate("media binding")
	}
	media.Key = key
	media.Binding = domain.BoundTo(requestID)
	r.s.media[id] = media
	return nil
}

func (r memMedia) ListByRequest(_ context.Context, requestID int64) ([]domain.Media, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Media
	for _, media := range r.s.media {
		if id, ok := media.Binding.RequestID(); ok && id == requestID {
			out = append(out, media)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memMedia) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.media[id]; !ok {
		return errMissing("media", id)
	}
	delete(r.s.media, id)
	return nil
}

type memOTP struct{ s *memStore }

func (r memOTP) Insert(_ context.Context, session domain.OTPSession) (domain.OTPSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session.ID = r.s.id()
	r.s.otp[session.ID] = session
	return session, nil
}

func (r memOTP) CountSince(_ context.Context, phone string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, session := range r.s.otp {
		if session.Phone == phone && !session.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r memOTP) FindLatestActive(_ context.Context, phone string, purpose domain.OTPPurpose, now time.Time) (domain.OTPSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *domain.OTPSession
	for _, session := range r.s.otp {
		if session.Phone != phone || session.Purpose != purpose || session.Verified || !session.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || session.ID > latest.ID {
			s := session
			latest = &s
		}
	}
	if latest == nil {
		return domain.OTPSession{}, errMissing("otp session", phone)
	}
	return *latest, nil
}

func (r memOTP) MarkVerified(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.otp[id]
	if !ok {
		return errMissing("otp session", id)
	}
	session.Verified = true
	r.s.otp[id] = session
	return nil
}

func (r memOTP) DeleteExpired(_ context.Context, expiredBefore, createdBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var removed int64
	for id, session := range r.s.otp {
		if session.ExpiresAt.Before(expiredBefore) && session.CreatedAt.Before(createdBefore) {
			delete(r.s.otp, id)
			removed++
		}
	}
	return removed, nil
}

type memCustomers struct{ s *memStore }

func (r memCustomers) Insert(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.customers {
		if existing.Phone == customer.Phone {
			return domain.Customer{}, errDuplicate("customer phone")
		}
	}
	customer.ID = r.s.id()
	r.s.customers[customer.ID] = customer
	return customer, nil
}

func (r memCustomers) FindByID(_ context.Context, id int64) (domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	customer, ok := r.s.customers[id]
	if !ok {
		return domain.Customer{}, errMissing("customer", id)
	}
	return customer, nil
}

func (r memCustomers) FindByPhone(_ context.Context, phone string) (domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, customer := range r.s.customers {
		if customer.Phone == phone {
			return customer, nil
		}
	}
	return domain.Customer{}, errMissing("customer", phone)
}

func (r memCustomers) Update(_ context.Context, id int64, update repositories.CustomerUpdate) (domain.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	customer, ok := r.s.customers[id]
	if !ok {
		return domain.Customer{}, errMissing("customer", id)
	}
	if update.Name != nil {
		customer.Name = update.Name
	}
	if update.Email != nil {
		customer.Email = update.Email
	}
	if update.DefaultAddress != nil {
		customer.DefaultAddress = update.DefaultAddress
	}
	if update.Latitude != nil {
		customer.Latitude = update.Latitude
	}
	if update.Longitude != nil {
		customer.Longitude = update.Longitude
	}
	customer.UpdatedAt = update.UpdatedAt
	r.s.customers[id] = customer
	return customer, nil
}

type memAdmins struct{ s *memStore }

func (r memAdmins) FindByPhone(_ context.Context, phone string) (domain.Admin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, admin := range r.s.admins {
		if admin.Phone == phone {
			return admin, nil
		}
	}
	return domain.Admin{}, errMissing("admin", phone)
}

func (r memAdmins) First(_ context.Context) (domain.Admin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var first *domain.Admin
	for _, admin := range r.s.admins {
		if first == nil || admin.ID < first.ID {
			a := admin
			first = &a
		}
	}
	if first == nil {
		return domain.Admin{}, errMissing("admin", "first")
	}
	return *first, nil
}

type memDelivery struct{ s *memStore }

func (r memDelivery) Insert(_ context.Context, person domain.DeliveryPerson) (domain.DeliveryPerson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.delivery {
		if existing.Phone == person.Phone {
			return domain.DeliveryPerson{}, errDuplicate("delivery phone")
		}
	}
	person.ID = r.s.id()
	r.s.delivery[person.ID] = person
	return person, nil
}

func (r memDelivery) FindByID(_ context.Context, id int64) (domain.DeliveryPerson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	person, ok := r.s.delivery[id]
	if !ok {
		return domain.DeliveryPerson{}, errMissing("delivery person", id)
	}
	return person, nil
}

func (r memDelivery) FindByPhone(_ context.Context, phone string) (domain.DeliveryPerson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, person := range r.s.delivery {
		if person.Phone == phone {
			return person, nil
		}
	}
	return domain.DeliveryPerson{}, errMissing("delivery person", phone)
}

func (r memDelivery) List(_ context.Context, active *bool) ([]domain.DeliveryPerson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.DeliveryPerson
	for _, person := range r.s.delivery {
		if active == nil || person.Active == *active {
			out = append(out, person)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memDelivery) SetActive(_ context.Context, id int64, active bool, at time.Time) (domain.DeliveryPerson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	person, ok := r.s.delivery[id]
	if !ok {
		return domain.DeliveryPerson{}, errMissing("delivery person", id)
	}
	person.Active = active
	person.UpdatedAt = at
	r.s.delivery[id] = person
	return person, nil
}

type memShops struct{ s *memStore }

func (r memShops) Insert(_ context.Context, shop domain.Shop) (domain.Shop, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shop.ID = r.s.id()
	r.s.shops[shop.ID] = shop
	return shop, nil
}

func (r memShops) FindByID(_ context.Context, id int64) (domain.Shop, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shop, ok := r.s.shops[id]
	if !ok {
		return domain.Shop{}, errMissing("shop", id)
	}
	return shop, nil
}

func (r memShops) First(_ context.Context) (domain.Shop, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var first *domain.Shop
	for _, shop := range r.s.shops {
		if first == nil || shop.ID < first.ID {
			s := shop
			first = &s
		}
	}
	if first == nil {
		return domain.Shop{}, errMissing("shop", "first")
	}
	return *first, nil
}

func (r memShops) List(_ context.Context) ([]domain.Shop, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Shop, 0, len(r.s.shops))
	for _, shop := range r.s.shops {
		out = append(out, shop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memNotifications struct{ s *memStore }

func (r memNotifications) Append(_ context.Context, entry domain.NotificationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = r.s.id()
	r.s.notifications = append(r.s.notifications, entry)
	return nil
}

func (r memNotifications) entries() []domain.NotificationLog {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.notifications)
}

type memSettings struct{ s *memStore }

func (r memSettings) Current(_ context.Context) (domain.Settings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.settings == nil {
		return domain.Settings{}, errMissing("settings", 1)
	}
	return *r.s.settings, nil
}

func (r memSettings) Save(_ context.Context, settings domain.Settings, expectedVersion int64) (domain.Settings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current := int64(0)
	if r.s.settings != nil {
		current = r.s.settings.Version
	}
	if current != expectedVersion {
		return domain.Settings{}, errDuplicate("settings version")
	}
	settings.Version = expectedVersion + 1
	r.s.settings = &settings
	return settings, nil
}

// fakeObjects is an in-memory bucket keyed by object name.
type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string]int64
	copyErr   map[string]error
	deleteErr map[string]error
	headErr   error
	copies    []string
}

func newFakeObjects(keys ...string) *fakeObjects {
	o := &fakeObjects{objects: map[string]int64{}, copyErr: map[string]error{}, deleteErr: map[string]error{}}
	for _, key := range keys {
		o.objects[key] = 1024
	}
	return o
}

func (o *fakeObjects) Copy(_ context.Context, src, dst string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.copyErr[src]; err != nil {
		return err
	}
	size, ok := o.objects[src]
	if !ok {
		return fmt.Errorf("%w: %s", pstorage.ErrObjectNotFound, src)
	}
	o.objects[dst] = size
	o.copies = append(o.copies, src+" -> "+dst)
	return nil
}

func (o *fakeObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.deleteErr[key]; err != nil {
		return err
	}
	if _, ok := o.objects[key]; !ok {
		return fmt.Errorf("%w: %s", pstorage.ErrObjectNotFound, key)
	}
	delete(o.objects, key)
	return nil
}

func (o *fakeObjects) Head(_ context.Context, key string) (pstorage.ObjectAttrs, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.headErr != nil {
		return pstorage.ObjectAttrs{}, o.headErr
	}
	size, ok := o.objects[key]
	if !ok {
		return pstorage.ObjectAttrs{}, fmt.Errorf("%w: %s", pstorage.ErrObjectNotFound, key)
	}
	return pstorage.ObjectAttrs{Key: key, Size: size}, nil
}

func (o *fakeObjects) has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

func (o *fakeObjects) keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.objects))
	for key := range o.objects {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

type fakeSigner struct {
	err     error
	uploads []pstorage.UploadOptions
}

func (f *fakeSigner) PresignUpload(_ context.Context, key string, opts pstorage.UploadOptions) (pstorage.SignedURL, error) {
	if f.err != nil {
		return pstorage.SignedURL{}, f.err
	}
	f.uploads = append(f.uploads, opts)
	return pstorage.SignedURL{
		URL:       "https://storage.test/upload/" + key,
		Method:    "PUT",
		ExpiresAt: time.Date(2026, 10, 17, 12, 15, 0, 0, time.UTC),
		Headers:   map[string]string{"Content-Type": opts.ContentType},
	}, nil
}

func (f *fakeSigner) PresignDownload(_ context.Context, key string, _ time.Duration) (pstorage.SignedURL, error) {
	if f.err != nil {
		return pstorage.SignedURL{}, f.err
	}
	return pstorage.SignedURL{URL: "https://storage.test/" + key, Method: "GET"}, nil
}

// recordingNotifier captures dispatched events synchronously.
type recordingNotifier struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (n *recordingNotifier) Notify(context.Context, string, string) bool { return true }

func (n *recordingNotifier) Dispatch(event NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Drain(context.Context) error { return nil }

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeSMS struct {
	mu       sync.Mutex
	err      error
	messages map[string][]string
}

func (f *fakeSMS) Send(_ context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.messages == nil {
		f.messages = map[string][]string{}
	}
	f.messages[phone] = append(f.messages[phone], message)
	return nil
}

func (f *fakeSMS) sent(phone string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.messages[phone])
}

type fakeTokens struct{}

func (fakeTokens) Issue(principal domain.Principal) (string, time.Time, error) {
	if principal.ID <= 0 {
		return "", time.Time{}, errors.New("principal id required")
	}
	return fmt.Sprintf("%s-%d", principal.Role, principal.ID), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), nil
}

// captureLogger records logged event names.
type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *captureLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.events, event)
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
}

func customer(id int64) Principal { return Principal{Role: domain.RoleCustomer, ID: id} }
func admin(id int64) Principal    { return Principal{Role: domain.RoleAdmin, ID: id} }
func rider(id int64) Principal    { return Principal{Role: domain.RoleDelivery, ID: id} }

func ptr[T any](v T) *T { return &v }

func unboundKey(shopID int64, folder, file string) string {
	return strings.Join([]string{"shops", fmt.Sprint(shopID), "requests", "temp", folder, file}, "/")
}

func boundKey(shopID, requestID int64, folder, file string) string {
	return strings.Join([]string{"shops", fmt.Sprint(shopID), "requests", fmt.Sprint(requestID), folder, file}, "/")
}

var (
	_ repositories.UnitOfWork                = (*memStore)(nil)
	_ repositories.ServiceRequestRepository  = memRequests{}
	_ repositories.ServiceItemRepository     = memItems{}
	_ repositories.MediaRepository           = memMedia{}
	_ repositories.OTPSessionRepository      = memOTP{}
	_ repositories.CustomerRepository        = memCustomers{}
	_ repositories.AdminRepository           = memAdmins{}
	_ repositories.DeliveryPersonRepository  = memDelivery{}
	_ repositories.ShopRepository            = memShops{}
	_ repositories.NotificationLogRepository = memNotifications{}
	_ repositories.SettingsRepository        = memSettings{}
	_ ObjectStore                            = (*fakeObjects)(nil)
	_ URLSigner                              = (*fakeSigner)(nil)
	_ Notifier                               = (*recordingNotifier)(nil)
	_ SMSSender                              = (*fakeSMS)(nil)
	_ TokenIssuer                            = fakeTokens{}
)
