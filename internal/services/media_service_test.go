package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/watchfix/api/internal/domain"
	pstorage "github.com/watchfix/api/internal/platform/storage"
)

type mediaFixture struct {
	store   *memStore
	objects *fakeObjects
	signer  *fakeSigner
	svc     MediaService
	shop    domain.Shop
	owner   domain.Customer
	logger  *captureLogger
}

func newMediaFixture(t *testing.T) *mediaFixture {
	t.Helper()
	store := newMemStore()
	f := &mediaFixture{
		store:   store,
		objects: newFakeObjects(),
		signer:  &fakeSigner{},
		logger:  &captureLogger{},
	}
	f.shop = store.addShop("Main")
	f.owner = store.addCustomer("+919876543210")

	settings, err := NewSettingsService(SettingsServiceDeps{Repository: memSettings{store}})
	if err != nil {
		t.Fatalf("NewSettingsService: %v", err)
	}
	svc, err := NewMediaService(MediaServiceDeps{
		Media:    memMedia{store},
		Requests: memRequests{store},
		Shops:    memShops{store},
		Signer:   f.signer,
		Objects:  f.objects,
		Settings: settings,
		Clock:    fixedClock(),
		Logger:   f.logger.log,
	})
	if err != nil {
		t.Fatalf("NewMediaService: %v", err)
	}
	f.svc = svc
	return f
}

func TestPresignBuildsUnboundKeyUnderResolvedShop(t *testing.T) {
	f := newMediaFixture(t)

	result, err := f.svc.Presign(context.Background(), customer(f.owner.ID), PresignCommand{
		Filename:    "Dial.JPG",
		ContentType: "image/jpeg",
		Type:        domain.MediaImage,
	})
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	key, err := pstorage.ParseMediaKey(result.Key)
	if err != nil {
		t.Fatalf("ParseMediaKey(%q): %v", result.Key, err)
	}
	if key.ShopID != f.shop.ID || key.Binding.IsBound() || key.Type != domain.MediaImage {
		t.Fatalf("unexpected key %+v", key)
	}
	if !strings.HasSuffix(result.Key, ".jpg") {
		t.Fatalf("expected lowercase extension to be kept, got %s", result.Key)
	}
	if result.Method != "PUT" || result.ExpiresIn != defaultUploadURLTTL {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.signer.uploads) != 1 || f.signer.uploads[0].MaxSize != defaultMaxMediaBytes {
		t.Fatalf("expected upload limit from settings, got %+v", f.signer.uploads)
	}
}

func TestPresignForRequestBindsKeyAfterVisibilityCheck(t *testing.T) {
	f := newMediaFixture(t)
	person := f.store.addDeliveryPerson("+919700000001", true)
	request := f.store.putRequest(domain.ServiceRequest{
		ShopID: f.shop.ID, CustomerID: f.owner.ID, Status: domain.StatusScheduled, DeliveryPersonID: &person.ID,
	})

	result, err := f.svc.Presign(context.Background(), rider(person.ID), PresignCommand{
		Filename: "proof.png", ContentType: "image/png", Type: domain.MediaImage, RequestID: &request.ID,
	})
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	key, err := pstorage.ParseMediaKey(result.Key)
	if err != nil {
		t.Fatalf("ParseMediaKey: %v", err)
	}
	if id, ok := key.Binding.RequestID(); !ok || id != request.ID {
		t.Fatalf("expected key bound to request %d, got %s", request.ID, result.Key)
	}

	other := f.store.addDeliveryPerson("+919700000002", true)
	_, err = f.svc.Presign(context.Background(), rider(other.ID), PresignCommand{
		Filename: "proof.png", ContentType: "image/png", Type: domain.MediaImage, RequestID: &request.ID,
	})
	assertKind(t, err, ErrNotFound, CodeNotFound)
}

func TestPresignValidation(t *testing.T) {
	f := newMediaFixture(t)
	actor := customer(f.owner.ID)

	_, err := f.svc.Presign(context.Background(), actor, PresignCommand{Filename: "a.gif", ContentType: "image/gif", Type: "document"})
	assertKind(t, err, ErrValidation, CodeValidation)
	_, err = f.svc.Presign(context.Background(), actor, PresignCommand{Filename: " ", ContentType: "image/gif", Type: domain.MediaImage})
	assertKind(t, err, ErrValidation, CodeValidation)

	f.signer.err = errors.New("signing key revoked")
	_, err = f.svc.Presign(context.Background(), actor, PresignCommand{Filename: "a.gif", ContentType: "image/gif", Type: domain.MediaImage})
	assertKind(t, err, ErrUpstream, CodeStorage)
}

func TestRegisterRecordsUnboundMedia(t *testing.T) {
	f := newMediaFixture(t)
	key := unboundKey(f.shop.ID, "videos", "clip.mp4")
	f.objects.objects[key] = 5000

	media, err := f.svc.Register(context.Background(), customer(f.owner.ID), RegisterMediaCommand{
		Key:              key,
		Type:             domain.MediaVideo,
		OriginalFilename: "<i>clip</i>.mp4",
		SizeBytes:        10,
		DurationSeconds:  ptr(30),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if media.Binding.IsBound() || media.UploaderType != domain.UploaderCustomer || media.UploaderID != f.owner.ID {
		t.Fatalf("unexpected media %+v", media)
	}
	if media.SizeBytes != 5000 {
		t.Fatalf("expected stored object size to win, got %d", media.SizeBytes)
	}
	if media.OriginalFilename != "clip.mp4" {
		t.Fatalf("expected cleaned filename, got %q", media.OriginalFilename)
	}

	_, err = f.svc.Register(context.Background(), customer(f.owner.ID), RegisterMediaCommand{Key: key, Type: domain.MediaVideo})
	assertKind(t, err, ErrConflict, CodeConflict)
}

func TestRegisterValidation(t *testing.T) {
	f := newMediaFixture(t)
	actor := customer(f.owner.ID)
	image := unboundKey(f.shop.ID, "images", "a.jpg")
	voice := unboundKey(f.shop.ID, "audio", "note.m4a")
	huge := unboundKey(f.shop.ID, "images", "huge.jpg")
	f.objects.objects[image] = 100
	f.objects.objects[voice] = 100
	f.objects.objects[huge] = defaultMaxMediaBytes + 1

	cases := []struct {
		name string
		cmd  RegisterMediaCommand
		kind error
		code string
	}{
		{"malformed key", RegisterMediaCommand{Key: "uploads/a.jpg", Type: domain.MediaImage}, ErrValidation, CodeInvalidMedia},
		{"bound key", RegisterMediaCommand{Key: boundKey(f.shop.ID, 9, "images", "a.jpg"), Type: domain.MediaImage}, ErrValidation, CodeInvalidMedia},
		{"type mismatch", RegisterMediaCommand{Key: image, Type: domain.MediaVideo}, ErrValidation, CodeInvalidMedia},
		{"negative size", RegisterMediaCommand{Key: image, Type: domain.MediaImage, SizeBytes: -1}, ErrValidation, CodeValidation},
		{"declared too large", RegisterMediaCommand{Key: image, Type: domain.MediaImage, SizeBytes: defaultMaxMediaBytes + 1}, ErrValidation, CodeValidation},
		{"stored too large", RegisterMediaCommand{Key: huge, Type: domain.MediaImage, SizeBytes: 1}, ErrValidation, CodeValidation},
		{"voice too long", RegisterMediaCommand{Key: voice, Type: domain.MediaVoice, DurationSeconds: ptr(defaultMaxVoiceDuration + 1)}, ErrValidation, CodeValidation},
		{"missing object", RegisterMediaCommand{Key: unboundKey(f.shop.ID, "images", "ghost.jpg"), Type: domain.MediaImage}, ErrValidation, CodeFileNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), actor, tc.cmd)
			assertKind(t, err, tc.kind, tc.code)
		})
	}
	if _, _, media := f.store.counts(); media != 0 {
		t.Fatalf("rejected registrations must not insert rows, got %d", media)
	}
}

func TestRegisterHeadFailureIsStorageError(t *testing.T) {
	f := newMediaFixture(t)
	f.objects.headErr = errors.New("permission denied")

	_, err := f.svc.Register(context.Background(), customer(f.owner.ID), RegisterMediaCommand{
		Key: unboundKey(f.shop.ID, "images", "a.jpg"), Type: domain.MediaImage,
	})
	assertKind(t, err, ErrUpstream, CodeStorage)
}

func TestListByRequestSignsURLs(t *testing.T) {
	f := newMediaFixture(t)
	request := f.store.putRequest(domain.ServiceRequest{ShopID: f.shop.ID, CustomerID: f.owner.ID, Status: domain.StatusRequested})
	key := boundKey(f.shop.ID, request.ID, "images", "a.jpg")
	f.store.addMedia(domain.Media{Binding: domain.BoundTo(request.ID), Type: domain.MediaImage, Key: key, UploaderType: domain.UploaderCustomer, UploaderID: f.owner.ID})

	views, err := f.svc.ListByRequest(context.Background(), customer(f.owner.ID), request.ID)
	if err != nil {
		t.Fatalf("ListByRequest: %v", err)
	}
	if len(views) != 1 || views[0].URL != "https://storage.test/"+key {
		t.Fatalf("unexpected views %+v", views)
	}

	stranger := f.store.addCustomer("+919800000000")
	_, err = f.svc.ListByRequest(context.Background(), customer(stranger.ID), request.ID)
	assertKind(t, err, ErrNotFound, CodeNotFound)
}

func TestDeleteMedia(t *testing.T) {
	f := newMediaFixture(t)
	present := unboundKey(f.shop.ID, "images", "a.jpg")
	f.objects.objects[present] = 1
	kept := f.store.addMedia(domain.Media{Type: domain.MediaImage, Key: present, UploaderType: domain.UploaderCustomer, UploaderID: f.owner.ID})
	gone := f.store.addMedia(domain.Media{Type: domain.MediaImage, Key: unboundKey(f.shop.ID, "images", "gone.jpg")})

	if err := f.svc.Delete(context.Background(), customer(f.owner.ID), kept.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected customer delete to be forbidden, got %v", err)
	}

	if err := f.svc.Delete(context.Background(), admin(1), kept.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.objects.has(present) {
		t.Fatalf("object should be removed")
	}

	if err := f.svc.Delete(context.Background(), admin(1), gone.ID); err != nil {
		t.Fatalf("Delete with missing object: %v", err)
	}
	if !f.logger.has(mediaEventGone) {
		t.Fatalf("expected missing object to be logged")
	}
	if _, _, media := f.store.counts(); media != 0 {
		t.Fatalf("expected both rows removed, got %d", media)
	}

	err := f.svc.Delete(context.Background(), admin(1), 404)
	assertKind(t, err, ErrNotFound, CodeNotFound)
}

func TestDeleteMediaStorageFailureKeepsRow(t *testing.T) {
	f := newMediaFixture(t)
	key := unboundKey(f.shop.ID, "images", "a.jpg")
	f.objects.objects[key] = 1
	f.objects.deleteErr[key] = errors.New("timeout")
	media := f.store.addMedia(domain.Media{Type: domain.MediaImage, Key: key})

	err := f.svc.Delete(context.Background(), admin(1), media.ID)
	assertKind(t, err, ErrUpstream, CodeStorage)
	if _, _, rows := f.store.counts(); rows != 1 {
		t.Fatalf("row must survive a failed object delete")
	}
}
