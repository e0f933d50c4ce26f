package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)

func newCreateRequest(body, key, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/service-requests", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestMiddleware_MissingHeaderPassesThrough(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	calls := 0
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newCreateRequest(`{"address_manual":"MG Road"}`, "", "customer-token"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("requests without a key are never deduplicated, got %d calls", calls)
	}
}

func TestMiddleware_RequiredKey(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithRequiredKey())
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCreateRequest(`{}`, "", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"id":41,"status":"requested"}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newCreateRequest(`{"address_manual":"MG Road"}`, "abc-123", "customer-token"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newCreateRequest(`{"address_manual":"MG Road"}`, "abc-123", "customer-token"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	var calls int
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newCreateRequest(`{}`, "shared", "customer-a"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCreateRequest(`{}`, "shared", "customer-b"))

	if calls != 2 || rr.Header().Get(replayHeaderName) != "" {
		t.Fatalf("another caller's key must not replay, calls=%d", calls)
	}
}

func TestMiddleware_PrincipalIdentity(t *testing.T) {
	req := newCreateRequest(`{}`, "k", "token")
	req = req.WithContext(auth.WithPrincipal(req.Context(), domain.Principal{Role: domain.RoleCustomer, ID: 7}))
	if got := extractRequester(req); got != "customer:7" {
		t.Fatalf("expected principal identity, got %s", got)
	}
	if got := extractRequester(newCreateRequest(`{}`, "k", "")); got != "anonymous" {
		t.Fatalf("expected anonymous, got %s", got)
	}
	if got := extractRequester(newCreateRequest(`{}`, "k", "token")); !strings.HasPrefix(got, "token:") {
		t.Fatalf("expected token hash identity, got %s", got)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newCreateRequest(`{"address_manual":"A"}`, "same-key", "customer-token"))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newCreateRequest(`{"address_manual":"B"}`, "same-key", "customer-token"))
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := newCreateRequest(`{"address_manual":"MG Road"}`, "pending-key", "customer-token")
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	identity := extractRequester(req)
	fingerprint := requestFingerprint(req, body, identity)
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", identity), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	store := &stubStore{}
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCreateRequest(`{}`, "retry-me", "customer-token"))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected handler status to pass through, got %d", rr.Code)
	}
	if store.saved || !store.released {
		t.Fatalf("expected release without save, saved=%v released=%v", store.saved, store.released)
	}
}

func TestMiddleware_SaveFailureKeepsHandlerResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newCreateRequest(`{}`, "fail-key", "customer-token"))
	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected the handler's response, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMiddleware_IgnoresUnguardedMethods(t *testing.T) {
	middleware := Middleware(&stubStore{reserveErr: errors.New("must not be called")}, WithMethods(http.MethodPost))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPatch, "/customer/profile", bytes.NewBufferString(`{}`))
	req.Header.Set("Idempotency-Key", "k")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "old", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d (%v)", removed, err)
	}
}

type stubStore struct {
	failSave   bool
	reserveErr error
	saved      bool
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew, Record: Record{}}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	s.saved = true
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
