package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs tests and single-instance local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve claims key for fingerprint unless a live record holds it.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && !isExpired(existing.ExpiresAt, now) {
		switch {
		case existing.Fingerprint != fingerprint:
			return Reservation{}, ErrFingerprintMismatch
		case existing.Status == StatusCompleted:
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		default:
			return Reservation{State: ReservationStatePending, Record: existing}, nil
		}
	}

	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[id] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

// SaveResponse completes the reservation held for fingerprint.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = replayHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	s.records[id] = record
	return nil
}

// Release forgets the key when fingerprint still owns it.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := recordID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok && record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

// CleanupExpired removes up to limit expired records, oldest expiry first. A limit of zero or
// less removes all of them.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, record := range s.records {
		if isExpired(record.ExpiresAt, now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return s.records[expired[i]].ExpiresAt.Before(s.records[expired[j]].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, id := range expired {
		delete(s.records, id)
	}
	return len(expired), nil
}
