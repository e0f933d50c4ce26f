package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a key is remembered when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Status is the persisted state of a key.
type Status string

const (
	// StatusPending means a request holds the key and has not finished.
	StatusPending Status = "pending"
	// StatusCompleted means the response is stored and replayable.
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Store.Reserve.
type ReservationState int

const (
	// ReservationStateNew grants the caller the key; it must save or release it.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted carries a stored response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// Reservation pairs the state with the record that produced it.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is one remembered key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is what gets stored for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses. Keys passed in are already scoped to the caller.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a live key is presented with a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Only headers a client needs to interpret a creation response are replayed. Cookies,
// tracing and hop-by-hop headers belong to the original exchange.
var replayableHeaders = map[string]struct{}{
	"Content-Type":     {},
	"Content-Language": {},
	"Cache-Control":    {},
	"Location":         {},
}

// recordID hashes the scoped key so that raw client keys are never stored.
func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func replayHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string)
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, ok := replayableHeaders[name]; !ok || len(values) == 0 {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
