package idempotency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/platform/observability"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxBodyBytes      = 1 << 20
)

type guard struct {
	store      Store
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      func() time.Time
	logger     *zap.Logger
	requireKey bool
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*guard)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.headerName = name
		}
	}
}

// WithTTL sets how long keys and stored responses are kept.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods. The default is POST, PUT, PATCH and DELETE.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithLogger sets the logger for store failures. The request logger is used when unset.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithRequiredKey rejects guarded requests that carry no key instead of passing them through.
func WithRequiredKey() MiddlewareOption {
	return func(g *guard) {
		g.requireKey = true
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware replays the stored response when a client retries a guarded request with the same
// key. Keys are scoped to the caller, so one caller's key never replays another caller's response.
// Responses with a 5xx status are not stored; the key is released for a retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:      store,
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if _, ok := g.methods[r.Method]; !ok {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.headerName))
	if key == "" {
		if g.requireKey {
			respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+g.headerName+" header")
			return
		}
		next.ServeHTTP(w, r)
		return
	}

	body, err := readAndReplayBody(r)
	switch {
	case errors.Is(err, errBodyTooLarge):
		respondError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	case err != nil:
		respondError(ctx, w, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	logger := g.logger
	if logger == nil {
		logger = observability.FromContext(ctx)
	}
	identity := extractRequester(r)
	fingerprint := requestFingerprint(r, body, identity)
	scoped := scopedKey(key, identity)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.clock().UTC(), g.ttl)
	if err != nil {
		handleStoreError(ctx, w, logger, err)
		return
	}
	switch reservation.State {
	case ReservationStateCompleted:
		writeStoredResponse(w, reservation.Record)
		return
	case ReservationStatePending:
		respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	buf := &bufferedResponse{ResponseWriter: w}
	next.ServeHTTP(buf, r)

	status := buf.Status()
	if status >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
			logger.Warn("idempotency: release after server error failed", zap.Error(err))
		}
	} else {
		resp := Response{Status: status, Headers: w.Header(), Body: buf.body.Bytes()}
		if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
			// The side effect already happened; the client still gets its answer, only replay is lost.
			logger.Error("idempotency: persist response failed", zap.String("identity", identity), zap.Error(err))
			if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
				logger.Warn("idempotency: release after save failure failed", zap.Error(err))
			}
		}
	}
	if err := buf.flush(); err != nil {
		logger.Warn("idempotency: flush response failed", zap.Error(err))
	}
}

var errBodyTooLarge = errors.New("idempotency: request body too large")

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds a key to one exact request from one caller.
func requestFingerprint(r *http.Request, body []byte, identity string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		identity,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "\n")))
}

// extractRequester names the caller. The middleware may run ahead of token verification, so the
// bearer token itself is hashed when no principal is attached yet.
func extractRequester(r *http.Request) string {
	ctx := r.Context()
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		return fmt.Sprintf("%s:%d", principal.Role, principal.ID)
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		return "token:" + sha256Hex([]byte(authz))
	}
	return "anonymous"
}

func scopedKey(key, identity string) string {
	if identity = strings.TrimSpace(identity); identity == "" {
		identity = "anonymous"
	}
	return strings.TrimSpace(key) + "|" + identity
}

func handleStoreError(ctx context.Context, w http.ResponseWriter, logger *zap.Logger, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	logger.Error("idempotency: store error", zap.Error(err))
	respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for key, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the status and body back until the outcome is recorded. Headers go
// straight to the parent writer, which is not committed before flush.
type bufferedResponse struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flush() error {
	b.ResponseWriter.WriteHeader(b.Status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.ResponseWriter.Write(b.body.Bytes())
	return err
}
