package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/httpx"
	"github.com/watchfix/api/internal/platform/requestctx"
)

// Verifier turns a bearer token into a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Principal, error)
}

// PrincipalCheck runs after verification, e.g. to refuse deactivated delivery accounts.
// Returning ErrPrincipalForbidden yields 403; any other error yields 401.
type PrincipalCheck func(ctx context.Context, principal domain.Principal) error

// ErrPrincipalForbidden marks a verified principal that may not act.
var ErrPrincipalForbidden = errors.New("auth: principal forbidden")

// Authenticator wires token verification into HTTP middleware.
type Authenticator struct {
	verifier Verifier
	checks   []PrincipalCheck
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier Verifier, checks ...PrincipalCheck) *Authenticator {
	return &Authenticator{verifier: verifier, checks: checks}
}

// RequireRole verifies the Authorization bearer token and admits only the listed roles.
// With no roles listed any verified principal is admitted.
func (a *Authenticator) RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			principal, err := a.verifier.Verify(ctx, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "token expired")
					return
				}
				respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "token verification failed")
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[principal.Role]; !ok {
					respondAuthError(ctx, w, http.StatusForbidden, "forbidden", "role not permitted for this endpoint")
					return
				}
			}
			for _, check := range a.checks {
				if check == nil {
					continue
				}
				if err := check(ctx, principal); err != nil {
					if errors.Is(err, ErrPrincipalForbidden) {
						respondAuthError(ctx, w, http.StatusForbidden, "forbidden", "account is not permitted to act")
						return
					}
					respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "principal could not be loaded")
					return
				}
			}

			ctx = requestctx.Annotate(WithPrincipal(ctx, principal),
				zap.String("principal_role", string(principal.Role)),
				zap.Int64("principal_id", principal.ID),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
