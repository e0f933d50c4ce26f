package auth

import (
	"context"

	"github.com/watchfix/api/internal/domain"
)

type principalContextKey struct{}

// WithPrincipal stores the verified principal on the context.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal attached by the middleware.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	if ctx == nil {
		return domain.Principal{}, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(domain.Principal)
	if !ok || !principal.Role.Valid() {
		return domain.Principal{}, false
	}
	return principal, true
}
