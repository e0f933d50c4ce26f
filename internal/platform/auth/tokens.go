package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/watchfix/api/internal/domain"
)

var (
	// ErrTokenExpired signals that the bearer token is past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals any other verification failure.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

const defaultTokenTTL = 365 * 24 * time.Hour

// RoleSecrets holds the distinct HMAC secret of each role.
type RoleSecrets struct {
	Customer string
	Delivery string
	Admin    string
}

func (s RoleSecrets) forRole(role domain.Role) []byte {
	switch role {
	case domain.RoleCustomer:
		return []byte(s.Customer)
	case domain.RoleDelivery:
		return []byte(s.Delivery)
	case domain.RoleAdmin:
		return []byte(s.Admin)
	default:
		return nil
	}
}

// Claims is the JWT payload carried by every bearer token.
type Claims struct {
	Role  string `json:"role"`
	Phone string `json:"phone"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies role-scoped bearer tokens.
type Tokens struct {
	secrets RoleSecrets
	issuer  string
	ttl     time.Duration
	now     func() time.Time
}

// TokenOption customises Tokens.
type TokenOption func(*Tokens)

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTokenIssuer sets the iss claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTokenClock injects a time source.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens validates that every role has its own non-empty secret.
func NewTokens(secrets RoleSecrets, opts ...TokenOption) (*Tokens, error) {
	if secrets.Customer == "" || secrets.Delivery == "" || secrets.Admin == "" {
		return nil, errors.New("auth: every role requires a signing secret")
	}
	if secrets.Customer == secrets.Delivery || secrets.Customer == secrets.Admin || secrets.Delivery == secrets.Admin {
		return nil, errors.New("auth: role signing secrets must be distinct")
	}
	t := &Tokens{secrets: secrets, issuer: "watchfix-api", ttl: defaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Issue signs a token for the principal with its role's secret.
func (t *Tokens) Issue(principal domain.Principal) (string, time.Time, error) {
	secret := t.secrets.forRole(principal.Role)
	if len(secret) == 0 {
		return "", time.Time{}, fmt.Errorf("auth: cannot issue token for role %q", principal.Role)
	}
	if principal.ID <= 0 {
		return "", time.Time{}, errors.New("auth: principal id required")
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Role:  string(principal.Role),
		Phone: principal.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principal.ID, 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses the token once, choosing the verification secret from its role claim.
// A token signed with another role's secret fails signature verification.
func (t *Tokens) Verify(_ context.Context, token string) (domain.Principal, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parser.SkipClaimsValidation = true
	_, err := parser.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		c, ok := tok.Claims.(*Claims)
		if !ok {
			return nil, ErrTokenInvalid
		}
		secret := t.secrets.forRole(domain.Role(c.Role))
		if len(secret) == 0 {
			return nil, fmt.Errorf("%w: unknown role", ErrTokenInvalid)
		}
		return secret, nil
	})
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := t.now()
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return domain.Principal{}, ErrTokenExpired
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return domain.Principal{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Principal{}, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	return domain.Principal{Role: domain.Role(claims.Role), ID: id, Phone: claims.Phone}, nil
}
