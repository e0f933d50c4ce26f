package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 20 * time.Second
	defaultMaxOpenConns     = 10
	defaultMaxIdleConns     = 5
	defaultConnMaxLifetime  = 30 * time.Minute
	defaultUploadURLTTL     = 15 * time.Minute
	defaultDownloadURLTTL   = time.Hour
	defaultTokenTTL         = 365 * 24 * time.Hour
	defaultTokenIssuer      = "watchfix-api"
	defaultOTPLength        = 6
	defaultOTPTTL           = 10 * time.Minute
	defaultOTPMaxPerHour    = 5
	defaultMaxMediaBytes    = 104857600
	defaultMaxVideoSeconds  = 60
	defaultMaxVoiceSeconds  = 600
	defaultNotifyTimeout    = 10 * time.Second
	defaultSMSProvider      = "dev"
	defaultEskizBaseURL     = "https://notify.eskiz.uz/api"
	defaultGeocodeTimeout   = 5 * time.Second
	defaultOTPRatePerMinute = 30
	defaultOTPRateBurst     = 10
	defaultEnvironment      = "local"
	defaultOIDCJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer       = "https://accounts.google.com"
	defaultSecretsFallback  = ".secrets.local"
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultIdempotencyBatch = 500
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Auth          AuthConfig
	OTP           OTPConfig
	Media         MediaConfig
	Shop          ShopConfig
	Notifications NotificationConfig
	SMS           SMSConfig
	Geocoding     GeocodingConfig
	RateLimits    RateLimitConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
	Secrets       SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// StorageConfig configures the media bucket and URL lifetimes.
type StorageConfig struct {
	MediaBucket     string
	CredentialsFile string
	UploadURLTTL    time.Duration
	DownloadURLTTL  time.Duration
}

// AuthConfig holds the per-role token signing secrets.
type AuthConfig struct {
	CustomerSecret string
	DeliverySecret string
	AdminSecret    string
	TokenTTL       time.Duration
	Issuer         string
}

// OTPConfig controls one-time code generation.
type OTPConfig struct {
	Length     int
	TTL        time.Duration
	MaxPerHour int
}

// MediaConfig seeds the runtime settings row with upload ceilings.
type MediaConfig struct {
	MaxBytes         int64
	MaxVideoDuration int
	MaxVoiceDuration int
}

// ShopConfig documents the default shop used when callers do not pick one.
// A zero DefaultID falls back to the lowest shop id in the store.
type ShopConfig struct {
	DefaultID int64
}

// NotificationConfig controls outbound lifecycle notifications.
type NotificationConfig struct {
	Enabled         bool
	AdminPhone      string
	Timeout         time.Duration
	PubSubProjectID string
	PubSubTopic     string
}

// SMSConfig selects and configures the SMS gateway.
type SMSConfig struct {
	Provider string
	BaseURL  string
	Email    string
	Password string
	SenderID string
}

// GeocodingConfig configures reverse geocoding.
type GeocodingConfig struct {
	APIKey  string
	Timeout time.Duration
}

// RateLimitConfig controls HTTP throttling of the OTP endpoints.
type RateLimitConfig struct {
	OTPPerMinute int
	OTPBurst     int
}

// IdempotencyConfig controls replay protection for mutating requests.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupBatchSize int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns a key lookup applying the same precedence as Load
// (explicit map > OS env > .env file). It lets callers build dependencies, such as the
// secret fetcher, from the same inputs before calling Load.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return options.lookup(dotEnv), nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookup(dotEnv)

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			URL:             stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			AutoMigrate:     boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
		},
		Storage: StorageConfig{
			MediaBucket:     stringWithDefault(lookup, "API_STORAGE_MEDIA_BUCKET", ""),
			CredentialsFile: stringWithDefault(lookup, "API_STORAGE_CREDENTIALS_FILE", ""),
			UploadURLTTL:    durationWithDefault(lookup, "API_STORAGE_UPLOAD_URL_TTL", defaultUploadURLTTL),
			DownloadURLTTL:  durationWithDefault(lookup, "API_STORAGE_DOWNLOAD_URL_TTL", defaultDownloadURLTTL),
		},
		Auth: AuthConfig{
			CustomerSecret: stringWithDefault(lookup, "API_AUTH_CUSTOMER_SECRET", ""),
			DeliverySecret: stringWithDefault(lookup, "API_AUTH_DELIVERY_SECRET", ""),
			AdminSecret:    stringWithDefault(lookup, "API_AUTH_ADMIN_SECRET", ""),
			TokenTTL:       durationWithDefault(lookup, "API_AUTH_TOKEN_TTL", defaultTokenTTL),
			Issuer:         stringWithDefault(lookup, "API_AUTH_ISSUER", defaultTokenIssuer),
		},
		OTP: OTPConfig{
			Length:     intWithDefault(lookup, "API_OTP_LENGTH", defaultOTPLength),
			TTL:        durationWithDefault(lookup, "API_OTP_TTL", defaultOTPTTL),
			MaxPerHour: intWithDefault(lookup, "API_OTP_MAX_PER_HOUR", defaultOTPMaxPerHour),
		},
		Media: MediaConfig{
			MaxBytes:         int64WithDefault(lookup, "API_MEDIA_MAX_BYTES", defaultMaxMediaBytes),
			MaxVideoDuration: intWithDefault(lookup, "API_MEDIA_MAX_VIDEO_SECONDS", defaultMaxVideoSeconds),
			MaxVoiceDuration: intWithDefault(lookup, "API_MEDIA_MAX_VOICE_SECONDS", defaultMaxVoiceSeconds),
		},
		Shop: ShopConfig{
			DefaultID: int64WithDefault(lookup, "API_SHOP_DEFAULT_ID", 0),
		},
		Notifications: NotificationConfig{
			Enabled:         boolWithDefault(lookup, "API_NOTIFICATIONS_ENABLED", false),
			AdminPhone:      stringWithDefault(lookup, "API_NOTIFICATIONS_ADMIN_PHONE", ""),
			Timeout:         durationWithDefault(lookup, "API_NOTIFICATIONS_TIMEOUT", defaultNotifyTimeout),
			PubSubProjectID: stringWithDefault(lookup, "API_NOTIFICATIONS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     stringWithDefault(lookup, "API_NOTIFICATIONS_PUBSUB_TOPIC", ""),
		},
		SMS: SMSConfig{
			Provider: strings.ToLower(stringWithDefault(lookup, "API_SMS_PROVIDER", defaultSMSProvider)),
			BaseURL:  stringWithDefault(lookup, "API_SMS_BASE_URL", defaultEskizBaseURL),
			Email:    stringWithDefault(lookup, "API_SMS_EMAIL", ""),
			Password: stringWithDefault(lookup, "API_SMS_PASSWORD", ""),
			SenderID: stringWithDefault(lookup, "API_SMS_SENDER_ID", ""),
		},
		Geocoding: GeocodingConfig{
			APIKey:  stringWithDefault(lookup, "API_GEOCODING_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "API_GEOCODING_TIMEOUT", defaultGeocodeTimeout),
		},
		RateLimits: RateLimitConfig{
			OTPPerMinute: intWithDefault(lookup, "API_RATELIMIT_OTP_PER_MIN", defaultOTPRatePerMinute),
			OTPBurst:     intWithDefault(lookup, "API_RATELIMIT_OTP_BURST", defaultOTPRateBurst),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallback),
		},
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.Database.URL,
		&cfg.Auth.CustomerSecret,
		&cfg.Auth.DeliverySecret,
		&cfg.Auth.AdminSecret,
		&cfg.SMS.Password,
		&cfg.Geocoding.APIKey,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o loaderOptions) lookup(dotEnv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnv[key]; ok {
			return value, true
		}
		return "", false
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Database.URL == "" {
		invalid = append(invalid, "Database.URL")
	}
	if cfg.Storage.MediaBucket == "" {
		invalid = append(invalid, "Storage.MediaBucket")
	}
	if cfg.Auth.CustomerSecret == "" {
		invalid = append(invalid, "Auth.CustomerSecret")
	}
	if cfg.Auth.DeliverySecret == "" {
		invalid = append(invalid, "Auth.DeliverySecret")
	}
	if cfg.Auth.AdminSecret == "" {
		invalid = append(invalid, "Auth.AdminSecret")
	}
	secrets := map[string]struct{}{}
	for _, s := range []string{cfg.Auth.CustomerSecret, cfg.Auth.DeliverySecret, cfg.Auth.AdminSecret} {
		if s != "" {
			secrets[s] = struct{}{}
		}
	}
	if cfg.Auth.CustomerSecret != "" && cfg.Auth.DeliverySecret != "" && cfg.Auth.AdminSecret != "" && len(secrets) != 3 {
		invalid = append(invalid, "Auth.Secrets(distinct)")
	}
	if cfg.Auth.TokenTTL <= 0 {
		invalid = append(invalid, "Auth.TokenTTL")
	}
	if cfg.OTP.Length < 4 || cfg.OTP.Length > 10 {
		invalid = append(invalid, "OTP.Length")
	}
	if cfg.OTP.TTL <= 0 {
		invalid = append(invalid, "OTP.TTL")
	}
	if cfg.OTP.MaxPerHour <= 0 {
		invalid = append(invalid, "OTP.MaxPerHour")
	}
	if cfg.Media.MaxBytes <= 0 {
		invalid = append(invalid, "Media.MaxBytes")
	}
	if cfg.Media.MaxVideoDuration <= 0 {
		invalid = append(invalid, "Media.MaxVideoDuration")
	}
	if cfg.Media.MaxVoiceDuration <= 0 {
		invalid = append(invalid, "Media.MaxVoiceDuration")
	}
	if cfg.Shop.DefaultID < 0 {
		invalid = append(invalid, "Shop.DefaultID")
	}
	switch cfg.SMS.Provider {
	case "dev":
	case "eskiz":
		if cfg.SMS.Email == "" || cfg.SMS.Password == "" {
			invalid = append(invalid, "SMS.Credentials")
		}
	default:
		invalid = append(invalid, "SMS.Provider")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
