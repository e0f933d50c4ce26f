package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"googlemaps.github.io/maps"

	"github.com/watchfix/api/internal/di"
	"github.com/watchfix/api/internal/handlers"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/config"
	"github.com/watchfix/api/internal/platform/database"
	"github.com/watchfix/api/internal/platform/geocoding"
	"github.com/watchfix/api/internal/platform/idempotency"
	"github.com/watchfix/api/internal/platform/jobs"
	"github.com/watchfix/api/internal/platform/observability"
	"github.com/watchfix/api/internal/platform/secrets"
	"github.com/watchfix/api/internal/platform/sms"
	platformstorage "github.com/watchfix/api/internal/platform/storage"
	"github.com/watchfix/api/internal/repositories"
	"github.com/watchfix/api/internal/repositories/postgres"
	"github.com/watchfix/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	lookup, err := config.Lookup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(observability.LoggerOptions{
		Environment: envValue(lookup, "API_SECURITY_ENVIRONMENT", "local"),
		Level:       envValue(lookup, "LOG_LEVEL", ""),
		Service:     "watchfix-api",
		Version:     envValue(lookup, "API_BUILD_VERSION", "dev"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(envValue(lookup, "API_SECRETS_PROJECT_ID", "")),
		secrets.WithFallbackFile(envValue(lookup, "API_SECRETS_FALLBACK_FILE", ".secrets.local")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(lookup, cfg, startedAt)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		result, err := database.Migrate(db, observability.NewMigrateLogger(logger.Named("migrate"), false))
		if err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
		logger.Info("database migrations applied",
			zap.Uint("version", result.Version),
			zap.Bool("changed", result.Changed),
		)
	}

	var storageOpts []option.ClientOption
	if path := strings.TrimSpace(cfg.Storage.CredentialsFile); path != "" {
		storageOpts = append(storageOpts, option.WithCredentialsFile(path))
	}
	storageClient, err := cloudstorage.NewClient(ctx, storageOpts...)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	objects, err := platformstorage.NewObjects(storageClient, cfg.Storage.MediaBucket)
	if err != nil {
		logger.Fatal("failed to initialise storage objects", zap.Error(err))
	}
	if strings.TrimSpace(cfg.Storage.CredentialsFile) == "" {
		logger.Fatal("storage credentials file is required to sign media urls")
	}
	keySigner, err := platformstorage.LoadKeySigner(cfg.Storage.CredentialsFile)
	if err != nil {
		logger.Fatal("failed to load storage signer key", zap.Error(err))
	}
	signedURLClient, err := platformstorage.NewClient(keySigner, cfg.Storage.MediaBucket,
		platformstorage.WithMaxDownloadExpiry(cfg.Storage.DownloadURLTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise signed url client", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(db, storageClient, cfg.Storage.MediaBucket)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	registry, err := postgres.NewRegistry(db, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	smsSender, err := newSMSSender(cfg.SMS, logger.Named("sms"))
	if err != nil {
		logger.Fatal("failed to initialise sms sender", zap.Error(err))
	}

	infra := di.Infrastructure{
		Logger:   logger,
		Signer:   signedURLClient,
		Objects:  objects,
		SMS:      smsSender,
		Geocoder: newGeocoder(cfg.Geocoding, logger),
		Build:    buildInfo,
		Clock:    time.Now,
	}

	var publisher *jobs.PubSubLifecyclePublisher
	if cfg.Notifications.PubSubProjectID != "" && cfg.Notifications.PubSubTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Notifications.PubSubProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err = jobs.NewPubSubLifecyclePublisher(pubsubClient.Topic(cfg.Notifications.PubSubTopic))
		if err != nil {
			logger.Fatal("failed to initialise lifecycle publisher", zap.Error(err))
		}
		infra.Publisher = publisher
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	svc := container.Services
	authn := container.Authenticator

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	authHandlers := handlers.NewAuthHandlers(svc.Auth,
		handlers.WithOTPRateLimit(cfg.RateLimits.OTPPerMinute, cfg.RateLimits.OTPBurst, time.Now),
	)
	customerHandlers := handlers.NewCustomerHandlers(authn, svc.Customers)
	requestHandlers := handlers.NewServiceRequestHandlers(authn, svc.Requests)
	adminHandlers := handlers.NewAdminHandlers(authn, svc.Requests, svc.Admin, svc.Settings)
	deliveryHandlers := handlers.NewDeliveryHandlers(authn, svc.Requests)
	mediaHandlers := handlers.NewMediaHandlers(authn, svc.Media)

	idempotencyStore, err := idempotency.NewPostgresStore(db)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(svc.System,
		handlers.WithIdempotencyCleanup(idempotencyStore, cfg.Idempotency.CleanupBatchSize),
	)

	projectID := traceProjectID(lookup, cfg)
	opts := []handlers.Option{
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithIdempotency(idempotencyMiddleware),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithCustomerRoutes(customerHandlers.Routes),
		handlers.WithServiceRequestRoutes(requestHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithDeliveryRoutes(deliveryHandlers.Routes),
		handlers.WithMediaRoutes(mediaHandlers.Routes),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("watchfix api listening", zap.String("environment", buildInfo.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	if publisher != nil {
		publisher.Stop()
	}
}

func envValue(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func buildInfoFromEnv(lookup func(string) (string, bool), cfg config.Config, started time.Time) services.BuildInfo {
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     envValue(lookup, "API_BUILD_VERSION", "dev"),
		CommitSHA:   envValue(lookup, "API_BUILD_COMMIT_SHA", "unknown"),
		Environment: environment,
		StartedAt:   started,
	}
}

func newHealthRepository(db *sql.DB, storageClient *cloudstorage.Client, bucket string) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "postgres",
		Timeout: 2 * time.Second,
		Check:   func(ctx context.Context) error { return database.Ping(ctx, db) },
	}}
	if storageClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "storage",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSMSSender(cfg config.SMSConfig, logger *zap.Logger) (services.SMSSender, error) {
	switch cfg.Provider {
	case "eskiz":
		return sms.NewEskizSender(sms.EskizConfig{
			BaseURL:  cfg.BaseURL,
			Email:    cfg.Email,
			Password: cfg.Password,
			SenderID: cfg.SenderID,
		}, &http.Client{Timeout: 15 * time.Second}, logger)
	default:
		logger.Warn("sms: dev provider selected; codes are only logged")
		return sms.NewDevSender(logger), nil
	}
}

func newGeocoder(cfg config.GeocodingConfig, logger *zap.Logger) services.ReverseGeocoder {
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Info("geocoding: api key not configured; reverse geocoding disabled")
		return geocoding.Disabled{}
	}
	provider, err := geocoding.NewGoogleMaps(cfg.APIKey, maps.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	if err != nil {
		logger.Warn("geocoding: provider unavailable; reverse geocoding disabled", zap.Error(err))
		return geocoding.Disabled{}
	}
	return provider
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(lookup func(string) (string, bool), cfg config.Config) string {
	for _, candidate := range []string{cfg.Secrets.ProjectID, cfg.Notifications.PubSubProjectID} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return envValue(lookup, "GOOGLE_CLOUD_PROJECT", "")
}
