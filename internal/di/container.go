package di

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/platform/config"
	"github.com/watchfix/api/internal/platform/requestctx"
	"github.com/watchfix/api/internal/repositories"
	"github.com/watchfix/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	OTP       services.OTPService
	Auth      services.AuthService
	Customers services.CustomerService
	Requests  services.RequestService
	Media     services.MediaService
	Admin     services.AdminService
	Settings  services.SettingsService
	System    services.SystemService
	Notifier  services.Notifier
}

// Infrastructure carries the external adapters built by the caller: storage, SMS, geocoding
// and the optional lifecycle publisher.
type Infrastructure struct {
	Logger    *zap.Logger
	Signer    services.URLSigner
	Objects   services.ObjectStore
	SMS       services.SMSSender
	Geocoder  services.ReverseGeocoder
	Publisher services.LifecyclePublisher
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Repositories  repositories.Registry
	Services      Services
	Tokens        *auth.Tokens
	Authenticator *auth.Authenticator
}

// NewContainer constructs the runtime dependencies. Production wiring provides PostgreSQL
// repositories and Cloud adapters, while tests can supply in-memory registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	tokens, err := auth.NewTokens(auth.RoleSecrets{
		Customer: cfg.Auth.CustomerSecret,
		Delivery: cfg.Auth.DeliverySecret,
		Admin:    cfg.Auth.AdminSecret,
	}, auth.WithTokenTTL(cfg.Auth.TokenTTL), auth.WithTokenIssuer(cfg.Auth.Issuer), auth.WithTokenClock(infra.Clock))
	if err != nil {
		return nil, fmt.Errorf("build token issuer: %w", err)
	}

	svc, err := buildServices(ctx, reg, cfg, infra, tokens)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:        cfg,
		Repositories:  reg,
		Services:      svc,
		Tokens:        tokens,
		Authenticator: auth.NewAuthenticator(tokens, principalCheck(svc.Auth)),
	}, nil
}

// Close waits for pending notifications, then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Notifier != nil {
		if err := c.Services.Notifier.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure, tokens *auth.Tokens) (Services, error) {
	var svc Services
	logger := infra.Logger

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Repository: reg.Settings(),
		Defaults: services.Settings{
			NotificationsEnabled: cfg.Notifications.Enabled,
			MaxMediaBytes:        cfg.Media.MaxBytes,
			MaxVideoDuration:     cfg.Media.MaxVideoDuration,
			MaxVoiceDuration:     cfg.Media.MaxVoiceDuration,
		},
		Clock:  infra.Clock,
		Logger: eventLogger(logger, "settings"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	otpSvc, err := services.NewOTPService(services.OTPServiceDeps{
		Repository: reg.OTPSessions(),
		Length:     cfg.OTP.Length,
		TTL:        cfg.OTP.TTL,
		MaxPerHour: cfg.OTP.MaxPerHour,
		Clock:      infra.Clock,
		Logger:     eventLogger(logger, "otp"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build otp service: %w", err)
	}
	svc.OTP = otpSvc

	authSvc, err := services.NewAuthService(services.AuthServiceDeps{
		OTP:       otpSvc,
		SMS:       infra.SMS,
		Tokens:    tokens,
		Customers: reg.Customers(),
		Admins:    reg.Admins(),
		Delivery:  reg.DeliveryPersonnel(),
		OTPTTL:    cfg.OTP.TTL,
		Clock:     infra.Clock,
		Logger:    eventLogger(logger, "auth"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build auth service: %w", err)
	}
	svc.Auth = authSvc

	customerSvc, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Geocoder:  infra.Geocoder,
		Clock:     infra.Clock,
		Logger:    eventLogger(logger, "customers"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}
	svc.Customers = customerSvc

	notifier, err := services.NewNotificationService(services.NotificationServiceDeps{
		Sender:     infra.SMS,
		Log:        reg.Notifications(),
		Settings:   settingsSvc,
		Admins:     reg.Admins(),
		Customers:  reg.Customers(),
		AdminPhone: cfg.Notifications.AdminPhone,
		Publisher:  infra.Publisher,
		Timeout:    cfg.Notifications.Timeout,
		Clock:      infra.Clock,
		Logger:     eventLogger(logger, "notifications"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifier = notifier

	requestSvc, err := services.NewRequestService(services.RequestServiceDeps{
		UnitOfWork:     reg,
		Requests:       reg.Requests(),
		Items:          reg.Items(),
		Media:          reg.Media(),
		Shops:          reg.Shops(),
		Delivery:       reg.DeliveryPersonnel(),
		Objects:        infra.Objects,
		Signer:         infra.Signer,
		Notifier:       notifier,
		DefaultShopID:  cfg.Shop.DefaultID,
		DownloadURLTTL: cfg.Storage.DownloadURLTTL,
		Clock:          infra.Clock,
		Logger:         eventLogger(logger, "requests"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build request service: %w", err)
	}
	svc.Requests = requestSvc

	mediaSvc, err := services.NewMediaService(services.MediaServiceDeps{
		Media:          reg.Media(),
		Requests:       reg.Requests(),
		Shops:          reg.Shops(),
		Signer:         infra.Signer,
		Objects:        infra.Objects,
		Settings:       settingsSvc,
		DefaultShopID:  cfg.Shop.DefaultID,
		UploadURLTTL:   cfg.Storage.UploadURLTTL,
		DownloadURLTTL: cfg.Storage.DownloadURLTTL,
		Clock:          infra.Clock,
		Logger:         eventLogger(logger, "media"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build media service: %w", err)
	}
	svc.Media = mediaSvc

	adminSvc, err := services.NewAdminService(services.AdminServiceDeps{
		Delivery: reg.DeliveryPersonnel(),
		Shops:    reg.Shops(),
		Clock:    infra.Clock,
		Logger:   eventLogger(logger, "admin"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin service: %w", err)
	}
	svc.Admin = adminSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = infra.Clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			OTP:              otpSvc,
			Clock:            infra.Clock,
			Build:            build,
			Logger:           eventLogger(logger, "system"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// principalCheck refuses tokens whose account was removed or deactivated after issue.
func principalCheck(authSvc services.AuthService) auth.PrincipalCheck {
	if authSvc == nil {
		return nil
	}
	return func(ctx context.Context, principal domain.Principal) error {
		err := authSvc.CheckPrincipal(ctx, principal)
		if err == nil {
			return nil
		}
		if errors.Is(err, services.ErrForbidden) {
			return fmt.Errorf("%w: %v", auth.ErrPrincipalForbidden, err)
		}
		return err
	}
}

// eventLogger adapts the services' event callbacks onto a named zap logger.
func eventLogger(base *zap.Logger, component string) func(context.Context, string, map[string]any) {
	named := base.Named(component)
	return func(ctx context.Context, event string, fields map[string]any) {
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		zFields := make([]zap.Field, 0, len(fields)+2)
		zFields = append(zFields, zap.String("event", event))
		if traceID := requestctx.TraceID(ctx); traceID != "" {
			zFields = append(zFields, zap.String("trace_id", traceID))
		}
		for _, key := range keys {
			zFields = append(zFields, zap.Any(key, fields[key]))
		}

		if _, failed := fields["error"]; failed {
			named.Warn(event, zFields...)
			return
		}
		named.Info(event, zFields...)
	}
}
