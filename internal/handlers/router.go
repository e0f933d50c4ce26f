package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/watchfix/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Route groups mounted under the API prefix, in mount order.
const (
	groupAuth     = "auth"
	groupCustomer = "customer"
	groupRequests = "service-requests"
	groupAdmin    = "admin"
	groupDelivery = "delivery"
	groupMedia    = "media"
	groupInternal = "internal"
)

var groupOrder = []string{groupAuth, groupCustomer, groupRequests, groupAdmin, groupDelivery, groupMedia, groupInternal}

// Creation endpoints that clients retry over flaky mobile networks.
var idempotentGroups = map[string]bool{groupRequests: true, groupMedia: true}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
	idempotency func(http.Handler) http.Handler
}

func (c *routerConfig) group(name string) *routeGroup {
	if c.groups == nil {
		c.groups = make(map[string]*routeGroup, len(groupOrder))
	}
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter builds the chi router: shared middleware, health probes, and the API groups under
// /api/v1. A group without a registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.group(name)
			var chain []func(http.Handler) http.Handler
			if idempotentGroups[name] && cfg.idempotency != nil {
				chain = append(chain, cfg.idempotency)
			}
			chain = append(chain, g.middlewares...)

			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range chain {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})

	return r
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

// WithAuthRoutes mounts the OTP login endpoints on /auth.
func WithAuthRoutes(reg RouteRegistrar) Option { return withGroup(groupAuth, reg) }

// WithCustomerRoutes mounts the customer profile endpoints on /customer.
func WithCustomerRoutes(reg RouteRegistrar) Option { return withGroup(groupCustomer, reg) }

// WithServiceRequestRoutes mounts /service-requests.
func WithServiceRequestRoutes(reg RouteRegistrar) Option { return withGroup(groupRequests, reg) }

// WithAdminRoutes mounts /admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup(groupAdmin, reg) }

// WithDeliveryRoutes mounts /delivery.
func WithDeliveryRoutes(reg RouteRegistrar) Option { return withGroup(groupDelivery, reg) }

// WithMediaRoutes mounts /media.
func WithMediaRoutes(reg RouteRegistrar) Option { return withGroup(groupMedia, reg) }

// WithInternalRoutes mounts the scheduler-facing /internal endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup(groupInternal, reg) }

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(groupInternal)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithIdempotency guards the request creation and media groups with the given middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.idempotency = mw
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
