package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumen-studio/booking/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mount point under the API prefix.
type routeGroup struct {
	path        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
	// jsonBodies rejects mutating requests whose body is not JSON.
	jsonBodies bool
}

const (
	groupBooking  = "booking"
	groupCatalog  = "catalog"
	groupAdmin    = "admin"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

// mountOrder keeps route registration deterministic.
var mountOrder = []string{groupBooking, groupCatalog, groupAdmin, groupWebhooks, groupInternal}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

func defaultGroups() map[string]*routeGroup {
	return map[string]*routeGroup{
		groupBooking:  {path: "/booking", jsonBodies: true},
		groupCatalog:  {path: "/catalog"},
		groupAdmin:    {path: "/admin", jsonBodies: true},
		groupWebhooks: {path: "/webhooks"},
		groupInternal: {path: "/internal"},
	}
}

// NewRouter constructs the chi router with shared middleware, the health probes
// and the booking service route groups. Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: defaultGroups(),
	}
	for _, opt := range opts {
		opt(&cfg)
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
		for _, name := range mountOrder {
			group := cfg.groups[name]
			api.Route(group.path, func(sub chi.Router) {
				if group.jsonBodies {
					sub.Use(requireJSONBody)
				}
				for _, mw := range group.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if group.registrar != nil {
					group.registrar(sub)
					return
				}
				registerNotImplemented(sub, name)
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

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[name].registrar = reg
	}
}

func withGroupMiddlewares(name string, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.groups[name]
		group.middlewares = append(group.middlewares, mw...)
	}
}

// WithBookingRoutes configures the registrar for cart, wizard and checkout endpoints.
func WithBookingRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupBooking, reg) }

// WithCatalogRoutes configures the registrar for package, product and review reads.
func WithCatalogRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupCatalog, reg) }

// WithAdminRoutes configures the registrar for back-office contract endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupAdmin, reg) }

// WithWebhookRoutes configures the registrar for payment provider callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupWebhooks, reg) }

// WithWebhookMiddlewares adds middleware to the /webhooks group, typically signature checks.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw...)
}

// WithInternalRoutes configures the registrar for scheduler-triggered maintenance.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupInternal, reg) }

// WithInternalMiddlewares adds middleware to the /internal group, typically OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw...)
}

// requireJSONBody answers 415 when a POST, PUT or PATCH carries a non-JSON body.
// Bodyless action calls such as wizard transitions pass through.
func requireJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			httpx.WriteError(r.Context(), w, httpx.NewError("unsupported_media_type", "request body must be application/json", http.StatusUnsupportedMediaType))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not configured", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
