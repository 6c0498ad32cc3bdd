package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/southernsense/storefront/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// routeGroup is one mount under /api/v1. Groups with a nil registrar answer 503 so a storefront
// started without, say, payment credentials fails loudly on checkout only.
type routeGroup struct {
	name        string
	path        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
	// root groups register absolute paths such as /cart:merge on the API router itself.
	root      bool
	rootPaths []string
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

func defaultGroups() map[string]*routeGroup {
	return map[string]*routeGroup{
		"public":    {name: "catalog", path: "/public"},
		"account":   {name: "account", root: true, rootPaths: []string{"/auth/register", "/navigation"}},
		"me":        {name: "profile", path: "/me"},
		"cart":      {name: "cart", path: "/cart"},
		"cartMerge": {name: "cart", root: true, rootPaths: []string{"/cart:merge"}},
		"checkout":  {name: "checkout", path: "/checkout"},
		"orders":    {name: "orders", path: "/orders"},
		"internal":  {name: "internal", path: "/internal"},
	}
}

// mountOrder fixes registration order; chi panics on duplicate mounts so the order is part of the contract.
var mountOrder = []string{"public", "account", "me", "cart", "cartMerge", "checkout", "orders", "internal"}

// NewRouter constructs the chi router: health checks at the root, storefront groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.CleanPath,
			timeoutUnlessStreaming(requestTimeout),
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
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, key := range mountOrder {
			mountGroup(api, cfg.groups[key])
		}
	})
	return r
}

func mountGroup(api chi.Router, group *routeGroup) {
	if group.root {
		if group.registrar != nil {
			group.registrar(api)
			return
		}
		for _, path := range group.rootPaths {
			api.HandleFunc(path, unavailableHandler(group.name))
		}
		return
	}
	api.Route(group.path, func(sub chi.Router) {
		for _, mw := range group.middlewares {
			if mw != nil {
				sub.Use(mw)
			}
		}
		if group.registrar != nil {
			group.registrar(sub)
			return
		}
		handler := unavailableHandler(group.name)
		sub.HandleFunc("/", handler)
		sub.HandleFunc("/*", handler)
	})
}

func unavailableHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceUnavailable(w, r, name)
	}
}

// timeoutUnlessStreaming applies chi's Timeout to everything except server-sent event
// subscriptions, which stay open until the shopper leaves.
func timeoutUnlessStreaming(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		bounded := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			bounded.ServeHTTP(w, r)
		})
	}
}

func withGroup(key string, fn func(*routeGroup)) Option {
	return func(cfg *routerConfig) {
		fn(cfg.groups[key])
	}
}

func withRegistrar(key string, reg RouteRegistrar) Option {
	return withGroup(key, func(g *routeGroup) { g.registrar = reg })
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

// WithPublicRoutes mounts the anonymous catalog under /public.
func WithPublicRoutes(reg RouteRegistrar) Option { return withRegistrar("public", reg) }

// WithAccountRoutes registers /auth/register and /navigation.
func WithAccountRoutes(reg RouteRegistrar) Option { return withRegistrar("account", reg) }

// WithMeRoutes mounts the signed-in profile and cart stream under /me.
func WithMeRoutes(reg RouteRegistrar) Option { return withRegistrar("me", reg) }

// WithCartRoutes mounts cart reads and line edits under /cart.
func WithCartRoutes(reg RouteRegistrar) Option { return withRegistrar("cart", reg) }

// WithCartMergeRoutes registers POST /cart:merge.
func WithCartMergeRoutes(reg RouteRegistrar) Option { return withRegistrar("cartMerge", reg) }

// WithCheckoutRoutes mounts submit, approve and cancel under /checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withRegistrar("checkout", reg) }

// WithOrderRoutes mounts order lookups under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withRegistrar("orders", reg) }

// WithInternalRoutes mounts scheduler and webhook endpoints under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withRegistrar("internal", reg) }

// WithInternalMiddlewares configures middlewares applied to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroup("internal", func(g *routeGroup) {
		g.middlewares = append(g.middlewares, mw...)
	})
}
