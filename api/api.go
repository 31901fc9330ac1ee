// Package api implements the arbor HTTP API: authentication, the session
// profile lookup, settings updates and the session-gated attachment server.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/arbor/files"
	"github.com/jmcleod/arbor/secret"
	"github.com/jmcleod/arbor/session"
	"github.com/jmcleod/arbor/users"
)

// DefaultMaxUploadSize is the largest attachment accepted by POST /files.
const DefaultMaxUploadSize = 25 << 20

// API holds the dependencies needed by the REST handlers.
type API struct {
	users    *users.Store
	cipher   *secret.Cipher
	sessions *session.Cookies
	files    *files.Store

	logger  *slog.Logger
	audit   *auditLogger
	metrics *Collector
	webhook *auditWebhook

	webhookURL    string
	webhookHeader string

	limits         RateLimitConfig
	loginIPs       *ipLimiter
	registerIPs    *ipLimiter
	accounts       *accountLimiter
	trustedProxies []netip.Prefix

	secureCookies  bool
	sessionTTL     time.Duration
	maxUploadBytes int64

	stop     chan struct{}
	stopOnce sync.Once
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for errors and audit events.
// If not set, a JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithCollector enables Prometheus metrics.
func WithCollector(c *Collector) Option {
	return func(a *API) {
		a.metrics = c
	}
}

// WithRateLimits overrides DefaultRateLimitConfig.
func WithRateLimits(cfg RateLimitConfig) Option {
	return func(a *API) {
		a.limits = cfg
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are honored
// when determining the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithSecureCookies forces the Secure attribute on the CSRF cookie even
// for requests that do not look like HTTPS (for example behind a proxy
// that does not set X-Forwarded-Proto).
func WithSecureCookies(secure bool) Option {
	return func(a *API) {
		a.secureCookies = secure
	}
}

// WithAuditWebhook forwards every audit event as JSON to url. header, in
// "Name: value" form, is sent with each request when non-empty.
func WithAuditWebhook(url, header string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = header
	}
}

// WithMaxUploadSize sets the attachment size limit in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

// New creates a new API instance. Call Close to stop its background sweeper.
func New(userStore *users.Store, cipher *secret.Cipher, sessions *session.Cookies, fileStore *files.Store, opts ...Option) *API {
	a := &API{
		users:          userStore,
		cipher:         cipher,
		sessions:       sessions,
		files:          fileStore,
		limits:         DefaultRateLimitConfig(),
		accounts:       newAccountLimiter(),
		sessionTTL:     sessions.TTL(),
		maxUploadBytes: DefaultMaxUploadSize,
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.webhookURL != "" {
		a.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	a.audit = newAuditLogger(a.logger, a.metrics, a.webhook)
	a.loginIPs = newIPLimiter(a.limits.LoginRate, a.limits.LoginBurst)
	a.registerIPs = newIPLimiter(a.limits.RegisterRate, a.limits.RegisterBurst)
	if a.limits.SweepInterval > 0 {
		go a.sweepLoop(a.limits.SweepInterval, a.limits.IdleExpiry)
	}
	return a
}

// Close stops background work and flushes queued webhook events. It is safe
// to call more than once.
func (a *API) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted. It is meant to be
// mounted at /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.Register)
		r.Post("/login", a.Login)
		r.Post("/logout", a.Logout)
		r.Get("/session", a.Session)
		r.With(a.AuthMiddleware, a.CSRFMiddleware).Put("/settings", a.UpdateSettings)
	})

	r.With(a.AuthMiddleware, a.CSRFMiddleware).Post("/files", a.UploadFile)
	r.Get("/files/*", a.ServeFile)
	r.Head("/files/*", a.ServeFile)

	r.With(a.AuthMiddleware, a.requireAdmin).Get("/admin/users", a.ListUsers)

	return r
}
