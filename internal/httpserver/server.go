package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/telar-co/promo-server/internal/apikey"
	"github.com/telar-co/promo-server/internal/callbacks"
	"github.com/telar-co/promo-server/internal/cobre"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/giftcards"
	"github.com/telar-co/promo-server/internal/idempotency"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/internal/metrics"
	"github.com/telar-co/promo-server/internal/promo"
	"github.com/telar-co/promo-server/internal/ratelimit"
	"github.com/telar-co/promo-server/internal/versioning"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

// Deps carries everything the HTTP layer needs. Optional fields (cobre,
// notifier, dlqStore, idempotencyStore, metrics) may be nil and the
// corresponding endpoints degrade gracefully.
type Deps struct {
	Promo            *promo.Service
	Issuer           *giftcards.Issuer
	Cobre            *cobre.Client
	Notifier         callbacks.Notifier
	DLQStore         callbacks.DLQStore
	IdempotencyStore idempotency.Store
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger
}

type handlers struct {
	cfg      *config.Config
	promo    *promo.Service
	issuer   *giftcards.Issuer
	cobre    *cobre.Client
	notifier callbacks.Notifier
	dlqStore callbacks.DLQStore
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, deps),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, deps)

	return s
}

func newHandlers(cfg *config.Config, deps Deps) handlers {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}
	return handlers{
		cfg:      cfg,
		promo:    deps.Promo,
		issuer:   deps.Issuer,
		cobre:    deps.Cobre,
		notifier: notifier,
		dlqStore: deps.DLQStore,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// ConfigureRouter attaches promo routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}

	handler := newHandlers(cfg, deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Logging middleware goes first so request IDs land in its context.
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// API key tiers must resolve before rate limiting so exemptions apply.
	router.Use(apikey.Middleware(apikey.FromConfig(cfg.APIKey)))

	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/telar-health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	idempotencyMW := idempotency.Middleware(deps.IdempotencyStore, cfg.Idempotency.TTL.Duration)

	// Tier gates only bite when API key auth is on; without it every caller
	// is public tier and the privileged endpoints would be unreachable.
	issuerOnly := passthroughMW
	internalOnly := passthroughMW
	if cfg.APIKey.Enabled {
		issuerOnly = requireTier(apikey.TierStorefront, apikey.TierInternal)
		internalOnly = requireTier(apikey.TierInternal)
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(versioning.Negotiation)

		r.Post(prefix+"/promo/v1/codes/validate", handler.validateCode)
		r.With(idempotencyMW).Post(prefix+"/promo/v1/codes/apply", handler.applyCode)

		r.With(issuerOnly, idempotencyMW).Post(prefix+"/promo/v1/giftcards/issue", handler.issueGiftCards)

		r.Post(prefix+"/promo/v1/payment-links", handler.createPaymentLink)
		r.With(internalOnly).Get(prefix+"/promo/v1/payment-links/balance", handler.paymentLinkBalance)

		r.With(internalOnly).Post(prefix+"/promo/v1/redemptions/pending-dlq", handler.listFailedSyncEvents)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
