package telar

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/telar-co/promo-server/internal/callbacks"
	"github.com/telar-co/promo-server/internal/circuitbreaker"
	"github.com/telar-co/promo-server/internal/cobre"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/dbpool"
	"github.com/telar-co/promo-server/internal/giftcards"
	"github.com/telar-co/promo-server/internal/httpserver"
	"github.com/telar-co/promo-server/internal/idempotency"
	"github.com/telar-co/promo-server/internal/lifecycle"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/internal/metrics"
	"github.com/telar-co/promo-server/internal/monitoring"
	"github.com/telar-co/promo-server/internal/promo"
)

// App wires the Telar promotion components for reuse or standalone serving.
type App struct {
	Config           *config.Config
	Repository       promo.Repository
	Promo            *promo.Service
	Issuer           *giftcards.Issuer
	Cobre            *cobre.Client
	Notifier         callbacks.Notifier
	DLQStore         callbacks.DLQStore
	IdempotencyStore *idempotency.MemoryStore
	BalanceMonitor   *monitoring.BalanceMonitor

	router           chi.Router
	deps             httpserver.Deps
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	repository promo.Repository
	notifier   callbacks.Notifier
	router     chi.Router
}

// WithRepository sets a custom promo storage backend.
func WithRepository(repo promo.Repository) Option {
	return func(o *options) {
		o.repository = repo
	}
}

// WithNotifier injects a redemption callback notifier.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// NewApp assembles the promotion services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("telar: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.metricsCollector = metricsCollector

	if optState.repository != nil {
		app.Repository = optState.repository
	} else {
		var repo promo.Repository
		var err error
		if cfg.Promo.Backend == "postgres" && cfg.Promo.PostgresURL != "" {
			pool, poolErr := dbpool.NewSharedPool(cfg.Promo.PostgresURL, cfg.Promo.PostgresPool)
			if poolErr != nil {
				return nil, fmt.Errorf("init postgres pool: %w", poolErr)
			}
			app.resourceManager.Register("postgres-pool", pool)
			repo, err = promo.NewRepositoryWithDB(cfg.Promo, pool.DB(), metricsCollector)
		} else {
			repo, err = promo.NewRepository(cfg.Promo, metricsCollector)
		}
		if err != nil {
			return nil, fmt.Errorf("init promo repository: %w", err)
		}
		app.Repository = repo
		app.resourceManager.Register("promo-repository", repo)
		if cfg.Promo.Backend == "" || cfg.Promo.Backend == "memory" {
			log.Warn().
				Msg("telar: defaulting to in-memory promo store, codes will not survive a restart")
		}
	}

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	app.Cobre = cobre.NewClient(cfg.Cobre, breaker, metricsCollector)

	if cfg.Callbacks.DLQEnabled {
		dlqStore, err := callbacks.NewFileDLQStore(cfg.Callbacks.DLQPath)
		if err != nil {
			return nil, fmt.Errorf("init DLQ store: %w", err)
		}
		app.DLQStore = dlqStore
	}

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		callbackOpts := []callbacks.RetryOption{
			callbacks.WithMetrics(metricsCollector),
			callbacks.WithBreaker(breaker),
		}
		if app.DLQStore != nil {
			callbackOpts = append(callbackOpts, callbacks.WithDLQStore(app.DLQStore))
		}
		app.Notifier = callbacks.NewRetryableClient(cfg.Callbacks, callbackOpts...)
	}

	app.Promo = promo.NewService(app.Repository, metricsCollector)
	app.Issuer = giftcards.NewIssuer(app.Repository, cfg.GiftCards, metricsCollector)

	// Inert unless an alert webhook URL is configured.
	app.BalanceMonitor = monitoring.NewBalanceMonitor(cfg.Monitoring, app.Cobre)
	app.BalanceMonitor.Start(context.Background())
	app.resourceManager.RegisterFunc("balance-monitor", func() error {
		app.BalanceMonitor.Stop()
		return nil
	})

	// Shared idempotency store (single goroutine for cleanup). Nil when
	// disabled; the middleware then passes requests straight through.
	app.IdempotencyStore = idempotency.NewStoreFromConfig(cfg.Idempotency)
	if app.IdempotencyStore != nil {
		app.resourceManager.RegisterFunc("idempotency-store", func() error {
			app.IdempotencyStore.Stop()
			return nil
		})
	}

	appLogger := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "telar-promo",
	})

	app.deps = httpserver.Deps{
		Promo:    app.Promo,
		Issuer:   app.Issuer,
		Cobre:    app.Cobre,
		Notifier: app.Notifier,
		DLQStore: app.DLQStore,
		Metrics:  metricsCollector,
		Logger:   appLogger,
	}
	if app.IdempotencyStore != nil {
		app.deps.IdempotencyStore = app.IdempotencyStore
	}

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	httpserver.ConfigureRouter(app.router, cfg, app.deps)

	return app, nil
}

// Router returns the chi router with promo routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Server builds a standalone HTTP server around the app's wiring, using the
// configured address and timeouts.
func (a *App) Server() *httpserver.Server {
	return httpserver.New(a.Config, a.deps)
}

// Close releases resources owned by the app (repository, monitor, stores).
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// RegisterRoutes attaches promo endpoints to the provided router using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	httpserver.ConfigureRouter(router, app.Config, app.deps)
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the promo server.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
