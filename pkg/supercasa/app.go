// Package supercasa assembles the storefront services for standalone
// serving or embedding into an existing router.
package supercasa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/callbacks"
	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/catalog"
	"github.com/supercasa/server/internal/circuitbreaker"
	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/delivery"
	"github.com/supercasa/server/internal/httpserver"
	"github.com/supercasa/server/internal/idempotency"
	"github.com/supercasa/server/internal/lifecycle"
	"github.com/supercasa/server/internal/logger"
	"github.com/supercasa/server/internal/loyalty"
	"github.com/supercasa/server/internal/metrics"
	"github.com/supercasa/server/internal/orders"
	"github.com/supercasa/server/internal/payment"
	"github.com/supercasa/server/internal/promo"
	"github.com/supercasa/server/internal/wompi"
)

// App wires the storefront components.
type App struct {
	Config           *config.Config
	Logger           zerolog.Logger
	Gateway          *wompi.Client
	Payments         *payment.Service
	Orders           *orders.Service
	Carts            *cart.Service
	Catalog          catalog.Repository
	Promos           *promo.Engine
	Loyalty          *loyalty.Service
	Notifier         callbacks.Notifier
	IdempotencyStore *idempotency.MemoryStore

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	orderStore orders.Store
	cartStore  cart.Store
	notifier   callbacks.Notifier
	router     chi.Router
	registry   prometheus.Registerer
}

// WithOrderStore sets a custom order storage backend.
func WithOrderStore(store orders.Store) Option {
	return func(o *options) { o.orderStore = store }
}

// WithCartStore sets a custom cart storage backend.
func WithCartStore(store cart.Store) Option {
	return func(o *options) { o.cartStore = store }
}

// WithNotifier injects an order-confirmed notifier.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithRouter registers routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithMetricsRegistry sets the Prometheus registry metrics attach to.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(o *options) { o.registry = registry }
}

// NewApp assembles the storefront services.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("supercasa: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "supercasa-server",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:          cfg,
		Logger:          appLogger,
		resourceManager: lifecycle.NewManager(),
	}

	collector := metrics.New(optState.registry)
	app.metricsCollector = collector

	signer, err := auth.NewSigner(cfg.Auth.TokenSecret)
	if err != nil {
		return nil, err
	}

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	gateway, err := wompi.NewClient(cfg.Wompi, breaker, collector, appLogger)
	if err != nil {
		return nil, err
	}
	app.Gateway = gateway

	orderStore, cartStore, err := buildStores(cfg, optState, appLogger)
	if err != nil {
		return nil, err
	}
	app.resourceManager.Register("order-store", orderStore)
	app.resourceManager.Register("cart-store", cartStore)

	app.Orders = orders.NewService(orderStore, collector, appLogger)
	app.Carts = cart.NewService(cartStore, appLogger)

	catalogRepo, err := catalog.NewFromConfig(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	app.Catalog = catalog.NewCached(catalogRepo, cfg.Catalog.CacheTTL.Duration)

	app.Promos, err = promo.NewEngine(cfg.Promos)
	if err != nil {
		return nil, err
	}

	app.Loyalty = loyalty.NewService(cfg.Loyalty, loyalty.NewMemoryStore(), appLogger)

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		app.Notifier = callbacks.NewRetryableClient(cfg.Callbacks,
			callbacks.WithRetryLogger(appLogger),
			callbacks.WithMetrics(collector),
		)
	}

	placer := &orderPlacer{
		orders:   app.Orders,
		carts:    app.Carts,
		catalog:  app.Catalog,
		promos:   app.Promos,
		loyalty:  app.Loyalty,
		notifier: app.Notifier,
		logger:   appLogger,
	}
	app.Payments = payment.NewService(cfg.Payments, gateway, gateway, placer, collector, appLogger)
	app.resourceManager.Register("payment-engine", app.Payments)

	app.IdempotencyStore = idempotency.NewMemoryStore()
	app.resourceManager.RegisterFunc("idempotency-store", func() error {
		app.IdempotencyStore.Stop()
		return nil
	})

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	httpserver.ConfigureRouter(app.router, httpserver.Deps{
		Config:           cfg,
		Auth:             signer,
		Gateway:          gateway,
		Payments:         app.Payments,
		Orders:           app.Orders,
		Carts:            app.Carts,
		Catalog:          app.Catalog,
		Promos:           app.Promos,
		Loyalty:          app.Loyalty,
		Notifier:         app.Notifier,
		IdempotencyStore: app.IdempotencyStore,
		Metrics:          collector,
		Logger:           appLogger,
	})

	return app, nil
}

func buildStores(cfg *config.Config, optState options, appLogger zerolog.Logger) (orders.Store, cart.Store, error) {
	orderStore := optState.orderStore
	cartStore := optState.cartStore

	switch cfg.Storage.Backend {
	case "postgres":
		if orderStore == nil {
			var err error
			orderStore, err = orders.NewPostgresStore(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
			if err != nil {
				return nil, nil, err
			}
		}
		// Carts are session-scoped; they stay in memory unless the
		// caller provides a store.
		if cartStore == nil {
			cartStore = cart.NewMemoryStore()
		}
	case "mongodb":
		if orderStore == nil {
			var err error
			orderStore, err = orders.NewMongoStore(cfg.Storage.MongoDBURL, cfg.Storage.MongoDBDatabase)
			if err != nil {
				return nil, nil, err
			}
		}
		if cartStore == nil {
			var err error
			cartStore, err = cart.NewMongoStore(cfg.Storage.MongoDBURL, cfg.Storage.MongoDBDatabase)
			if err != nil {
				return nil, nil, err
			}
		}
	default:
		if orderStore == nil {
			orderStore = orders.NewMemoryStore()
		}
		if cartStore == nil {
			cartStore = cart.NewMemoryStore()
		}
		appLogger.Warn().Msg("supercasa: using in-memory storage, orders will not survive a restart")
	}

	return orderStore, cartStore, nil
}

// orderPlacer turns approved payment attempts into orders. The
// reconciliation engine calls it both on first approval and from the
// requeue loop, so everything here must be idempotent by reference.
type orderPlacer struct {
	orders   *orders.Service
	carts    *cart.Service
	catalog  catalog.Repository
	promos   *promo.Engine
	loyalty  *loyalty.Service
	notifier callbacks.Notifier
	logger   zerolog.Logger
}

func (p *orderPlacer) PlaceOrder(ctx context.Context, a payment.Attempt, requeued bool) (string, error) {
	// A retry for a reference that already produced an order replays
	// it without reserving stock or notifying twice.
	if o, err := p.orders.GetByReference(ctx, a.Reference); err == nil {
		return o.ID, nil
	}

	b, err := p.carts.BackupByReference(ctx, a.Reference)
	if err != nil {
		return "", err
	}

	var d delivery.Data
	if len(b.Delivery) > 0 {
		if err := json.Unmarshal(b.Delivery, &d); err != nil {
			return "", err
		}
	}

	lines := make(map[string]int64, len(b.Items))
	for _, it := range b.Items {
		lines[it.ID] += it.Cantidad
	}
	if err := p.catalog.ReserveStock(ctx, lines); err != nil {
		return "", err
	}

	o, err := p.orders.Create(ctx, orders.CreateRequest{
		UserID:           b.UserID,
		Productos:        b.Items,
		Delivery:         d,
		PaymentReference: a.Reference,
		PaymentStatus:    orders.PaymentApproved,
		PaymentMethod:    string(a.Method),
		TransactionID:    a.TransactionID,
		Requeued:         requeued,
	})
	if err != nil {
		if relErr := p.catalog.ReleaseStock(ctx, lines); relErr != nil {
			p.logger.Warn().Err(relErr).Str("reference", a.Reference).Msg("placer.stock_release_failed")
		}
		return "", err
	}

	if a.PromoCode != "" {
		if err := p.promos.Consume(a.PromoCode, a.Reference); err != nil {
			p.logger.Warn().Err(err).Str("reference", a.Reference).Str("promo", a.PromoCode).Msg("placer.promo_consume_failed")
		}
	}

	if err := p.carts.Clear(ctx, b.UserID); err != nil {
		p.logger.Warn().Err(err).Str("order_id", o.ID).Msg("placer.cart_clear_failed")
	}
	if _, err := p.loyalty.EarnFromOrder(ctx, b.UserID, o.TotalCents); err != nil {
		p.logger.Warn().Err(err).Str("order_id", o.ID).Msg("placer.loyalty_earn_failed")
	}
	p.notifier.OrderConfirmed(ctx, callbacks.OrderEvent{
		OrderID:          o.ID,
		UserID:           o.UserID,
		PaymentReference: o.PaymentReference,
		PaymentMethod:    o.PaymentMethod,
		TotalCents:       o.TotalCents,
		Torre:            o.Delivery.TorreEntrega,
		Piso:             o.Delivery.PisoEntrega,
		Apartamento:      o.Delivery.ApartamentoEntrega,
	})
	return o.ID, nil
}

func (p *orderPlacer) ExistingOrder(ctx context.Context, reference string) (string, bool) {
	o, err := p.orders.GetByReference(ctx, reference)
	if err != nil {
		return "", false
	}
	return o.ID, true
}

// Router returns the chi router with storefront routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app, newest first.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for embedders.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
