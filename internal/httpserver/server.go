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

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/callbacks"
	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/catalog"
	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/idempotency"
	"github.com/supercasa/server/internal/logger"
	"github.com/supercasa/server/internal/loyalty"
	"github.com/supercasa/server/internal/metrics"
	"github.com/supercasa/server/internal/orders"
	"github.com/supercasa/server/internal/payment"
	"github.com/supercasa/server/internal/promo"
	"github.com/supercasa/server/internal/ratelimit"
	"github.com/supercasa/server/internal/wompi"
)

var serverStartTime = time.Now()

// Gateway is the slice of the payment gateway client the handlers
// use. The polling engine holds its own narrower view.
type Gateway interface {
	TokenizeCard(ctx context.Context, req wompi.CardTokenRequest) (string, error)
	CreateTransaction(ctx context.Context, req wompi.CreateTransactionRequest) (wompi.Transaction, error)
	TransactionByID(ctx context.Context, id string) (wompi.Transaction, error)
	VerifyEvent(propertyValues []string, timestamp int64, checksum string) bool
	Currency() string
}

// Deps bundles everything the router needs.
type Deps struct {
	Config           *config.Config
	Auth             *auth.Signer
	Gateway          Gateway
	Payments         *payment.Service
	Orders           *orders.Service
	Carts            *cart.Service
	Catalog          catalog.Repository
	Promos           *promo.Engine
	Loyalty          *loyalty.Service
	Notifier         callbacks.Notifier
	IdempotencyStore idempotency.Store
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	auth     *auth.Signer
	gateway  Gateway
	payments *payment.Service
	orders   *orders.Service
	carts    *cart.Service
	catalog  catalog.Repository
	promos   *promo.Engine
	loyalty  *loyalty.Service
	notifier callbacks.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(deps),
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, deps)
	return s
}

func newHandlers(deps Deps) handlers {
	return handlers{
		cfg:      deps.Config,
		auth:     deps.Auth,
		gateway:  deps.Gateway,
		payments: deps.Payments,
		orders:   deps.Orders,
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		promos:   deps.Promos,
		loyalty:  deps.Loyalty,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// ConfigureRouter attaches the storefront routes to an existing router.
func ConfigureRouter(router chi.Router, deps Deps) {
	if router == nil {
		return
	}

	handler := newHandlers(deps)
	cfg := deps.Config

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Structured logging before RequestID so the request logger can
	// pick the ID up from context.
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:  cfg.RateLimit.GlobalEnabled,
		GlobalLimit:    cfg.RateLimit.GlobalLimit,
		GlobalWindow:   cfg.RateLimit.GlobalWindow.Duration,
		PerUserEnabled: cfg.RateLimit.PerUserEnabled,
		PerUserLimit:   cfg.RateLimit.PerUserLimit,
		PerUserWindow:  cfg.RateLimit.PerUserWindow.Duration,
		PerIPEnabled:   cfg.RateLimit.PerIPEnabled,
		PerIPLimit:     cfg.RateLimit.PerIPLimit,
		PerIPWindow:    cfg.RateLimit.PerIPWindow.Duration,
		Metrics:        deps.Metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.UserLimiter(rateLimitCfg, deps.Auth.UserFromRequest))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Get(prefix+"/api/productos", handler.listProducts)
		r.Get(prefix+"/api/productos/{id}", handler.getProduct)
		r.With(auth.RequireAdmin(cfg.Auth.AdminToken)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	idempotencyMW := idempotency.Middleware(deps.IdempotencyStore, idempotency.DefaultTTL)

	// Session bootstrap.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Post(prefix+"/api/sesion", handler.createSession)
	})

	// Checkout and payment endpoints. Gateway calls can block on the
	// upstream, so these get the long timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Gateway events keep a stable unauthenticated URL.
		r.Post(prefix+"/api/webhook/wompi", handler.wompiWebhook)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireUser)

			r.With(idempotencyMW).Post(prefix+"/api/crear-pago", handler.createPayment)
			r.Post(prefix+"/api/tokenizar-tarjeta", handler.tokenizeCard)
			r.Get(prefix+"/api/consultar-pago/{id}", handler.lookupTransaction)
			r.Get(prefix+"/api/verificar-pago/{reference}", handler.verifyPayment)
			r.Get(prefix+"/api/verificar-pedido-reciente", handler.recentOrder)
			r.Post(prefix+"/api/confirmar-pago/{reference}", handler.confirmPayment)
			r.Post(prefix+"/api/cancelar-pago/{reference}", handler.cancelPayment)

			r.With(idempotencyMW).Post(prefix+"/orders", handler.createOrder)
			r.Get(prefix+"/orders", handler.listOrders)

			r.Post(prefix+"/api/guardar-carrito-temporal", handler.backupCart)
		})
	})

	// Cart, promo, and loyalty endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(deps.Auth.RequireUser)

		r.Get(prefix+"/api/carrito", handler.getCart)
		r.Put(prefix+"/api/carrito", handler.replaceCart)
		r.Delete(prefix+"/api/carrito", handler.clearCart)
		r.Post(prefix+"/api/carrito/items", handler.addCartItem)
		r.Put(prefix+"/api/carrito/items/{id}", handler.setCartQuantity)
		r.Delete(prefix+"/api/carrito/items/{id}", handler.removeCartItem)
		r.Post(prefix+"/api/carrito/restaurar", handler.restoreCart)

		r.Post(prefix+"/api/promos/validar", handler.validatePromo)

		r.Get(prefix+"/api/puntos", handler.loyaltyBalance)
		r.Post(prefix+"/api/puntos/canjear", handler.redeemPoints)
	})

	// Back-office endpoints behind the shared admin token.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(auth.RequireAdmin(cfg.Auth.AdminToken))

		r.Post(prefix+"/admin/productos", handler.createProduct)
		r.Put(prefix+"/admin/productos/{id}", handler.updateProduct)
		r.Delete(prefix+"/admin/productos/{id}", handler.deleteProduct)

		r.Post(prefix+"/admin/promos", handler.addPromo)
		r.Delete(prefix+"/admin/promos/{codigo}", handler.removePromo)

		r.Get(prefix+"/admin/pedidos", handler.listAllOrders)
		r.Put(prefix+"/admin/pedidos/{id}/estado", handler.updateOrderStatus)
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
