package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/auth"
	"github.com/supercasa/server/internal/callbacks"
	"github.com/supercasa/server/internal/cart"
	"github.com/supercasa/server/internal/catalog"
	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/delivery"
	"github.com/supercasa/server/internal/idempotency"
	"github.com/supercasa/server/internal/loyalty"
	"github.com/supercasa/server/internal/metrics"
	"github.com/supercasa/server/internal/orders"
	"github.com/supercasa/server/internal/payment"
	"github.com/supercasa/server/internal/promo"
	"github.com/supercasa/server/internal/wompi"
)

const testEventsSecret = "test_events_secret"

// fakeGateway counts every outbound gateway call so tests can assert
// which paths never touch the network.
type fakeGateway struct {
	mu    sync.Mutex
	calls int

	token  string
	tx     wompi.Transaction
	lookup wompi.Transaction
}

func (g *fakeGateway) bump() {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) TokenizeCard(ctx context.Context, req wompi.CardTokenRequest) (string, error) {
	g.bump()
	return g.token, nil
}

func (g *fakeGateway) CreateTransaction(ctx context.Context, req wompi.CreateTransactionRequest) (wompi.Transaction, error) {
	g.bump()
	tx := g.tx
	tx.Reference = req.Reference
	tx.AmountInCents = req.AmountInCents
	return tx, nil
}

func (g *fakeGateway) TransactionByID(ctx context.Context, id string) (wompi.Transaction, error) {
	g.bump()
	if g.lookup.ID != id {
		return wompi.Transaction{}, wompi.ErrNotFound
	}
	return g.lookup, nil
}

func (g *fakeGateway) TransactionByReference(ctx context.Context, reference string) (wompi.Transaction, error) {
	g.bump()
	if g.lookup.Reference != reference {
		return wompi.Transaction{}, wompi.ErrNotFound
	}
	return g.lookup, nil
}

func (g *fakeGateway) VerifyEvent(propertyValues []string, timestamp int64, checksum string) bool {
	return wompi.EventChecksum(propertyValues, timestamp, testEventsSecret) == checksum
}

func (g *fakeGateway) Currency() string { return "COP" }

func (g *fakeGateway) Sign(reference string, amountCents int64) string {
	return wompi.IntegritySignature(reference, amountCents, "COP", "test_integrity")
}

// testPlacer creates orders from checkout snapshots, the same job the
// application placer does.
type testPlacer struct {
	orders  *orders.Service
	carts   *cart.Service
	catalog catalog.Repository
	promos  *promo.Engine
}

func (p *testPlacer) PlaceOrder(ctx context.Context, a payment.Attempt, requeued bool) (string, error) {
	if o, err := p.orders.GetByReference(ctx, a.Reference); err == nil {
		return o.ID, nil
	}

	b, err := p.carts.BackupByReference(ctx, a.Reference)
	if err != nil {
		return "", err
	}
	var d delivery.Data
	_ = json.Unmarshal(b.Delivery, &d)

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
		_ = p.catalog.ReleaseStock(ctx, lines)
		return "", err
	}

	if a.PromoCode != "" {
		_ = p.promos.Consume(a.PromoCode, a.Reference)
	}
	return o.ID, nil
}

func (p *testPlacer) ExistingOrder(ctx context.Context, reference string) (string, bool) {
	o, err := p.orders.GetByReference(ctx, reference)
	if err != nil {
		return "", false
	}
	return o.ID, true
}

type testServer struct {
	router   chi.Router
	gateway  *fakeGateway
	payments *payment.Service
	orders   *orders.Service
	carts    *cart.Service
	catalog  catalog.Repository
	token    string
	userID   string
	admin    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Auth.TokenSecret = "test-secret"
	cfg.Auth.AdminToken = "admin-token"
	cfg.Wompi.PublicKey = "pub_test_123"
	cfg.Payments.PollInterval = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Payments.MaxPollAttempts = 3
	cfg.Payments.DaviplataGrace = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Payments.AttemptTTL = config.Duration{Duration: time.Minute}
	cfg.Payments.RecentOrderWindow = config.Duration{Duration: time.Minute}
	cfg.Payments.RequeueInterval = config.Duration{Duration: 20 * time.Millisecond}

	logger := zerolog.Nop()
	m := metrics.New(prometheus.NewRegistry())

	signer, err := auth.NewSigner(cfg.Auth.TokenSecret)
	if err != nil {
		t.Fatalf("auth.NewSigner: %v", err)
	}

	gateway := &fakeGateway{token: "tok_test_1"}
	cartSvc := cart.NewService(cart.NewMemoryStore(), logger)
	orderSvc := orders.NewService(orders.NewMemoryStore(), m, logger)

	catalogRepo := catalog.NewMemoryRepository()
	for _, p := range []catalog.Product{
		{ID: "p1", Nombre: "Arroz", PrecioCents: 1500, Categoria: "despensa", Stock: 100},
		{ID: "p2", Nombre: "Huevos", PrecioCents: 500, Categoria: "lacteos", Stock: 100},
	} {
		if _, err := catalogRepo.Create(context.Background(), p); err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}

	promoEngine, err := promo.NewEngine(config.PromosConfig{Codigos: []config.PromoRule{
		{Code: "DIEZ", Kind: "percent", PercentBps: 1000},
		{Code: "UNAVEZ", Kind: "percent", PercentBps: 1000, UsageLimit: 1},
	}})
	if err != nil {
		t.Fatalf("promo.NewEngine: %v", err)
	}

	placer := &testPlacer{orders: orderSvc, carts: cartSvc, catalog: catalogRepo, promos: promoEngine}
	paySvc := payment.NewService(cfg.Payments, gateway, gateway, placer, m, logger)
	t.Cleanup(func() { paySvc.Close() })

	loyaltySvc := loyalty.NewService(config.LoyaltyConfig{
		Enabled:        true,
		EarnPerCOP:     100000,
		RedeemRate:     5000,
		MinRedeemValue: 10,
	}, loyalty.NewMemoryStore(), logger)

	idemStore := idempotency.NewMemoryStore()
	t.Cleanup(func() { idemStore.Stop() })

	router := chi.NewRouter()
	ConfigureRouter(router, Deps{
		Config:           cfg,
		Auth:             signer,
		Gateway:          gateway,
		Payments:         paySvc,
		Orders:           orderSvc,
		Carts:            cartSvc,
		Catalog:          catalogRepo,
		Promos:           promoEngine,
		Loyalty:          loyaltySvc,
		Notifier:         callbacks.NoopNotifier{},
		IdempotencyStore: idemStore,
		Metrics:          m,
		Logger:           logger,
	})

	userID := "user-test"
	token, err := signer.Token(userID)
	if err != nil {
		t.Fatalf("signer.Token: %v", err)
	}

	return &testServer{
		router:   router,
		gateway:  gateway,
		payments: paySvc,
		orders:   orderSvc,
		carts:    cartSvc,
		catalog:  catalogRepo,
		token:    token,
		userID:   userID,
		admin:    "admin-token",
	}
}

func (ts *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func deliveryData(torre string, piso int, apto string) delivery.Data {
	return delivery.Data{
		TorreEntrega:       torre,
		PisoEntrega:        piso,
		ApartamentoEntrega: apto,
		TelefonoContacto:   "3001234567",
		Nombre:             "Ana Perez",
	}
}

func (ts *testServer) seedCart(t *testing.T) {
	t.Helper()
	items := []cart.Item{
		{ID: "p1", Nombre: "Arroz", PrecioCents: 1500, Cantidad: 1},
		{ID: "p2", Nombre: "Huevos", PrecioCents: 500, Cantidad: 2},
	}
	if _, err := ts.carts.Replace(context.Background(), ts.userID, items); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
}

func TestSessionBootstrapAndAuth(t *testing.T) {
	ts := newTestServer(t)

	// Cart requires a session.
	rec := ts.do(t, http.MethodGet, "/api/carrito", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated cart: status = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/sesion", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("session: status = %d, want 201", rec.Code)
	}
	var sess map[string]string
	decodeBody(t, rec, &sess)
	if sess["token"] == "" || sess["user_id"] == "" {
		t.Fatalf("session response incomplete: %v", sess)
	}

	rec = ts.do(t, http.MethodGet, "/api/carrito", sess["token"], nil)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated cart: status = %d, want 200", rec.Code)
	}
}

func TestCartTotals(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/carrito/items", ts.token, cart.Item{
		ID: "p1", Nombre: "Arroz", PrecioCents: 1500, Cantidad: 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/carrito/items", ts.token, cart.Item{
		ID: "p2", Nombre: "Huevos", PrecioCents: 500, Cantidad: 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: status = %d", rec.Code)
	}

	var resp struct {
		Total    int64 `json:"total"`
		Cantidad int64 `json:"cantidad"`
	}
	decodeBody(t, rec, &resp)
	if resp.Total != 2500 {
		t.Errorf("total = %d, want 2500", resp.Total)
	}
	if resp.Cantidad != 3 {
		t.Errorf("cantidad = %d, want 3", resp.Cantidad)
	}

	// Zero quantity removes the line.
	rec = ts.do(t, http.MethodPut, "/api/carrito/items/p2", ts.token, map[string]int64{"cantidad": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("set quantity: status = %d", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if resp.Total != 1500 {
		t.Errorf("total after removal = %d, want 1500", resp.Total)
	}
}

func TestCashOrderSingleInsertNoGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	rec := ts.do(t, http.MethodPost, "/orders", ts.token, map[string]any{
		"metodo_pago":   "EFECTIVO",
		"datos_entrega": deliveryData("2", 10, "1001"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var o orders.Order
	decodeBody(t, rec, &o)
	if o.PaymentMethod != orders.MethodCash {
		t.Errorf("payment method = %q, want EFECTIVO", o.PaymentMethod)
	}
	if o.PaymentStatus != orders.PaymentPendingCash {
		t.Errorf("payment status = %q, want PENDIENTE_EFECTIVO", o.PaymentStatus)
	}
	if o.TotalCents != 2500 {
		t.Errorf("total = %d, want 2500", o.TotalCents)
	}
	if !wompi.IsCashReference(o.PaymentReference) {
		t.Errorf("reference %q is not a cash reference", o.PaymentReference)
	}

	if got := ts.gateway.callCount(); got != 0 {
		t.Errorf("gateway calls = %d, want 0", got)
	}

	list, err := ts.orders.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("orders inserted = %d, want 1", len(list))
	}

	// The session cart is consumed by the purchase.
	c, _ := ts.carts.Get(context.Background(), ts.userID)
	if len(c.Items) != 0 {
		t.Errorf("cart not cleared: %d items remain", len(c.Items))
	}
}

func TestCreatePaymentRejectsBadFloorBeforeGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	rec := ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "NEQUI",
		"telefono":      "3001234567",
		"datos_entrega": deliveryData("2", 31, "1001"),
	})
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 4xx validation failure: %s", rec.Code, rec.Body.String())
	}
	if got := ts.gateway.callCount(); got != 0 {
		t.Errorf("gateway calls = %d, want 0", got)
	}
}

func TestCreatePaymentEmptyCart(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "NEQUI",
		"telefono":      "3001234567",
		"datos_entrega": deliveryData("1", 5, "502"),
	})
	if rec.Code == http.StatusCreated {
		t.Fatalf("empty cart accepted: %s", rec.Body.String())
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	if resp.Error.Code != "empty_cart" {
		t.Errorf("error code = %q, want empty_cart", resp.Error.Code)
	}
}

func TestCardWidgetBootstrap(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	rec := ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "CARD",
		"email":         "ana@example.com",
		"datos_entrega": deliveryData("3", 7, "703"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp CreatePaymentResponse
	decodeBody(t, rec, &resp)
	if resp.Referencia == "" || resp.Firma == "" {
		t.Fatalf("widget bootstrap incomplete: %+v", resp)
	}
	if resp.LlavePublica != "pub_test_123" {
		t.Errorf("public key = %q", resp.LlavePublica)
	}
	if resp.Estado != string(payment.StateWidgetOpen) {
		t.Errorf("state = %q, want WIDGET_OPEN", resp.Estado)
	}
	// Widget bootstrap itself never calls the gateway.
	if got := ts.gateway.callCount(); got != 0 {
		t.Errorf("gateway calls = %d, want 0", got)
	}
}

func TestApprovedWidgetResultCreatesOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	rec := ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "CARD",
		"email":         "ana@example.com",
		"datos_entrega": deliveryData("3", 7, "703"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("crear-pago: status = %d", rec.Code)
	}
	var created CreatePaymentResponse
	decodeBody(t, rec, &created)

	ts.gateway.lookup = wompi.Transaction{ID: "tx-99", Reference: created.Referencia, Status: wompi.StatusApproved}

	// The widget reports APPROVED: the order appears with no polling.
	rec = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/verificar-pago/%s?id=tx-99&estado=APPROVED", created.Referencia),
		ts.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verificar-pago: status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp attemptResponse
	decodeBody(t, rec, &resp)
	if resp.Estado != string(payment.StateApproved) {
		t.Errorf("state = %q, want APPROVED", resp.Estado)
	}
	if resp.PedidoID == "" {
		t.Fatalf("approved attempt has no order id")
	}
	if resp.Intentos != 0 {
		t.Errorf("poll attempts = %d, want 0", resp.Intentos)
	}

	o, err := ts.orders.GetByReference(context.Background(), created.Referencia)
	if err != nil {
		t.Fatalf("order by reference: %v", err)
	}
	if o.PaymentStatus != orders.PaymentApproved {
		t.Errorf("order payment status = %q, want APROBADO", o.PaymentStatus)
	}
}

func TestWidgetApprovalRequiresGatewayConfirmation(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	rec := ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "CARD",
		"email":         "ana@example.com",
		"datos_entrega": deliveryData("3", 7, "703"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("crear-pago: status = %d", rec.Code)
	}
	var created CreatePaymentResponse
	decodeBody(t, rec, &created)

	// The gateway knows no such transaction: the claimed APPROVED must
	// not resolve the attempt.
	rec = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/verificar-pago/%s?id=tx-forged&estado=APPROVED", created.Referencia),
		ts.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verificar-pago: status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp attemptResponse
	decodeBody(t, rec, &resp)
	if resp.Estado == string(payment.StateApproved) {
		t.Fatalf("unverified approval resolved the attempt")
	}
	if resp.Estado != string(payment.StatePolling) {
		t.Errorf("state = %q, want POLLING", resp.Estado)
	}
	if resp.PedidoID != "" {
		t.Errorf("order id = %q, want none", resp.PedidoID)
	}
	if _, err := ts.orders.GetByReference(context.Background(), created.Referencia); err == nil {
		t.Errorf("order materialized from an unverified approval")
	}
}

func TestDigitalOrderRetryReplaysExistingOrder(t *testing.T) {
	ts := newTestServer(t)

	items := []cart.Item{{ID: "p1", Nombre: "Arroz", PrecioCents: 1500, Cantidad: 1}}
	existing, err := ts.orders.Create(context.Background(), orders.CreateRequest{
		UserID:           ts.userID,
		Productos:        items,
		Delivery:         deliveryData("2", 10, "1001"),
		PaymentReference: "SC-user-test-replay",
		PaymentStatus:    orders.PaymentApproved,
		PaymentMethod:    "CARD",
		TransactionID:    "tx-settled",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/orders", ts.token, map[string]any{
		"metodo_pago":     "CARD",
		"referencia_pago": "SC-user-test-replay",
		"productos":       items,
		"datos_entrega":   deliveryData("2", 10, "1001"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("retry: status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var o orders.Order
	decodeBody(t, rec, &o)
	if o.ID != existing.ID {
		t.Errorf("order id = %q, want existing %q", o.ID, existing.ID)
	}

	// The replay never touches stock again.
	p, err := ts.catalog.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("catalog get: %v", err)
	}
	if p.Stock != 100 {
		t.Errorf("p1 stock = %d, want 100", p.Stock)
	}
}

func TestOrderReservesStock(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	rec := ts.do(t, http.MethodPost, "/orders", ts.token, map[string]any{
		"metodo_pago":   "EFECTIVO",
		"datos_entrega": deliveryData("2", 10, "1001"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("order: status = %d: %s", rec.Code, rec.Body.String())
	}

	p1, _ := ts.catalog.Get(context.Background(), "p1")
	p2, _ := ts.catalog.Get(context.Background(), "p2")
	if p1.Stock != 99 {
		t.Errorf("p1 stock = %d, want 99", p1.Stock)
	}
	if p2.Stock != 98 {
		t.Errorf("p2 stock = %d, want 98", p2.Stock)
	}

	// A cart exceeding availability fails the whole order and leaves
	// stock untouched.
	if _, err := ts.carts.Replace(context.Background(), ts.userID, []cart.Item{
		{ID: "p1", Nombre: "Arroz", PrecioCents: 1500, Cantidad: 1000},
	}); err != nil {
		t.Fatalf("replace cart: %v", err)
	}
	rec = ts.do(t, http.MethodPost, "/orders", ts.token, map[string]any{
		"metodo_pago":   "EFECTIVO",
		"datos_entrega": deliveryData("2", 10, "1001"),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell: status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &resp)
	if resp.Error.Code != "out_of_stock" {
		t.Errorf("error code = %q, want out_of_stock", resp.Error.Code)
	}

	list, err := ts.orders.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("orders inserted = %d, want 1", len(list))
	}
	p1, _ = ts.catalog.Get(context.Background(), "p1")
	if p1.Stock != 99 {
		t.Errorf("p1 stock after failed order = %d, want 99", p1.Stock)
	}
}

func TestPromoUseBurnsOnlyOnCompletedOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	validate := func() *httptest.ResponseRecorder {
		return ts.do(t, http.MethodPost, "/api/promos/validar", ts.token, map[string]any{
			"codigo": "UNAVEZ",
			"total":  int64(2500),
		})
	}

	// Quoting a limit-1 code repeatedly burns nothing.
	for i := 0; i < 2; i++ {
		if rec := validate(); rec.Code != http.StatusOK {
			t.Fatalf("validar #%d: status = %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	// An abandoned checkout burns nothing either.
	rec := ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "CARD",
		"email":         "ana@example.com",
		"codigo_promo":  "UNAVEZ",
		"datos_entrega": deliveryData("3", 7, "703"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("crear-pago: status = %d: %s", rec.Code, rec.Body.String())
	}
	var abandoned CreatePaymentResponse
	decodeBody(t, rec, &abandoned)
	rec = ts.do(t, http.MethodPost, "/api/cancelar-pago/"+abandoned.Referencia, ts.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancelar-pago: status = %d", rec.Code)
	}
	if rec := validate(); rec.Code != http.StatusOK {
		t.Fatalf("validar after cancel: status = %d: %s", rec.Code, rec.Body.String())
	}

	// A completed checkout burns the use.
	rec = ts.do(t, http.MethodPost, "/api/crear-pago", ts.token, map[string]any{
		"metodo":        "CARD",
		"email":         "ana@example.com",
		"codigo_promo":  "UNAVEZ",
		"datos_entrega": deliveryData("3", 7, "703"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("crear-pago: status = %d: %s", rec.Code, rec.Body.String())
	}
	var created CreatePaymentResponse
	decodeBody(t, rec, &created)
	if created.Descuento != 250 {
		t.Errorf("descuento = %d, want 250", created.Descuento)
	}

	ts.gateway.lookup = wompi.Transaction{ID: "tx-42", Reference: created.Referencia, Status: wompi.StatusApproved}
	rec = ts.do(t, http.MethodGet,
		fmt.Sprintf("/api/verificar-pago/%s?id=tx-42&estado=APPROVED", created.Referencia),
		ts.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verificar-pago: status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp attemptResponse
	decodeBody(t, rec, &resp)
	if resp.Estado != string(payment.StateApproved) {
		t.Fatalf("state = %q, want APPROVED", resp.Estado)
	}

	rec = validate()
	if rec.Code != http.StatusConflict {
		t.Fatalf("validar after completed order: status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	var errResp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &errResp)
	if errResp.Error.Code != "promo_usage_limit_reached" {
		t.Errorf("error code = %q, want promo_usage_limit_reached", errResp.Error.Code)
	}
}

func TestTokenizeCard(t *testing.T) {
	ts := newTestServer(t)

	// Luhn failure is rejected locally.
	rec := ts.do(t, http.MethodPost, "/api/tokenizar-tarjeta", ts.token, TokenizeCardRequest{
		Numero: "4242424242424243", CVC: "123", Mes: 12, Anio: 2030, Titular: "ANA PEREZ",
	})
	if rec.Code == http.StatusOK {
		t.Fatalf("invalid card accepted")
	}
	if got := ts.gateway.callCount(); got != 0 {
		t.Errorf("gateway calls after invalid card = %d, want 0", got)
	}

	rec = ts.do(t, http.MethodPost, "/api/tokenizar-tarjeta", ts.token, TokenizeCardRequest{
		Numero: "4242424242424242", CVC: "123", Mes: 12, Anio: 2030, Titular: "ANA PEREZ",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["token"] != "tok_test_1" {
		t.Errorf("token = %q", resp["token"])
	}
}

func TestWompiWebhookChecksum(t *testing.T) {
	ts := newTestServer(t)

	tx := wompi.Transaction{ID: "tx-1", Reference: "SC-1-abc-1234", Status: wompi.StatusApproved, AmountInCents: 2500}
	event := func(checksum string) map[string]any {
		return map[string]any{
			"event":     "transaction.updated",
			"data":      map[string]any{"transaction": tx},
			"timestamp": int64(1700000000),
			"signature": map[string]any{
				"properties": []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"},
				"checksum":   checksum,
			},
		}
	}

	rec := ts.do(t, http.MethodPost, "/api/webhook/wompi", "", event("deadbeef"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad checksum: status = %d, want 401", rec.Code)
	}

	good := wompi.EventChecksum([]string{"tx-1", "APPROVED", "2500"}, 1700000000, testEventsSecret)
	rec = ts.do(t, http.MethodPost, "/api/webhook/wompi", "", event(good))
	if rec.Code != http.StatusOK {
		t.Errorf("good checksum: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPromoValidate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/promos/validar", ts.token, map[string]any{
		"codigo": "diez",
		"total":  int64(1000000),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var app struct {
		Descuento int64 `json:"descuento"`
		Total     int64 `json:"total"`
	}
	decodeBody(t, rec, &app)
	if app.Descuento != 100000 {
		t.Errorf("descuento = %d, want 100000", app.Descuento)
	}
	if app.Total != 900000 {
		t.Errorf("total = %d, want 900000", app.Total)
	}

	rec = ts.do(t, http.MethodPost, "/api/promos/validar", ts.token, map[string]any{
		"codigo": "NADA",
		"total":  int64(1000),
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown code: status = %d, want 404", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/pedidos", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no token: status = %d, want 403", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/admin/pedidos", ts.admin, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin token: status = %d, want 200", rec.Code)
	}
}

func TestRecentOrderShortCircuit(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/verificar-pedido-reciente", ts.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Encontrado bool `json:"encontrado"`
	}
	decodeBody(t, rec, &resp)
	if resp.Encontrado {
		t.Errorf("expected no recent order")
	}

	ts.seedCart(t)
	rec = ts.do(t, http.MethodPost, "/orders", ts.token, map[string]any{
		"metodo_pago":   "EFECTIVO",
		"datos_entrega": deliveryData("2", 10, "1001"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("order: status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/verificar-pedido-reciente", ts.token, nil)
	decodeBody(t, rec, &resp)
	if !resp.Encontrado {
		t.Errorf("expected a recent order")
	}
}

func TestLoyaltyEarnAndRedeem(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCart(t)

	// Too small to earn points: 2500 cents / 100000 = 0.
	rec := ts.do(t, http.MethodPost, "/orders", ts.token, map[string]any{
		"metodo_pago":   "EFECTIVO",
		"datos_entrega": deliveryData("2", 10, "1001"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("order: status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/puntos", ts.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("puntos: status = %d", rec.Code)
	}
	var bal struct {
		Puntos   int64 `json:"puntos"`
		Activado bool  `json:"activado"`
	}
	decodeBody(t, rec, &bal)
	if !bal.Activado {
		t.Errorf("loyalty should be enabled")
	}
	if bal.Puntos != 0 {
		t.Errorf("puntos = %d, want 0", bal.Puntos)
	}

	rec = ts.do(t, http.MethodPost, "/api/puntos/canjear", ts.token, map[string]int64{"puntos": 5})
	if rec.Code == http.StatusOK {
		t.Errorf("redemption below minimum accepted")
	}
}
