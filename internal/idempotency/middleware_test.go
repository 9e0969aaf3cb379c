package idempotency

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddlewareNoKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"pedidoId":"o-1"}`))
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Error("unexpected replay header without a key")
		}
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2 (no caching without key)", calls)
	}
}

func TestMiddlewareReplaysCachedResponse(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"pedidoId":"o-1"}`))
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set(HeaderKey, "checkout-retry-1")
		return req
	}

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, newReq())
	if rec1.Header().Get("X-Idempotency-Replay") != "" {
		t.Error("first request should not be a replay")
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, newReq())
	if rec2.Header().Get("X-Idempotency-Replay") == "" {
		t.Error("second request should be a replay")
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Errorf("replayed body %q differs from original %q", rec2.Body.String(), rec1.Body.String())
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestMiddlewareKeysAreScopedToRoute(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(r.URL.Path))
	}))

	for _, path := range []string{"/orders", "/api/crear-pago"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(HeaderKey, "same-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Errorf("%s: same key on a different route must not replay", path)
		}
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
}

func TestMiddlewareDoesNotCacheErrors(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	calls := 0
	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.Header.Set(HeaderKey, "gateway-down")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2 (errors are retried, not replayed)", calls)
	}
}
