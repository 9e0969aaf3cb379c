package idempotency

import (
	"bytes"
	"net/http"
	"time"
)

const (
	// HeaderKey is the idempotency key header clients send on checkout
	// and payment requests.
	HeaderKey = "Idempotency-Key"

	// DefaultTTL covers the longest plausible retry window for a
	// checkout attempt.
	DefaultTTL = 24 * time.Hour
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
		headers:        make(map[string]string),
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) captureHeaders() {
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware replays cached responses for repeated idempotency keys.
// Keys are scoped by method and path so the same key cannot collide
// across endpoints.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			cached, found := store.Get(r.Context(), key)
			if found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			// Only successful responses are worth replaying.
			if rw.statusCode >= 200 && rw.statusCode < 300 {
				rw.captureHeaders()
				store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}
