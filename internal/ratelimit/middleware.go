package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/supercasa/server/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global limits apply across all shoppers.
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-user limits key on the authenticated user ID.
	PerUserEnabled bool
	PerUserLimit   int
	PerUserWindow  time.Duration

	// Per-IP limits are the fallback for anonymous traffic.
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns limits generous enough for a busy storefront
// while still stopping obvious spam.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		PerUserEnabled: true,
		PerUserLimit:   120,
		PerUserWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   180,
		PerIPWindow:  1 * time.Minute,
	}
}

func limitHandler(limitType string, windowSeconds int, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(limitType)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_user":
			message = "Too many requests for this account. Please try again later."
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(limitHandler("global", int(cfg.GlobalWindow.Seconds()), cfg.Metrics)),
	)
}

// UserLimiter creates a per-user rate limiter middleware keyed on the
// user ID resolved by the auth middleware, falling back to IP for
// anonymous requests.
func UserLimiter(cfg Config, userFromRequest func(*http.Request) string) func(http.Handler) http.Handler {
	if !cfg.PerUserEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerUserLimit,
		cfg.PerUserWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if user := userFromRequest(r); user != "" {
				return "user:" + user, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitHandler("per_user", int(cfg.PerUserWindow.Seconds()), cfg.Metrics)),
	)
}

// IPLimiter creates a per-IP rate limiter middleware.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), cfg.Metrics)),
	)
}
