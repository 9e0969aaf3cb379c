package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the SUPERCASA_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "SUPERCASA_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "SUPERCASA_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "SUPERCASA_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("SUPERCASA_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitAndTrim(v)
	}

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "SUPERCASA_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "SUPERCASA_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "SUPERCASA_ENVIRONMENT")

	// Auth config
	setIfEnv(&c.Auth.TokenSecret, "SUPERCASA_AUTH_TOKEN_SECRET")
	setIfEnv(&c.Auth.AdminToken, "SUPERCASA_AUTH_ADMIN_TOKEN")

	// Gateway config
	setIfEnv(&c.Wompi.BaseURL, "SUPERCASA_WOMPI_BASE_URL")
	setIfEnv(&c.Wompi.PublicKey, "SUPERCASA_WOMPI_PUBLIC_KEY")
	setIfEnv(&c.Wompi.PrivateKey, "SUPERCASA_WOMPI_PRIVATE_KEY")
	setIfEnv(&c.Wompi.IntegritySecret, "SUPERCASA_WOMPI_INTEGRITY_SECRET")
	setIfEnv(&c.Wompi.EventsSecret, "SUPERCASA_WOMPI_EVENTS_SECRET")
	setIfEnv(&c.Wompi.Currency, "SUPERCASA_WOMPI_CURRENCY")
	setIfEnv(&c.Wompi.RedirectURL, "SUPERCASA_WOMPI_REDIRECT_URL")
	setDurationIfEnv(&c.Wompi.Timeout, "SUPERCASA_WOMPI_TIMEOUT")

	// Payments config
	setDurationIfEnv(&c.Payments.PollInterval, "SUPERCASA_PAYMENTS_POLL_INTERVAL")
	setIntIfEnv(&c.Payments.MaxPollAttempts, "SUPERCASA_PAYMENTS_MAX_POLL_ATTEMPTS")
	setDurationIfEnv(&c.Payments.DaviplataGrace, "SUPERCASA_PAYMENTS_DAVIPLATA_GRACE")
	setDurationIfEnv(&c.Payments.AttemptTTL, "SUPERCASA_PAYMENTS_ATTEMPT_TTL")
	setDurationIfEnv(&c.Payments.RecentOrderWindow, "SUPERCASA_PAYMENTS_RECENT_ORDER_WINDOW")
	setDurationIfEnv(&c.Payments.RequeueInterval, "SUPERCASA_PAYMENTS_REQUEUE_INTERVAL")

	// Catalog config
	setIfEnv(&c.Catalog.Source, "SUPERCASA_CATALOG_SOURCE")
	setDurationIfEnv(&c.Catalog.CacheTTL, "SUPERCASA_CATALOG_CACHE_TTL")

	// Promos config
	setIfEnv(&c.Promos.Source, "SUPERCASA_PROMOS_SOURCE")

	// Storage config
	setIfEnv(&c.Storage.Backend, "SUPERCASA_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "SUPERCASA_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "SUPERCASA_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "SUPERCASA_STORAGE_MONGODB_DATABASE")

	// Callbacks config
	setIfEnv(&c.Callbacks.OrderConfirmedURL, "SUPERCASA_CALLBACK_ORDER_CONFIRMED_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "SUPERCASA_CALLBACK_TIMEOUT")

	// Loyalty config
	setBoolIfEnv(&c.Loyalty.Enabled, "SUPERCASA_LOYALTY_ENABLED")
}

// setIfEnv sets target to the env var value when present and non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setBoolIfEnv sets target when the env var parses as a boolean.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

// setIntIfEnv sets target when the env var parses as an integer.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

// setDurationIfEnv sets target when the env var parses as a Go duration.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			target.Duration = dur
		}
	}
}

// splitAndTrim splits a comma-separated value and trims whitespace from each entry.
func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and does not end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/")
}
