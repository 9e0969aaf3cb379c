package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Auth           AuthConfig           `yaml:"auth"`
	Wompi          WompiConfig          `yaml:"wompi"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Promos         PromosConfig         `yaml:"promos"`
	Loyalty        LoyaltyConfig        `yaml:"loyalty"`
	Storage        StorageConfig        `yaml:"storage"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// AuthConfig holds session token configuration.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"` // HMAC secret for session tokens
	AdminToken  string `yaml:"admin_token"`  // Static token for back-office endpoints
}

// WompiConfig holds the payment gateway integration configuration.
type WompiConfig struct {
	BaseURL         string   `yaml:"base_url"`
	PublicKey       string   `yaml:"public_key"`
	PrivateKey      string   `yaml:"private_key"`
	IntegritySecret string   `yaml:"integrity_secret"`
	EventsSecret    string   `yaml:"events_secret"` // Secret for webhook event checksums
	Currency        string   `yaml:"currency"`
	Timeout         Duration `yaml:"timeout"`
	RedirectURL     string   `yaml:"redirect_url"` // Where PSE/DaviPlata flows land after the bank page
}

// PaymentsConfig tunes the reconciliation engine.
type PaymentsConfig struct {
	PollInterval      Duration `yaml:"poll_interval"`       // Fixed interval between status checks
	MaxPollAttempts   int      `yaml:"max_poll_attempts"`   // Hard upper bound on polling ticks
	DaviplataGrace    Duration `yaml:"daviplata_grace"`     // Wait before polling a DaviPlata attempt
	AttemptTTL        Duration `yaml:"attempt_ttl"`         // How long a terminal attempt stays queryable
	RecentOrderWindow Duration `yaml:"recent_order_window"` // Freshness window for the recent-order short-circuit
	RequeueInterval   Duration `yaml:"requeue_interval"`    // Retry cadence for approved-but-unordered attempts
}

// CatalogConfig holds product repository configuration.
type CatalogConfig struct {
	Source    string            `yaml:"source"`    // "yaml" or "memory"
	CacheTTL  Duration          `yaml:"cache_ttl"` // 0 disables the read cache
	Productos []CatalogProducto `yaml:"productos"` // Only used when Source = "yaml"
}

// CatalogProducto defines a single product in YAML config.
type CatalogProducto struct {
	ID          string `yaml:"id"`
	Nombre      string `yaml:"nombre"`
	Descripcion string `yaml:"descripcion"`
	PrecioCents int64  `yaml:"precio_cents"`
	Imagen      string `yaml:"imagen"`
	Categoria   string `yaml:"categoria"`
	Stock       int64  `yaml:"stock"`
}

// PromosConfig holds promotional code configuration.
type PromosConfig struct {
	Source  string      `yaml:"source"` // "yaml" or "memory"
	Codigos []PromoRule `yaml:"codigos"`
}

// PromoRule defines a single promotional code in YAML config.
type PromoRule struct {
	Code          string   `yaml:"code"`
	Kind          string   `yaml:"kind"` // "percent" or "fixed"
	PercentBps    int32    `yaml:"percent_bps"`
	AmountCents   int64    `yaml:"amount_cents"`
	MinSpendCents int64    `yaml:"min_spend_cents"`
	ValidFrom     string   `yaml:"valid_from"` // RFC 3339, empty = no lower bound
	ValidTo       string   `yaml:"valid_to"`   // RFC 3339, empty = no upper bound
	UsageLimit    int32    `yaml:"usage_limit"`
	Categorias    []string `yaml:"categorias"`
}

// LoyaltyConfig holds the points program configuration.
type LoyaltyConfig struct {
	Enabled        bool  `yaml:"enabled"`
	EarnPerCOP     int64 `yaml:"earn_per_cop"`     // Centavos spent per point earned
	RedeemRate     int64 `yaml:"redeem_rate"`      // Centavos of discount per point redeemed
	MinRedeemValue int64 `yaml:"min_redeem_value"` // Minimum points per redemption
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// CallbacksConfig holds order-confirmed webhook configuration.
type CallbacksConfig struct {
	OrderConfirmedURL string            `yaml:"order_confirmed_url"`
	Headers           map[string]string `yaml:"headers"`
	Timeout           Duration          `yaml:"timeout"`
	Retry             RetryConfig       `yaml:"retry"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig holds request throttling configuration.
type RateLimitConfig struct {
	GlobalEnabled  bool     `yaml:"global_enabled"`
	GlobalLimit    int      `yaml:"global_limit"`
	GlobalWindow   Duration `yaml:"global_window"`
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`
	PerIPEnabled   bool     `yaml:"per_ip_enabled"`
	PerIPLimit     int      `yaml:"per_ip_limit"`
	PerIPWindow    Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Gateway BreakerServiceConfig `yaml:"gateway"`
	Webhook BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a single circuit breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
