package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Wompi: WompiConfig{
			BaseURL:  "https://sandbox.wompi.co/v1",
			Currency: "COP",
			Timeout:  Duration{Duration: 10 * time.Second},
		},
		Payments: PaymentsConfig{
			PollInterval:      Duration{Duration: 3 * time.Second},
			MaxPollAttempts:   60,
			DaviplataGrace:    Duration{Duration: 120 * time.Second},
			AttemptTTL:        Duration{Duration: 30 * time.Minute},
			RecentOrderWindow: Duration{Duration: 10 * time.Minute},
			RequeueInterval:   Duration{Duration: 30 * time.Second},
		},
		Catalog: CatalogConfig{
			Source:   "yaml",
			CacheTTL: Duration{Duration: 5 * time.Minute},
		},
		Promos: PromosConfig{
			Source: "yaml",
		},
		Loyalty: LoyaltyConfig{
			Enabled:        true,
			EarnPerCOP:     100000, // 1 point per 1,000 COP
			RedeemRate:     1000,   // 10 COP of discount per point
			MinRedeemValue: 100,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   60,
			PerUserWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Gateway: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
