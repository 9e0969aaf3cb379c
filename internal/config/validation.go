package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Wompi.Currency == "" {
		c.Wompi.Currency = "COP"
	}
	if c.Wompi.Timeout.Duration <= 0 {
		c.Wompi.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Payments.PollInterval.Duration <= 0 {
		c.Payments.PollInterval = Duration{Duration: 3 * time.Second}
	}
	if c.Payments.MaxPollAttempts <= 0 {
		c.Payments.MaxPollAttempts = 60
	}
	if c.Payments.DaviplataGrace.Duration <= 0 {
		c.Payments.DaviplataGrace = Duration{Duration: 120 * time.Second}
	}
	if c.Payments.AttemptTTL.Duration <= 0 {
		c.Payments.AttemptTTL = Duration{Duration: 30 * time.Minute}
	}
	if c.Payments.RecentOrderWindow.Duration <= 0 {
		c.Payments.RecentOrderWindow = Duration{Duration: 10 * time.Minute}
	}
	if c.Payments.RequeueInterval.Duration <= 0 {
		c.Payments.RequeueInterval = Duration{Duration: 30 * time.Second}
	}
	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}

	return c.validate()
}

// validate performs structural validation; it does not reach the network.
func (c *Config) validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("storage: postgres backend requires postgres_url"))
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, errors.New("storage: mongodb backend requires mongodb_url"))
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, errors.New("storage: mongodb backend requires mongodb_database"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown backend %q", c.Storage.Backend))
	}

	if c.Wompi.BaseURL != "" {
		if u, err := url.Parse(c.Wompi.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("wompi: invalid base_url %q", c.Wompi.BaseURL))
		}
	}
	if c.Wompi.Currency != "" && len(c.Wompi.Currency) != 3 {
		errs = append(errs, fmt.Errorf("wompi: currency must be a 3-letter code, got %q", c.Wompi.Currency))
	}

	switch strings.ToLower(c.Catalog.Source) {
	case "", "yaml", "memory":
	default:
		errs = append(errs, fmt.Errorf("catalog: unknown source %q", c.Catalog.Source))
	}
	switch strings.ToLower(c.Promos.Source) {
	case "", "yaml", "memory":
	default:
		errs = append(errs, fmt.Errorf("promos: unknown source %q", c.Promos.Source))
	}

	if c.Loyalty.Enabled {
		if c.Loyalty.EarnPerCOP <= 0 {
			errs = append(errs, errors.New("loyalty: earn_per_cop must be positive"))
		}
		if c.Loyalty.RedeemRate <= 0 {
			errs = append(errs, errors.New("loyalty: redeem_rate must be positive"))
		}
	}

	return errors.Join(errs...)
}
