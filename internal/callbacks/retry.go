package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/supercasa/server/internal/config"
	"github.com/supercasa/server/internal/httputil"
	"github.com/supercasa/server/internal/metrics"
)

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Timeout         time.Duration
}

// DefaultRetryConfig returns sensible defaults for webhook retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts order events with exponential backoff.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector for webhook observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// NewRetryableClient constructs a callback client with retry support.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.OrderConfirmedURL == "" {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   DefaultRetryConfig(),
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}
	if cfg.Retry.MaxAttempts > 0 {
		client.retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		client.retryCfg.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		client.retryCfg.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier > 1 {
		client.retryCfg.Multiplier = cfg.Retry.Multiplier
	}

	for _, opt := range opts {
		opt(client)
	}
	return client
}

// OrderConfirmed dispatches the event asynchronously. The EventID is
// generated once, before serialization, and preserved across retries.
func (c *RetryableClient) OrderConfirmed(ctx context.Context, event OrderEvent) {
	if c == nil || c.cfg.OrderConfirmedURL == "" {
		return
	}

	prepareOrderEvent(&event)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize order event")
			return
		}

		if err := c.sendWithRetry(context.Background(), payload); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("order_id", event.OrderID).
				Msg("callbacks: order webhook failed after all retries")
		}
	}()
}

func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	startTime := time.Now()

	if !c.cfg.Retry.Enabled {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.sendHTTP(reqCtx, payload)
		cancel()
		c.observe(err, time.Since(startTime), 1)
		return err
	}

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.sendHTTP(reqCtx, payload)
		cancel()

		if err == nil {
			c.observe(nil, time.Since(startTime), attempt)
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Msg("callbacks: webhook succeeded after retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Dur("next_retry", interval).
			Msg("callbacks: webhook attempt failed")

		if attempt < c.retryCfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	c.observe(lastErr, time.Since(startTime), c.retryCfg.MaxAttempts)
	return fmt.Errorf("callbacks: exhausted %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

func (c *RetryableClient) observe(err error, duration time.Duration, attempt int) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.metrics.ObserveWebhook("order.confirmed", status, duration, attempt)
}

func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OrderConfirmedURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
