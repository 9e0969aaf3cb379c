package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/supercasa/server/internal/config"
)

// ServiceType identifies different external services for circuit breaker isolation.
type ServiceType string

const (
	ServiceGateway ServiceType = "wompi_gateway"
	ServiceWebhook ServiceType = "webhook"
)

// Manager manages circuit breakers for external services.
// Each service has its own breaker so a gateway outage cannot starve
// webhook delivery and vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	Enabled bool
	Gateway BreakerConfig
	Webhook BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled: cfg.Enabled,
		Gateway: BreakerConfig{
			MaxRequests:         cfg.Gateway.MaxRequests,
			Interval:            cfg.Gateway.Interval.Duration,
			Timeout:             cfg.Gateway.Timeout.Duration,
			ConsecutiveFailures: cfg.Gateway.ConsecutiveFailures,
			FailureRatio:        cfg.Gateway.FailureRatio,
			MinRequests:         cfg.Gateway.MinRequests,
		},
		Webhook: BreakerConfig{
			MaxRequests:         cfg.Webhook.MaxRequests,
			Interval:            cfg.Webhook.Interval.Duration,
			Timeout:             cfg.Webhook.Timeout.Duration,
			ConsecutiveFailures: cfg.Webhook.ConsecutiveFailures,
			FailureRatio:        cfg.Webhook.FailureRatio,
			MinRequests:         cfg.Webhook.MinRequests,
		},
	})
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceGateway] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceGateway), cfg.Gateway))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceWebhook), cfg.Webhook))

	return m
}

// Execute wraps a function call with circuit breaker protection.
// If circuit breakers are disabled or not configured for the service, executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_changed")
		},
	}
}
