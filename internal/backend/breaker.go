package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive failures before the circuit opens
	OpenTimeout time.Duration // How long the circuit stays open before probing
	MaxProbes   uint32        // Requests allowed while half-open
}

// DefaultBreakerSettings returns the default breaker configuration.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
		MaxProbes:   3,
	}
}

// Breakers manages one circuit breaker per provider type, so a provider that
// is down fails fast instead of burning every task's retry budget.
type Breakers struct {
	mu       sync.Mutex
	settings BreakerSettings
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates a breaker registry.
func NewBreakers(settings BreakerSettings, logger *slog.Logger) *Breakers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breakers{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given provider type.
// Creates a new one if it doesn't exist.
func (b *Breakers) Get(provider string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[provider]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: b.settings.MaxProbes,
		Interval:    0, // Don't clear counts automatically
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.settings.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("Circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Don't count cancellation as provider failure
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	b.breakers[provider] = cb
	return cb
}

// State reports the current state of a provider's breaker.
func (b *Breakers) State(provider string) gobreaker.State {
	return b.Get(provider).State()
}

// Wrap returns an engine whose executions pass through the provider's breaker.
// Engine-reported failures (Result.IsError) are task failures, not provider
// outages, and do not trip the circuit.
func (b *Breakers) Wrap(provider string, engine Engine) Engine {
	return FuncEngine(func(ctx context.Context, req Request) (Result, error) {
		out, err := b.Get(provider).Execute(func() (interface{}, error) {
			return engine.Execute(ctx, req)
		})
		if err != nil {
			if res, ok := out.(Result); ok {
				return res, err
			}
			return Result{IsError: true, Errors: []string{err.Error()}}, err
		}
		return out.(Result), nil
	})
}
