// Package breaker wraps every external provider call (embedding, tag,
// proposition) in a circuit breaker: closed/open/half-open,
// a consecutive-failure threshold to open, and a cool-down before
// half-open retries.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"htm-memory/internal/apperrors"
)

// State mirrors the breaker's three states for external exposure.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures a single named breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold uint32
	// OpenDuration is the cool-down before a half-open probe is allowed.
	// Default: 60s.
	OpenDuration time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, OpenDuration: 60 * time.Second}
}

// Breaker protects one named external dependency.
type Breaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	mu              sync.RWMutex
	lastFailureTime time.Time
}

// New creates a breaker named after the dependency it protects.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{name: name, logger: logger.Named("breaker." + name)}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // never reset counts while closed; only consecutive failures matter
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn protected by the breaker. A rejection because the circuit
// is open surfaces as apperrors.KindCircuitBreakerOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		b.mu.Lock()
		b.lastFailureTime = time.Now()
		b.mu.Unlock()
		return apperrors.NewCircuitBreakerOpen(b.name)
	}
	if err != nil {
		b.mu.Lock()
		b.lastFailureTime = time.Now()
		b.mu.Unlock()
	}
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// FailureCount returns consecutive failures observed in the current window.
func (b *Breaker) FailureCount() uint32 {
	counts := b.cb.Counts()
	return counts.ConsecutiveFailures
}

// LastFailureTime returns the last time Execute observed a failure, or the
// zero time if none has occurred yet.
func (b *Breaker) LastFailureTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFailureTime
}

// Name returns the dependency name this breaker protects.
func (b *Breaker) Name() string { return b.name }

// Registry tracks every named breaker so internal/observability can expose
// {name: state} for all external dependencies.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *zap.Logger
	cfg      Config
}

// NewRegistry creates an empty registry using cfg for any breaker created
// through Get.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), logger: logger, cfg: cfg}
}

// Get returns the named breaker, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.cfg, r.logger)
	r.breakers[name] = b
	return b
}

// Snapshot returns the current state of every registered breaker.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// AnyOpen reports whether any registered breaker is currently open, used by
// internal/observability's integrity check.
func (r *Registry) AnyOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		if b.State() == StateOpen {
			return true
		}
	}
	return false
}
