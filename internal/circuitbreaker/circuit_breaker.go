// Package circuitbreaker skips calls to a dependency that keeps failing
// until a cool-down has elapsed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/snapshot-refresher/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means a single probe request is allowed through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before a probe is allowed
	Timeout time.Duration
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxFailures: 3,
		Timeout:     5 * time.Minute,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	now         func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	probing          bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	maxFailures := config.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:        config.Name,
		maxFailures: maxFailures,
		timeout:     config.Timeout,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	// a caller that gave up says nothing about the dependency
	if err != nil && ctx.Err() != nil {
		cb.mu.Lock()
		cb.probing = false
		cb.mu.Unlock()
		return err
	}

	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = true
		logging.WithField("circuitBreaker", cb.name).Info("Circuit breaker transitioning to half-open")
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		if cb.state != StateClosed {
			logging.WithField("circuitBreaker", cb.name).Info("Circuit breaker closed after successful probe")
		}
		cb.state = StateClosed
		cb.consecutiveFails = 0
		return
	}

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		logging.WithFields(map[string]interface{}{
			"circuitBreaker":   cb.name,
			"consecutiveFails": cb.consecutiveFails,
		}).Warn("Circuit breaker opened due to failures")
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.probing = false
}

// Manager hands out one breaker per name
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	config   func(name string) *Config
}

// NewManager creates a manager that builds breakers with configFor; nil uses DefaultConfig
func NewManager(configFor func(name string) *Config) *Manager {
	if configFor == nil {
		configFor = DefaultConfig
	}
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   configFor,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *Manager) GetOrCreate(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(m.config(name))
	m.breakers[name] = cb
	return cb
}

// States returns the state of every breaker, keyed by name
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetState()
	}
	return out
}
