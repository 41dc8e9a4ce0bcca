// Package circuitbreaker guards outbound calls to the embedding server, the
// vector store, Redis and Postgres. A breaker trips open after consecutive
// failures and probes with a bounded number of half-open requests.
package circuitbreaker

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds breaker tuning.
type Config struct {
	MaxRequests      uint32        // max probes allowed while half-open
	Interval         time.Duration // closed-state counter reset interval
	Timeout          time.Duration // open -> half-open transition delay
	FailureThreshold uint32        // consecutive failures that trip the breaker
	SuccessThreshold uint32        // consecutive half-open successes to close
}

// DefaultConfig returns the defaults used for HTTP backends, with per-field
// env overrides (CB_MAX_REQUESTS, CB_INTERVAL, CB_TIMEOUT,
// CB_FAILURE_THRESHOLD, CB_SUCCESS_THRESHOLD).
func DefaultConfig() Config {
	return Config{
		MaxRequests:      envUint32("CB_MAX_REQUESTS", 3),
		Interval:         envDuration("CB_INTERVAL", 30*time.Second),
		Timeout:          envDuration("CB_TIMEOUT", 15*time.Second),
		FailureThreshold: envUint32("CB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: envUint32("CB_SUCCESS_THRESHOLD", 2),
	}
}

type counts struct {
	requests             uint32
	consecutiveFailures  uint32
	consecutiveSuccesses uint32
}

// Breaker implements the circuit breaker state machine.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

// New creates a breaker. A nil logger falls back to a no-op logger.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		expiry: time.Now().Add(cfg.Interval),
	}
}

// Execute runs fn when the breaker admits the request and records the
// outcome. A panic inside fn counts as a failure and is re-raised.
func (b *Breaker) Execute(_ context.Context, fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.settle(gen, false)
			panic(r)
		}
	}()
	err = fn()
	b.settle(gen, err == nil)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, _ := b.reconcile(time.Now())
	return s
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, gen := b.reconcile(now)
	switch {
	case state == StateOpen:
		return gen, ErrOpen
	case state == StateHalfOpen && b.counts.requests >= b.cfg.MaxRequests:
		return gen, ErrTooManyRequests
	}
	b.counts.requests++
	return gen, nil
}

func (b *Breaker) settle(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, cur := b.reconcile(now)
	if cur != gen {
		return // stale outcome from a previous generation
	}
	if success {
		b.counts.consecutiveSuccesses++
		b.counts.consecutiveFailures = 0
		if state == StateHalfOpen && b.counts.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.transition(StateClosed, now)
		}
		return
	}
	b.counts.consecutiveFailures++
	b.counts.consecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.counts.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) reconcile(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.newGeneration(now)
	recordStateChange(b.name, prev, state)
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = counts{}
	switch b.state {
	case StateClosed:
		if b.cfg.Interval == 0 {
			b.expiry = time.Time{}
		} else {
			b.expiry = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		b.expiry = now.Add(b.cfg.Timeout)
	default:
		b.expiry = time.Time{}
	}
}

func envUint32(key string, def uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
