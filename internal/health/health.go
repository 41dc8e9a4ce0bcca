// Package health aggregates dependency probes for the admin endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const probeTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// Status is one dependency's probe outcome.
type Status struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Manager runs registered checkers on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	log      *zap.Logger
}

// NewManager builds an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{log: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// Check probes every dependency concurrently.
func (m *Manager) Check(ctx context.Context) (map[string]Status, bool) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	type result struct {
		name   string
		status Status
	}
	results := make(chan result, len(checkers))
	for _, c := range checkers {
		go func(c Checker) {
			st := Status{Healthy: true}
			if err := c.Check(ctx); err != nil {
				st = Status{Healthy: false, Error: err.Error()}
			}
			results <- result{name: c.Name(), status: st}
		}(c)
	}

	out := make(map[string]Status, len(checkers))
	healthy := true
	for range checkers {
		r := <-results
		out[r.name] = r.status
		if !r.status.Healthy {
			healthy = false
			m.log.Warn("Health check failed", zap.String("dependency", r.name), zap.String("error", r.status.Error))
		}
	}
	return out, healthy
}

// Handler serves the aggregate health report; 503 when any dependency is
// down.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, healthy := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"healthy":      healthy,
			"dependencies": statuses,
			"ts":           time.Now().UTC(),
		})
	}
}

// LivenessHandler always answers 200; the process is up if it can serve it.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
