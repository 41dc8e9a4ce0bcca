package circuitbreaker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_circuit_breaker_requests_total",
			Help: "Requests admitted through a circuit breaker",
		},
		[]string{"name", "state", "result"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

func recordStateChange(name string, from, to State) {
	breakerStateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
}

func recordRequest(name string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	breakerRequests.WithLabelValues(name, state.String(), result).Inc()
}

// HTTPWrapper wraps an http.Client with a breaker. 5xx responses count as
// breaker failures; 4xx do not trip it.
type HTTPWrapper struct {
	client *http.Client
	b      *Breaker
	name   string
}

// NewHTTPWrapper creates a breaker-guarded HTTP client.
func NewHTTPWrapper(client *http.Client, name string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPWrapper{
		client: client,
		b:      New(name, DefaultConfig(), logger),
		name:   name,
	}
}

// Do executes the request through the breaker.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.b.Execute(req.Context(), func() error {
		var err2 error
		resp, err2 = hw.client.Do(req)
		if err2 != nil {
			return err2
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	recordRequest(hw.name, hw.b.State(), err == nil)

	// A 5xx classified failure still carries a usable response; hand it back
	// so the caller can apply its own retry policy.
	if _, ok := err.(*statusError); ok {
		return resp, nil
	}
	return resp, err
}

// State exposes the breaker state for health checks.
func (hw *HTTPWrapper) State() State { return hw.b.State() }

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
