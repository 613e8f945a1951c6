package health

import (
	"sort"
	"sync"
	"time"

	"github.com/Alert17/zkclear-core/internal/metrics"
)

// Status is the health state of one component loop.
type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	// StatusHalted is deliberate: the component stopped making progress on
	// purpose (sealing halt) and stays halted until resolved.
	StatusHalted Status = "HALTED"

	// DefaultUnhealthyThreshold is the number of consecutive failures
	// before a component is considered unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatencyThreshold is the P95 cycle latency beyond
	// which a component is considered degraded.
	DefaultDegradedLatencyThreshold = 5 * time.Second

	// latencyWindowSize is the number of recent cycle latencies tracked.
	latencyWindowSize = 10
)

func statusGaugeValue(s Status) float64 {
	switch s {
	case StatusHealthy, StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	case StatusHalted:
		return 3
	default:
		return 0
	}
}

// Tracker follows the health of a single component.
type Tracker struct {
	mu                       sync.RWMutex
	component                string
	status                   Status
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	lastError                string
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration
}

func NewTracker(component string) *Tracker {
	return &Tracker{
		component:                component,
		status:                   StatusUnknown,
		unhealthyThreshold:       DefaultUnhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
	}
}

// RecordSuccess records a successful cycle and returns true if it
// represents a recovery from an unhealthy state. A halted tracker does not
// recover through cycle successes; see Resume.
func (t *Tracker) RecordSuccess() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusHalted {
		return false
	}
	now := time.Now()
	wasUnhealthy := t.status == StatusUnhealthy
	t.consecutiveFailures = 0
	t.lastSuccessAt = &now
	t.lastError = ""
	if t.isLatencyDegraded() {
		t.setStatus(StatusDegraded)
	} else {
		t.setStatus(StatusHealthy)
	}
	metrics.ComponentConsecutiveFailures.WithLabelValues(t.component).Set(0)
	return wasUnhealthy
}

// RecordFailure records a failed cycle. Returns true if the component
// transitioned to unhealthy on this call.
func (t *Tracker) RecordFailure(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.consecutiveFailures++
	t.lastFailureAt = &now
	if err != nil {
		t.lastError = err.Error()
	}
	metrics.ComponentConsecutiveFailures.WithLabelValues(t.component).Set(float64(t.consecutiveFailures))
	if t.status == StatusHalted {
		return false
	}
	if t.consecutiveFailures >= t.unhealthyThreshold && t.status != StatusUnhealthy {
		t.setStatus(StatusUnhealthy)
		return true
	}
	return false
}

// RecordLatency records one cycle latency and re-evaluates degraded state.
func (t *Tracker) RecordLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.recentLatencies) >= latencyWindowSize {
		t.recentLatencies = t.recentLatencies[1:]
	}
	t.recentLatencies = append(t.recentLatencies, d)

	if t.status == StatusHealthy || t.status == StatusDegraded {
		if t.isLatencyDegraded() {
			t.setStatus(StatusDegraded)
		} else if t.consecutiveFailures == 0 {
			t.setStatus(StatusHealthy)
		}
	}
}

// Halt pins the tracker to HALTED until Resume is called.
func (t *Tracker) Halt(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastError = reason
	t.setStatus(StatusHalted)
}

// Resume lifts a halt; the next cycle outcome decides the new status.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusHalted {
		return
	}
	t.consecutiveFailures = 0
	t.setStatus(StatusUnknown)
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// setStatus must be called with mu held.
func (t *Tracker) setStatus(s Status) {
	t.status = s
	metrics.ComponentHealthStatus.WithLabelValues(t.component).Set(statusGaugeValue(s))
}

// isLatencyDegraded must be called with mu held.
func (t *Tracker) isLatencyDegraded() bool {
	if len(t.recentLatencies) < 2 {
		return false
	}
	return t.percentileLatency(95) > t.degradedLatencyThreshold
}

// percentileLatency must be called with mu held.
func (t *Tracker) percentileLatency(pct int) time.Duration {
	n := len(t.recentLatencies)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, t.recentLatencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (pct*n - 1) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Snapshot returns a point-in-time, JSON-safe view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Component:           t.component,
		Status:              string(t.status),
		ConsecutiveFailures: t.consecutiveFailures,
		LastSuccessAt:       t.lastSuccessAt,
		LastFailureAt:       t.lastFailureAt,
		LastError:           t.lastError,
	}
}

type Snapshot struct {
	Component           string     `json:"component"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// Registry aggregates the trackers of every component for the health
// endpoint.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Register creates (or returns the existing) tracker for a component.
func (r *Registry) Register(component string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[component]; ok {
		return t
	}
	t := NewTracker(component)
	r.trackers[component] = t
	return t
}

// Snapshots returns every component snapshot sorted by component name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.trackers))
	for _, t := range r.trackers {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// Healthy reports whether no component is UNHEALTHY or HALTED. UNKNOWN and
// DEGRADED components do not fail the process-level check.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.trackers {
		switch t.Status() {
		case StatusUnhealthy, StatusHalted:
			return false
		}
	}
	return true
}
