// Package health tracks per-provider outcome statistics and gates
// fallback attempts through a circuit breaker.
//
// The breaker has no explicit half-open state. Once the open timeout
// elapses the breaker closes and the next attempt probes recovery: the
// failure counter is retained across the close, so a failed probe trips
// the breaker again immediately.
package health

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrBreakerOpen = errors.New("circuit breaker open")
	ErrUnhealthy   = errors.New("provider unhealthy")
)

type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

type Config struct {
	// FailureThreshold opens the breaker when consecutive failures
	// reach it.
	FailureThreshold int
	// RecoveryThreshold closes an open breaker when a success brings
	// the failure counter down to or below it.
	RecoveryThreshold int
	// OpenTimeout is how long an open breaker blocks attempts before
	// a probe is allowed through.
	OpenTimeout time.Duration
	// LatencyWindow caps the moving-average latency sample count.
	LatencyWindow int
	// MinRequests and MinSuccessRate form the unhealthy gate: a
	// provider with more than MinRequests total attempts and a success
	// rate below MinSuccessRate is skipped even with a closed breaker.
	MinRequests    int64
	MinSuccessRate float64
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:  3,
		RecoveryThreshold: 1,
		OpenTimeout:       60 * time.Second,
		LatencyWindow:     50,
		MinRequests:       10,
		MinSuccessRate:    0.5,
	}
}

// ProviderHealth is a point-in-time copy of one provider's stats.
type ProviderHealth struct {
	Provider            string
	Healthy             bool
	BreakerOpen         bool
	OpenedAt            time.Time
	ConsecutiveFailures int
	TotalRequests       int64
	TotalFailures       int64
	SuccessRate         float64
	AvgLatency          time.Duration
	LastFailure         time.Time
}

// Transition describes one breaker state change.
type Transition struct {
	Provider string
	From, To State
	Reason   string
	At       time.Time
}

// TransitionFunc observes breaker state changes. Callbacks run outside
// the monitor lock, in call order, on the goroutine that caused the
// transition.
type TransitionFunc func(Transition)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type record struct {
	open                bool
	openedAt            time.Time
	consecutiveFailures int
	totalRequests       int64
	totalFailures       int64
	lastFailure         time.Time

	latencies []time.Duration
	latIdx    int
	latSum    time.Duration
}

func (r *record) successRate() float64 {
	if r.totalRequests == 0 {
		return 1.0
	}
	return float64(r.totalRequests-r.totalFailures) / float64(r.totalRequests)
}

func (r *record) avgLatency() time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	return r.latSum / time.Duration(len(r.latencies))
}

type Monitor struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	records   map[string]*record
	listeners []TransitionFunc
}

type Option func(*Monitor)

func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithTransitionFunc(fn TransitionFunc) Option {
	return func(m *Monitor) { m.listeners = append(m.listeners, fn) }
}

func NewMonitor(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:     cfg,
		clock:   realClock{},
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register pre-creates records so status snapshots list providers that
// have not served traffic yet.
func (m *Monitor) Register(providers ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range providers {
		m.get(p)
	}
}

// get returns the record for a provider, creating it on first use.
// Caller must hold the lock.
func (m *Monitor) get(provider string) *record {
	r, ok := m.records[provider]
	if !ok {
		r = &record{}
		m.records[provider] = r
	}
	return r
}

// Check gates an attempt against the given provider. A nil return
// means the attempt may proceed. An expired open breaker closes as a
// side effect, letting this attempt probe recovery.
func (m *Monitor) Check(provider string) error {
	m.mu.Lock()
	r := m.get(provider)

	var tr *Transition
	if r.open {
		if m.clock.Now().Sub(r.openedAt) <= m.cfg.OpenTimeout {
			m.mu.Unlock()
			return fmt.Errorf("%s: %w", provider, ErrBreakerOpen)
		}
		r.open = false
		tr = &Transition{
			Provider: provider,
			From:     StateOpen,
			To:       StateClosed,
			Reason:   "open timeout elapsed",
			At:       m.clock.Now(),
		}
	}

	if r.totalRequests > m.cfg.MinRequests && r.successRate() < m.cfg.MinSuccessRate {
		m.mu.Unlock()
		m.emit(tr)
		return fmt.Errorf("%s: %w", provider, ErrUnhealthy)
	}

	m.mu.Unlock()
	m.emit(tr)
	return nil
}

// RecordSuccess applies a successful attempt outcome.
func (m *Monitor) RecordSuccess(provider string, latency time.Duration) {
	m.mu.Lock()
	r := m.get(provider)
	r.totalRequests++
	if r.consecutiveFailures > 0 {
		r.consecutiveFailures--
	}
	r.addLatency(latency, m.cfg.LatencyWindow)

	var tr *Transition
	if r.open && r.consecutiveFailures <= m.cfg.RecoveryThreshold {
		r.open = false
		tr = &Transition{
			Provider: provider,
			From:     StateOpen,
			To:       StateClosed,
			Reason:   "recovered",
			At:       m.clock.Now(),
		}
	}
	m.mu.Unlock()
	m.emit(tr)
}

// RecordFailure applies a failed attempt outcome.
func (m *Monitor) RecordFailure(provider string) {
	m.mu.Lock()
	r := m.get(provider)
	now := m.clock.Now()
	r.totalRequests++
	r.totalFailures++
	r.consecutiveFailures++
	r.lastFailure = now

	var tr *Transition
	if !r.open && r.consecutiveFailures >= m.cfg.FailureThreshold {
		r.open = true
		r.openedAt = now
		tr = &Transition{
			Provider: provider,
			From:     StateClosed,
			To:       StateOpen,
			Reason:   "failure threshold reached",
			At:       now,
		}
	}
	m.mu.Unlock()
	m.emit(tr)
}

func (r *record) addLatency(latency time.Duration, window int) {
	if window <= 0 {
		return
	}
	if len(r.latencies) < window {
		r.latencies = append(r.latencies, latency)
		r.latSum += latency
		return
	}
	r.latSum -= r.latencies[r.latIdx]
	r.latencies[r.latIdx] = latency
	r.latSum += latency
	r.latIdx = (r.latIdx + 1) % window
}

func (m *Monitor) emit(tr *Transition) {
	if tr == nil {
		return
	}
	for _, fn := range m.listeners {
		fn(*tr)
	}
}

// Get returns a copy of one provider's stats.
func (m *Monitor) Get(provider string) (ProviderHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[provider]
	if !ok {
		return ProviderHealth{}, false
	}
	return m.snapshot(provider, r), true
}

// Snapshot copies the stats of every known provider.
func (m *Monitor) Snapshot() map[string]ProviderHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ProviderHealth, len(m.records))
	for p, r := range m.records {
		out[p] = m.snapshot(p, r)
	}
	return out
}

func (m *Monitor) snapshot(provider string, r *record) ProviderHealth {
	unhealthy := r.totalRequests > m.cfg.MinRequests && r.successRate() < m.cfg.MinSuccessRate
	return ProviderHealth{
		Provider:            provider,
		Healthy:             !r.open && !unhealthy,
		BreakerOpen:         r.open,
		OpenedAt:            r.openedAt,
		ConsecutiveFailures: r.consecutiveFailures,
		TotalRequests:       r.totalRequests,
		TotalFailures:       r.totalFailures,
		SuccessRate:         r.successRate(),
		AvgLatency:          r.avgLatency(),
		LastFailure:         r.lastFailure,
	}
}
