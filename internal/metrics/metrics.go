// Package metrics exposes the orchestrator's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	fallbacks      prometheus.Counter
	spend          *prometheus.CounterVec
	utilization    prometheus.Gauge
	breakerOpen    *prometheus.GaugeVec
	successRate    *prometheus.GaugeVec
	synthesisRuns  *prometheus.CounterVec
	budgetAlerts   *prometheus.CounterVec
}

// New registers the instrument set on the given registerer. Use
// prometheus.DefaultRegisterer in the binary and a private registry in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by outcome (success, failure, skipped).",
		}, []string{"provider", "outcome"}),
		attemptLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "provider_latency_seconds",
			Help:      "Latency of successful provider calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "fallback_served_total",
			Help:      "Requests answered by a non-primary candidate.",
		}),
		spend: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "spend_usd_total",
			Help:      "Cost recorded in the ledger.",
		}, []string{"provider", "category"}),
		utilization: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "budget_utilization",
			Help:      "Current period spend over monthly budget.",
		}),
		breakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "breaker_open",
			Help:      "1 while the provider's circuit breaker is open.",
		}, []string{"provider"}),
		successRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "provider_success_rate",
			Help:      "Lifetime success rate per provider.",
		}, []string{"provider"}),
		synthesisRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "synthesis_runs_total",
			Help:      "Synthesis calls by strategy.",
		}, []string{"strategy"}),
		budgetAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "budget_alerts_total",
			Help:      "Budget threshold alerts by level.",
		}, []string{"level"}),
	}
}

// Nop returns a Metrics bound to a throwaway registry, for tests and
// for callers that do not scrape.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Attempt(provider, outcome string) {
	m.attempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveLatency(provider string, d time.Duration) {
	m.attemptLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) FallbackServed() {
	m.fallbacks.Inc()
}

func (m *Metrics) AddSpend(provider, category string, usd float64) {
	m.spend.WithLabelValues(provider, category).Add(usd)
}

func (m *Metrics) SetUtilization(u float64) {
	m.utilization.Set(u)
}

func (m *Metrics) SetBreakerOpen(provider string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.breakerOpen.WithLabelValues(provider).Set(v)
}

func (m *Metrics) SetSuccessRate(provider string, rate float64) {
	m.successRate.WithLabelValues(provider).Set(rate)
}

func (m *Metrics) SynthesisRun(strategy string) {
	m.synthesisRuns.WithLabelValues(strategy).Inc()
}

func (m *Metrics) BudgetAlert(level string) {
	m.budgetAlerts.WithLabelValues(level).Inc()
}
