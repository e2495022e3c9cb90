// Package orchestrator runs the request pipeline: validate, gate on
// budget, rank the catalog, then walk the fallback chain with retries
// until one provider answers.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nvbach/ai-orchestrator/internal/catalog"
	"github.com/nvbach/ai-orchestrator/internal/health"
	"github.com/nvbach/ai-orchestrator/internal/ledger"
	"github.com/nvbach/ai-orchestrator/internal/metrics"
	"github.com/nvbach/ai-orchestrator/internal/provider"
	"github.com/nvbach/ai-orchestrator/internal/selector"
	"github.com/nvbach/ai-orchestrator/pkg/ratelimit"
)

type Config struct {
	// ProviderTimeout bounds one candidate's attempts, retries included.
	ProviderTimeout time.Duration
	// RetryAttempts is the total tries per candidate before falling back.
	RetryAttempts int
	// EnforceBudget rejects new work once the period budget is spent.
	EnforceBudget bool
	// CostOptimization ranks candidates by the blended score. When off,
	// ranking is by adjusted quality alone.
	CostOptimization bool
}

func DefaultConfig() Config {
	return Config{
		ProviderTimeout:  60 * time.Second,
		RetryAttempts:    3,
		EnforceBudget:    true,
		CostOptimization: true,
	}
}

// Options carries the per-request knobs that are not routing context.
type Options struct {
	System      string
	MaxTokens   int
	Temperature float64
	// EstimatedTokens overrides the length-based prompt estimate.
	EstimatedTokens int
}

// Result is one completed request with its routing annotations.
type Result struct {
	ID            string
	Content       string
	Usage         provider.Usage
	Model         string
	Provider      string
	FallbackLevel int
	ResponseTime  time.Duration
	Cost          float64
	QualityScore  float64
}

// Stats are cumulative since process start.
type Stats struct {
	Requests       int64
	Successes      int64
	Failures       int64
	Fallbacks      int64
	RateLimited    int64
	BudgetRejected int64
}

// Status aggregates the live state of every subsystem.
type Status struct {
	Providers  map[string]health.ProviderHealth
	Budget     ledger.Snapshot
	RateLimits []ratelimit.Window
	Stats      Stats
}

type Orchestrator struct {
	cfg      Config
	registry *provider.Registry
	catalog  *catalog.Catalog
	selector *selector.Selector
	health   *health.Monitor
	ledger   *ledger.Ledger
	limiter  *ratelimit.Limiter

	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	sleep   SleepFunc

	requests       atomic.Int64
	successes      atomic.Int64
	failures       atomic.Int64
	fallbacks      atomic.Int64
	rateLimited    atomic.Int64
	budgetRejected atomic.Int64
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleep replaces the retry delay, so tests run without waiting.
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func New(cfg Config, reg *provider.Registry, cat *catalog.Catalog, sel *selector.Selector,
	mon *health.Monitor, led *ledger.Ledger, lim *ratelimit.Limiter, opts ...Option) *Orchestrator {

	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 60 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: reg,
		catalog:  cat,
		selector: sel,
		health:   mon,
		ledger:   led,
		limiter:  lim,
		metrics:  metrics.Nop(),
		tracer:   noop.NewTracerProvider().Tracer("orchestrator"),
		logger:   slog.Default(),
		sleep:    defaultSleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	mon.Register(reg.Names()...)
	return o
}

// Process routes one request through the best available model, falling
// back down the ranked candidate list on failure.
func (o *Orchestrator) Process(ctx context.Context, content string, rc selector.RequestContext, opts Options) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if rc.PreferredModel != "" {
		if _, ok := o.catalog.Get(rc.PreferredModel); !ok {
			return nil, &ValidationError{Field: "preferred_model", Reason: "unknown model " + rc.PreferredModel}
		}
	}
	o.requests.Add(1)

	if err := o.checkBudget(); err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	ctx, span := o.tracer.Start(ctx, "orchestrator.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("task_type", string(rc.TaskType)),
	)

	estimated := opts.EstimatedTokens
	if estimated <= 0 {
		estimated = estimateTokens(content, opts.System)
	}

	ranked, err := o.rank(rc, o.AvailableModels(), estimated)
	if err != nil {
		return nil, err
	}

	res, err := o.run(ctx, rc, ranked, content, opts, requestID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("provider", res.Provider),
		attribute.String("model", res.Model),
		attribute.Int("fallback_level", res.FallbackLevel),
	)
	return res, nil
}

// ProcessWithModel pins the request to one catalog model, keeping every
// gate of the normal pipeline. Synthesis uses it to fan out lanes.
func (o *Orchestrator) ProcessWithModel(ctx context.Context, modelID, content string, rc selector.RequestContext, opts Options) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	d, ok := o.catalog.Get(modelID)
	if !ok {
		return nil, &ValidationError{Field: "model", Reason: "unknown model " + modelID}
	}
	if !o.registry.Has(d.Provider) {
		return nil, &ValidationError{Field: "model", Reason: "provider " + d.Provider + " not configured"}
	}
	o.requests.Add(1)

	if err := o.checkBudget(); err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_with_model")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("model", modelID),
	)

	estimated := opts.EstimatedTokens
	if estimated <= 0 {
		estimated = estimateTokens(content, opts.System)
	}

	ranked, err := o.rank(rc, []catalog.Descriptor{d}, estimated)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, rc, ranked, content, opts, requestID)
}

func (o *Orchestrator) checkBudget() error {
	if !o.cfg.EnforceBudget {
		return nil
	}
	if err := o.ledger.CheckBudget(); err != nil {
		o.budgetRejected.Add(1)
		return err
	}
	return nil
}

func (o *Orchestrator) rank(rc selector.RequestContext, models []catalog.Descriptor, estimated int) ([]selector.Candidate, error) {
	if o.cfg.CostOptimization {
		return o.selector.Rank(rc, models, estimated, o.ledger.Utilization())
	}
	return o.selector.RankQuality(rc, models, estimated)
}

// run walks the candidate list in order. Skips (open breaker, unhealthy
// provider, exhausted quota) cost nothing; a contacted provider that
// fails all retries records a failure and the walk moves on.
func (o *Orchestrator) run(ctx context.Context, rc selector.RequestContext, ranked []selector.Candidate, content string, opts Options, requestID string) (*Result, error) {
	var lastErr error
	attempted := 0
	overQuota := 0

	for level, cand := range ranked {
		if ctx.Err() != nil {
			break
		}
		name := cand.Model.Provider
		p, ok := o.registry.Get(name)
		if !ok {
			continue
		}

		if err := o.health.Check(name); err != nil {
			o.metrics.Attempt(name, "skipped")
			o.logger.Debug("candidate gated",
				"provider", name, "model", cand.Model.ID, "reason", err)
			lastErr = err
			continue
		}

		allowed, err := o.limiter.Allow(ctx, cand.Model.ID)
		if err != nil {
			lastErr = err
			continue
		}
		if !allowed {
			overQuota++
			o.metrics.Attempt(name, "skipped")
			o.logger.Debug("candidate over quota", "model", cand.Model.ID)
			continue
		}
		if err := o.limiter.Record(ctx, cand.Model.ID); err != nil {
			lastErr = err
			continue
		}

		attempted++
		resp, latency, err := o.attempt(ctx, p, &provider.Request{
			Model:       cand.Model.ID,
			System:      opts.System,
			Messages:    []provider.Message{{Role: "user", Content: content}},
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
			RequestID:   requestID,
		})
		if err != nil {
			lastErr = err
			o.health.RecordFailure(name)
			o.metrics.Attempt(name, "failure")
			o.logger.Warn("provider attempt failed",
				"provider", name,
				"model", cand.Model.ID,
				"fallback_level", level,
				"error", err)
			continue
		}

		o.health.RecordSuccess(name, latency)
		o.metrics.Attempt(name, "success")
		o.metrics.ObserveLatency(name, latency)

		cost := cand.Model.CostFor(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		o.ledger.TrackCost(ledger.Entry{
			RequestID: requestID,
			Provider:  name,
			Model:     cand.Model.ID,
			Category:  rc.Category(),
			Usage:     resp.Usage,
			Cost:      cost,
			Latency:   latency,
		})
		o.metrics.AddSpend(name, rc.Category(), cost)
		o.metrics.SetUtilization(o.ledger.Utilization())

		o.successes.Add(1)
		if level > 0 {
			o.fallbacks.Add(1)
			o.metrics.FallbackServed()
			o.logger.Info("served by fallback",
				"provider", name, "model", cand.Model.ID, "fallback_level", level)
		}

		return &Result{
			ID:            requestID,
			Content:       resp.Content,
			Usage:         resp.Usage,
			Model:         cand.Model.ID,
			Provider:      name,
			FallbackLevel: level,
			ResponseTime:  latency,
			Cost:          cost,
			QualityScore:  cand.QualityScore,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		o.failures.Add(1)
		return nil, err
	}
	if overQuota == len(ranked) {
		o.rateLimited.Add(1)
		return nil, &RateLimitExceededError{Models: len(ranked)}
	}
	o.failures.Add(1)
	return nil, &AllProvidersFailedError{Attempted: attempted, LastErr: lastErr}
}

// attempt sends to one provider, retrying transient and rate-limit
// failures with jittered exponential backoff. Auth and invalid-request
// errors abort immediately so the walk can move to the next candidate.
func (o *Orchestrator) attempt(ctx context.Context, p provider.Provider, req *provider.Request) (*provider.Response, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		start := time.Now()
		resp, err := p.Send(ctx, req)
		if err == nil {
			return resp, time.Since(start), nil
		}
		lastErr = err

		var pe *provider.Error
		if !errors.As(err, &pe) || !pe.Retryable() {
			break
		}
		if attempt == o.cfg.RetryAttempts {
			break
		}

		delay := jitter(backoffDelay(attempt))
		if pe.RetryAfter > 0 {
			// A hint that overruns the attempt budget is a signal to
			// fall back now rather than wait out a sleep we cannot use.
			if time.Until(deadline) <= pe.RetryAfter {
				break
			}
			delay = pe.RetryAfter
		}
		if err := o.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, 0, lastErr
}

// AvailableModels is the catalog filtered to configured providers.
func (o *Orchestrator) AvailableModels() []catalog.Descriptor {
	models := make([]catalog.Descriptor, 0, o.catalog.Len())
	for _, d := range o.catalog.All() {
		if o.registry.Has(d.Provider) {
			models = append(models, d)
		}
	}
	return models
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Requests:       o.requests.Load(),
		Successes:      o.successes.Load(),
		Failures:       o.failures.Load(),
		Fallbacks:      o.fallbacks.Load(),
		RateLimited:    o.rateLimited.Load(),
		BudgetRejected: o.budgetRejected.Load(),
	}
}

// GetStatus assembles the status view served by the API.
func (o *Orchestrator) GetStatus(ctx context.Context) (*Status, error) {
	windows, err := o.limiter.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Providers:  o.health.Snapshot(),
		Budget:     o.ledger.Snapshot(),
		RateLimits: windows,
		Stats:      o.Stats(),
	}, nil
}

// estimateTokens approximates prompt size at four characters per token.
func estimateTokens(content, system string) int {
	n := (len(content) + len(system)) / 4
	if n < 1 {
		n = 1
	}
	return n
}
