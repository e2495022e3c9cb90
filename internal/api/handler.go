// Package api exposes the orchestration core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nvbach/ai-orchestrator/internal/ledger"
	"github.com/nvbach/ai-orchestrator/internal/orchestrator"
	"github.com/nvbach/ai-orchestrator/internal/selector"
	"github.com/nvbach/ai-orchestrator/internal/synthesis"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Processor is the routing pipeline behind POST /v1/process.
// Implemented by *orchestrator.Orchestrator.
type Processor interface {
	Process(ctx context.Context, content string, rc selector.RequestContext, opts orchestrator.Options) (*orchestrator.Result, error)
	GetStatus(ctx context.Context) (*orchestrator.Status, error)
}

// Synthesizer fans one request across several models and merges the
// answers. Implemented by *synthesis.Engine.
type Synthesizer interface {
	Synthesize(ctx context.Context, content string, rc selector.RequestContext, opts orchestrator.Options) (*synthesis.Result, error)
}

type Handler struct {
	orch   Processor
	synth  Synthesizer
	tracer trace.Tracer
}

// NewHandler wires the HTTP surface. synth may be nil when synthesis
// is disabled; the endpoint then answers 503.
func NewHandler(orch Processor, synth Synthesizer, tracer trace.Tracer) *Handler {
	return &Handler{
		orch:   orch,
		synth:  synth,
		tracer: tracer,
	}
}

type processRequest struct {
	Content           string  `json:"content"`
	TaskType          string  `json:"task_type"`
	Language          string  `json:"language"`
	Urgency           string  `json:"urgency"`
	Complexity        string  `json:"complexity"`
	BudgetConstrained bool    `json:"budget_constrained"`
	PreferredModel    string  `json:"preferred_model"`
	System            string  `json:"system"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	EstimatedTokens   int     `json:"estimated_tokens"`
}

func (p processRequest) requestContext() selector.RequestContext {
	return selector.RequestContext{
		TaskType:          selector.TaskType(p.TaskType),
		Language:          p.Language,
		Urgency:           selector.Urgency(p.Urgency),
		Complexity:        selector.Complexity(p.Complexity),
		BudgetConstrained: p.BudgetConstrained,
		PreferredModel:    p.PreferredModel,
	}
}

func (p processRequest) options() orchestrator.Options {
	return orchestrator.Options{
		System:          p.System,
		MaxTokens:       p.MaxTokens,
		Temperature:     p.Temperature,
		EstimatedTokens: p.EstimatedTokens,
	}
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_type", req.TaskType),
		attribute.String("urgency", req.Urgency),
		attribute.String("preferred_model", req.PreferredModel),
	)

	result, err := h.orch.Process(ctx, req.Content, req.requestContext(), req.options())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":               result.ID,
		"content":          result.Content,
		"model":            result.Model,
		"provider":         result.Provider,
		"fallback_level":   result.FallbackLevel,
		"response_time_ms": result.ResponseTime.Milliseconds(),
		"cost_usd":         result.Cost,
		"quality_score":    result.QualityScore,
		"usage": map[string]int{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"total_tokens":      result.Usage.TotalTokens,
		},
	})
}

func (h *Handler) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.synth == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "synthesis disabled"})
		return
	}

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "api.synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_type", req.TaskType),
		attribute.String("complexity", req.Complexity),
	)

	res, err := h.synth.Synthesize(ctx, req.Content, req.requestContext(), req.options())
	if err != nil {
		writeError(w, err)
		return
	}

	insights := make([]map[string]interface{}, 0, len(res.Insights))
	for _, in := range res.Insights {
		insights = append(insights, map[string]interface{}{
			"model":         in.Model,
			"provider":      in.Provider,
			"content":       in.Content,
			"quality_score": in.QualityScore,
			"cost_usd":      in.Cost,
			"latency_ms":    in.Latency.Milliseconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"strategy":        string(res.Strategy),
		"content":         res.Content,
		"consensus_score": res.ConsensusScore,
		"quality": map[string]float64{
			"completeness":  res.Quality.Completeness,
			"accuracy":      res.Quality.Accuracy,
			"insight_value": res.Quality.InsightValue,
			"clarity":       res.Quality.Clarity,
			"overall":       res.Quality.Overall,
		},
		"insights":         insights,
		"models_requested": res.ModelsRequested,
		"total_cost_usd":   res.TotalCost,
		"elapsed_ms":       res.Elapsed.Milliseconds(),
	})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.GetStatus(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	providers := make(map[string]interface{}, len(st.Providers))
	for name, ph := range st.Providers {
		providers[name] = map[string]interface{}{
			"healthy":              ph.Healthy,
			"breaker_open":         ph.BreakerOpen,
			"consecutive_failures": ph.ConsecutiveFailures,
			"total_requests":       ph.TotalRequests,
			"total_failures":       ph.TotalFailures,
			"success_rate":         ph.SuccessRate,
			"avg_latency_ms":       ph.AvgLatency.Milliseconds(),
		}
	}

	windows := make([]map[string]interface{}, 0, len(st.RateLimits))
	for _, win := range st.RateLimits {
		windows = append(windows, map[string]interface{}{
			"model":      win.Model,
			"count":      win.Count,
			"limit":      win.Limit,
			"remaining":  win.Remaining(),
			"reset_time": win.ResetTime,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"providers": providers,
		"budget": map[string]interface{}{
			"period_start":     st.Budget.PeriodStart,
			"budget_usd":       st.Budget.Budget,
			"total_usd":        st.Budget.Total,
			"remaining_usd":    st.Budget.Remaining,
			"utilization":      st.Budget.Utilization,
			"requests":         st.Budget.Requests,
			"cost_per_request": st.Budget.CostPerRequest,
			"by_provider":      st.Budget.ByProvider,
			"by_category":      st.Budget.ByCategory,
			"by_model":         st.Budget.ByModel,
			"today_usd":        st.Budget.Today,
			"daily_burn_usd":   st.Budget.DailyBurn,
			"projection_usd":   st.Budget.MonthlyProjection,
		},
		"rate_limits": windows,
		"stats": map[string]int64{
			"requests":        st.Stats.Requests,
			"successes":       st.Stats.Successes,
			"failures":        st.Stats.Failures,
			"fallbacks":       st.Stats.Fallbacks,
			"rate_limited":    st.Stats.RateLimited,
			"budget_rejected": st.Stats.BudgetRejected,
		},
	})
}

// writeError maps the pipeline's typed errors onto HTTP status codes.
// Anything unclassified is a gateway failure.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation   *orchestrator.ValidationError
		rateLimited  *orchestrator.RateLimitExceededError
		noModel      *selector.NoEligibleModelError
		overBudget   *ledger.BudgetExceededError
		insufficient *synthesis.InsufficientModelsError
	)

	status := http.StatusBadGateway
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", "60")
		status = http.StatusTooManyRequests
	case errors.As(err, &noModel):
		status = http.StatusServiceUnavailable
	case errors.As(err, &overBudget):
		status = http.StatusPaymentRequired
	case errors.As(err, &insufficient):
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
