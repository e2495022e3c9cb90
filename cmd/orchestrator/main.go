package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/nvbach/ai-orchestrator/config"
	"github.com/nvbach/ai-orchestrator/internal/api"
	"github.com/nvbach/ai-orchestrator/internal/catalog"
	"github.com/nvbach/ai-orchestrator/internal/health"
	"github.com/nvbach/ai-orchestrator/internal/ledger"
	"github.com/nvbach/ai-orchestrator/internal/metrics"
	"github.com/nvbach/ai-orchestrator/internal/orchestrator"
	"github.com/nvbach/ai-orchestrator/internal/provider"
	"github.com/nvbach/ai-orchestrator/internal/provider/claude"
	"github.com/nvbach/ai-orchestrator/internal/provider/gemini"
	"github.com/nvbach/ai-orchestrator/internal/provider/openai"
	"github.com/nvbach/ai-orchestrator/internal/schedule"
	"github.com/nvbach/ai-orchestrator/internal/selector"
	"github.com/nvbach/ai-orchestrator/internal/synthesis"
	"github.com/nvbach/ai-orchestrator/internal/telemetry"
	"github.com/nvbach/ai-orchestrator/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logger and telemetry
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracer("ai-orchestrator", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL (optional usage audit log)
	ctx := context.Background()

	var ledgerOpts []ledger.Option
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("PostgreSQL connected")
		ledgerOpts = append(ledgerOpts, ledger.WithStore(ledger.NewPostgresStore(pool)))
	}

	// 4. Connect Redis (optional shared rate-limit store)
	var store ratelimit.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to ping redis: %v", err)
		}
		log.Println("Redis connected")
		store = ratelimit.NewRedisStore(rdb, time.Minute)
	} else {
		store = ratelimit.NewMemoryStore(time.Minute)
	}

	// 5. Init metrics
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	// 6. Load model catalog
	cat := catalog.Default()
	if cfg.ModelCatalogPath != "" {
		loaded, err := catalog.Load(cfg.ModelCatalogPath)
		if err != nil {
			log.Fatalf("failed to load model catalog: %v", err)
		}
		cat = loaded
		log.Printf("Model catalog loaded from %s (%d models)", cfg.ModelCatalogPath, cat.Len())
	}

	// 7. Init providers. Only providers with keys join the registry.
	var providers []provider.Provider
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, claude.New(cfg.AnthropicAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, gemini.New(cfg.GeminiAPIKey))
	}
	registry, err := provider.NewRegistry(providers...)
	if err != nil {
		log.Fatalf("failed to build provider registry: %v", err)
	}

	// 8. Init health monitor
	healthCfg := health.DefaultConfig()
	healthCfg.FailureThreshold = cfg.BreakerFailureThreshold
	healthCfg.RecoveryThreshold = cfg.BreakerRecoveryThreshold
	healthCfg.OpenTimeout = cfg.BreakerOpenTimeout

	monitor := health.NewMonitor(healthCfg, health.WithTransitionFunc(func(tr health.Transition) {
		logger.Warn("breaker transition",
			"provider", tr.Provider,
			"from", string(tr.From),
			"to", string(tr.To),
			"reason", tr.Reason,
		)
		m.SetBreakerOpen(tr.Provider, tr.To == health.StateOpen)
	}))

	// 9. Init cost ledger
	ledgerCfg := ledger.DefaultConfig(cfg.MonthlyBudgetUSD)
	ledgerCfg.InfoThreshold = cfg.AlertInfo
	ledgerCfg.WarningThreshold = cfg.AlertWarning
	ledgerCfg.CriticalThreshold = cfg.AlertCritical

	ledgerOpts = append(ledgerOpts,
		ledger.WithLogger(logger),
		ledger.WithAlertFunc(func(a ledger.Alert) {
			logger.Warn("budget alert",
				"level", string(a.Level),
				"utilization", a.Utilization,
				"spent", a.Spent,
				"budget", a.Budget,
			)
			m.BudgetAlert(string(a.Level))
		}),
	)
	led := ledger.New(ledgerCfg, ledgerOpts...)

	// 10. Init rate limiter
	limiter := ratelimit.New(store, cfg.DefaultRPM, ratelimit.WithModelLimits(cfg.RateLimitOverrides))

	// 11. Init orchestrator and synthesis engine
	tracer := otel.GetTracerProvider().Tracer("ai-orchestrator")
	sel := selector.New(selector.DefaultConfig(), selector.WithLogger(logger))

	orch := orchestrator.New(orchestrator.Config{
		ProviderTimeout:  cfg.ProviderTimeout,
		RetryAttempts:    cfg.ProviderRetries + 1,
		EnforceBudget:    cfg.EnforceBudget,
		CostOptimization: cfg.EnableCostOptimization,
	}, registry, cat, sel, monitor, led, limiter,
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithMetrics(m),
	)

	var synth api.Synthesizer
	if cfg.EnableSynthesis {
		synth = synthesis.NewEngine(synthesis.Config{
			MaxModels:        cfg.SynthesisMaxModels,
			QualityThreshold: cfg.SynthesisQualityThreshold,
		}, orch,
			synthesis.WithLogger(logger),
			synthesis.WithMetrics(m),
		)
	}

	// 12. Init maintenance scheduler
	sched := schedule.New(schedule.WithLogger(logger))
	sched.Register("metrics-refresh", 15*time.Second, func(ctx context.Context) {
		for name, ph := range monitor.Snapshot() {
			m.SetBreakerOpen(name, ph.BreakerOpen)
			m.SetSuccessRate(name, ph.SuccessRate)
		}
		m.SetUtilization(led.Utilization())
	})
	sched.Register("ledger-prune", 24*time.Hour, func(ctx context.Context) {
		led.PruneDaily(90)
	})
	sched.Register("period-rollover", time.Hour, func(ctx context.Context) {
		now := time.Now()
		start := led.Snapshot().PeriodStart
		if now.Year() != start.Year() || now.Month() != start.Month() {
			archive := led.ResetPeriod()
			logger.Info("billing period closed",
				"start", archive.Start.Format("2006-01"),
				"total_usd", archive.Total,
				"requests", archive.Requests,
			)
		}
	})

	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	go sched.Run(schedCtx, time.Second)

	// 13. Init Chi router
	handler := api.NewHandler(orch, synth, tracer)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-orchestrator"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	r.Post("/v1/process", handler.HandleProcess)
	r.Post("/v1/synthesize", handler.HandleSynthesize)
	r.Get("/v1/status", handler.HandleStatus)

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AI Orchestrator starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
