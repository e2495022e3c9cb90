package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// unset clears key for the test while letting t.Setenv restore the
// original value afterwards.
func unset(t *testing.T, key string) {
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func clearConfigEnv(t *testing.T) {
	keys := []string{
		"PORT", "POSTGRES_DSN", "REDIS_ADDR",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
		"MONTHLY_BUDGET_USD", "BUDGET_ALERT_INFO", "BUDGET_ALERT_WARNING", "BUDGET_ALERT_CRITICAL",
		"ENFORCE_BUDGET", "RATE_LIMIT_DEFAULT_RPM", "RATE_LIMIT_OVERRIDES",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_RECOVERY_THRESHOLD", "BREAKER_OPEN_TIMEOUT",
		"PROVIDER_TIMEOUT", "PROVIDER_RETRIES",
		"SYNTHESIS_MAX_MODELS", "SYNTHESIS_QUALITY_THRESHOLD", "ENABLE_SYNTHESIS",
		"ENABLE_COST_OPTIMIZATION", "MODEL_CATALOG_PATH",
		"OTEL_EXPORTER_TYPE", "OTEL_EXPORTER_ENDPOINT",
	}
	for _, k := range keys {
		unset(t, k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.MonthlyBudgetUSD != 100 {
		t.Errorf("Expected budget 100, got %v", cfg.MonthlyBudgetUSD)
	}
	if cfg.AlertInfo != 0.70 || cfg.AlertWarning != 0.85 || cfg.AlertCritical != 0.95 {
		t.Errorf("Expected alert thresholds 0.70/0.85/0.95, got %v/%v/%v",
			cfg.AlertInfo, cfg.AlertWarning, cfg.AlertCritical)
	}
	if !cfg.EnforceBudget {
		t.Errorf("Expected budget enforcement on by default")
	}
	if cfg.DefaultRPM != 60 {
		t.Errorf("Expected default 60 rpm, got %d", cfg.DefaultRPM)
	}
	if len(cfg.RateLimitOverrides) != 0 {
		t.Errorf("Expected no overrides, got %v", cfg.RateLimitOverrides)
	}
	if cfg.BreakerFailureThreshold != 3 || cfg.BreakerRecoveryThreshold != 1 {
		t.Errorf("Expected breaker thresholds 3/1, got %d/%d",
			cfg.BreakerFailureThreshold, cfg.BreakerRecoveryThreshold)
	}
	if cfg.BreakerOpenTimeout != 60*time.Second {
		t.Errorf("Expected 60s open timeout, got %v", cfg.BreakerOpenTimeout)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Errorf("Expected 30s provider timeout, got %v", cfg.ProviderTimeout)
	}
	if cfg.ProviderRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", cfg.ProviderRetries)
	}
	if cfg.SynthesisMaxModels != 3 {
		t.Errorf("Expected 3 synthesis models, got %d", cfg.SynthesisMaxModels)
	}
	if cfg.SynthesisQualityThreshold != 0.6 {
		t.Errorf("Expected quality threshold 0.6, got %v", cfg.SynthesisQualityThreshold)
	}
	if !cfg.EnableSynthesis {
		t.Errorf("Expected synthesis on by default")
	}
	if !cfg.EnableCostOptimization {
		t.Errorf("Expected cost optimization on by default")
	}
	if cfg.OTELExporterType != "stdout" {
		t.Errorf("Expected stdout exporter, got %s", cfg.OTELExporterType)
	}
	if cfg.OTELExporterEndpoint != "localhost:4317" {
		t.Errorf("Expected localhost:4317 endpoint, got %s", cfg.OTELExporterEndpoint)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MONTHLY_BUDGET_USD", "250.5")
	t.Setenv("ENFORCE_BUDGET", "false")
	t.Setenv("RATE_LIMIT_DEFAULT_RPM", "120")
	t.Setenv("BREAKER_OPEN_TIMEOUT", "90s")
	t.Setenv("PROVIDER_RETRIES", "5")
	t.Setenv("ENABLE_SYNTHESIS", "false")
	t.Setenv("MODEL_CATALOG_PATH", "/etc/orchestrator/models.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Errorf("Expected OpenAI key to carry over, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.MonthlyBudgetUSD != 250.5 {
		t.Errorf("Expected budget 250.5, got %v", cfg.MonthlyBudgetUSD)
	}
	if cfg.EnforceBudget {
		t.Errorf("Expected budget enforcement off")
	}
	if cfg.DefaultRPM != 120 {
		t.Errorf("Expected 120 rpm, got %d", cfg.DefaultRPM)
	}
	if cfg.BreakerOpenTimeout != 90*time.Second {
		t.Errorf("Expected 90s open timeout, got %v", cfg.BreakerOpenTimeout)
	}
	if cfg.ProviderRetries != 5 {
		t.Errorf("Expected 5 retries, got %d", cfg.ProviderRetries)
	}
	if cfg.EnableSynthesis {
		t.Errorf("Expected synthesis off")
	}
	if cfg.ModelCatalogPath != "/etc/orchestrator/models.yaml" {
		t.Errorf("Expected catalog path to carry over, got %q", cfg.ModelCatalogPath)
	}
}

func TestRateLimitOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RATE_LIMIT_OVERRIDES", "gpt-5.2=120, gemini-3-flash=600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.RateLimitOverrides) != 2 {
		t.Fatalf("Expected 2 overrides, got %d", len(cfg.RateLimitOverrides))
	}
	if cfg.RateLimitOverrides["gpt-5.2"] != 120 {
		t.Errorf("Expected gpt-5.2 at 120 rpm, got %d", cfg.RateLimitOverrides["gpt-5.2"])
	}
	if cfg.RateLimitOverrides["gemini-3-flash"] != 600 {
		t.Errorf("Expected gemini-3-flash at 600 rpm, got %d", cfg.RateLimitOverrides["gemini-3-flash"])
	}
}

func TestRateLimitOverridesMalformed(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("RATE_LIMIT_OVERRIDES", "gpt-5.2")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for entry without rpm")
	}

	t.Setenv("RATE_LIMIT_OVERRIDES", "gpt-5.2=lots")
	if _, err := Load(); err == nil {
		t.Errorf("Expected error for non-numeric rpm")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("MONTHLY_BUDGET_USD", "lots")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MONTHLY_BUDGET_USD") {
		t.Errorf("Expected MONTHLY_BUDGET_USD error, got %v", err)
	}
	unset(t, "MONTHLY_BUDGET_USD")

	t.Setenv("ENFORCE_BUDGET", "maybe")
	_, err = Load()
	if err == nil || !strings.Contains(err.Error(), "ENFORCE_BUDGET") {
		t.Errorf("Expected ENFORCE_BUDGET error, got %v", err)
	}
	unset(t, "ENFORCE_BUDGET")

	t.Setenv("PROVIDER_TIMEOUT", "30")
	_, err = Load()
	if err == nil || !strings.Contains(err.Error(), "PROVIDER_TIMEOUT") {
		t.Errorf("Expected PROVIDER_TIMEOUT error for missing unit, got %v", err)
	}
}

func TestAlertThresholdsMustAscend(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BUDGET_ALERT_INFO", "0.9")
	t.Setenv("BUDGET_ALERT_WARNING", "0.8")

	if _, err := Load(); err == nil {
		t.Errorf("Expected error for descending thresholds")
	}
}
