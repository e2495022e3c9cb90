package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database. Optional: without a DSN the usage audit log is skipped.
	PostgresDSN string

	// Cache. Optional: without an address rate limits are process-local.
	RedisAddr string

	// Providers
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Budget
	MonthlyBudgetUSD float64
	AlertInfo        float64
	AlertWarning     float64
	AlertCritical    float64
	EnforceBudget    bool

	// Rate limiting
	DefaultRPM         int64 // requests per model per minute
	RateLimitOverrides map[string]int64

	// Circuit breaker
	BreakerFailureThreshold  int
	BreakerRecoveryThreshold int
	BreakerOpenTimeout       time.Duration

	// Provider calls
	ProviderTimeout time.Duration
	ProviderRetries int // retries on top of the first attempt

	// Synthesis
	SynthesisMaxModels        int
	SynthesisQualityThreshold float64
	EnableSynthesis           bool

	// Selection
	EnableCostOptimization bool

	// Catalog. Optional YAML file replacing the built-in model set.
	ModelCatalogPath string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	budget, err := getEnvFloat("MONTHLY_BUDGET_USD", 100)
	if err != nil {
		return nil, err
	}
	alertInfo, err := getEnvFloat("BUDGET_ALERT_INFO", 0.70)
	if err != nil {
		return nil, err
	}
	alertWarning, err := getEnvFloat("BUDGET_ALERT_WARNING", 0.85)
	if err != nil {
		return nil, err
	}
	alertCritical, err := getEnvFloat("BUDGET_ALERT_CRITICAL", 0.95)
	if err != nil {
		return nil, err
	}
	enforceBudget, err := getEnvBool("ENFORCE_BUDGET", true)
	if err != nil {
		return nil, err
	}

	defaultRPM, err := getEnvInt64("RATE_LIMIT_DEFAULT_RPM", 60)
	if err != nil {
		return nil, err
	}
	overrides, err := parseOverrides(os.Getenv("RATE_LIMIT_OVERRIDES"))
	if err != nil {
		return nil, err
	}

	failureThreshold, err := getEnvInt("BREAKER_FAILURE_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	recoveryThreshold, err := getEnvInt("BREAKER_RECOVERY_THRESHOLD", 1)
	if err != nil {
		return nil, err
	}
	openTimeout, err := getEnvDuration("BREAKER_OPEN_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	providerRetries, err := getEnvInt("PROVIDER_RETRIES", 2)
	if err != nil {
		return nil, err
	}

	maxModels, err := getEnvInt("SYNTHESIS_MAX_MODELS", 3)
	if err != nil {
		return nil, err
	}
	qualityThreshold, err := getEnvFloat("SYNTHESIS_QUALITY_THRESHOLD", 0.6)
	if err != nil {
		return nil, err
	}
	enableSynthesis, err := getEnvBool("ENABLE_SYNTHESIS", true)
	if err != nil {
		return nil, err
	}
	enableCostOptimization, err := getEnvBool("ENABLE_COST_OPTIMIZATION", true)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                      getEnv("PORT", "8080"),
		PostgresDSN:               os.Getenv("POSTGRES_DSN"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		OpenAIAPIKey:              os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:           os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:              os.Getenv("GEMINI_API_KEY"),
		MonthlyBudgetUSD:          budget,
		AlertInfo:                 alertInfo,
		AlertWarning:              alertWarning,
		AlertCritical:             alertCritical,
		EnforceBudget:             enforceBudget,
		DefaultRPM:                defaultRPM,
		RateLimitOverrides:        overrides,
		BreakerFailureThreshold:   failureThreshold,
		BreakerRecoveryThreshold:  recoveryThreshold,
		BreakerOpenTimeout:        openTimeout,
		ProviderTimeout:           providerTimeout,
		ProviderRetries:           providerRetries,
		SynthesisMaxModels:        maxModels,
		SynthesisQualityThreshold: qualityThreshold,
		EnableSynthesis:           enableSynthesis,
		EnableCostOptimization:    enableCostOptimization,
		ModelCatalogPath:          os.Getenv("MODEL_CATALOG_PATH"),
		OTELExporterType:          getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint:      getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	// Validation
	if !(cfg.AlertInfo < cfg.AlertWarning && cfg.AlertWarning < cfg.AlertCritical) {
		return nil, fmt.Errorf("budget alert thresholds must be ascending: info %.2f, warning %.2f, critical %.2f",
			cfg.AlertInfo, cfg.AlertWarning, cfg.AlertCritical)
	}

	return cfg, nil
}

// parseOverrides reads a comma list of model=rpm pairs.
func parseOverrides(raw string) (map[string]int64, error) {
	overrides := make(map[string]int64)
	if raw == "" {
		return overrides, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid RATE_LIMIT_OVERRIDES entry %q (want model=rpm)", pair)
		}
		rpm, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_OVERRIDES rpm for %q: %w", strings.TrimSpace(name), err)
		}
		overrides[strings.TrimSpace(name)] = rpm
	}
	return overrides, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Numeric and boolean lookups treat an empty value as unset.

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
