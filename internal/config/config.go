// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Record store settings. DatabaseURL selects Postgres; when empty,
	// SQLitePath selects the embedded store.
	DatabaseURL string
	SQLitePath  string

	// Agent runner settings.
	RetryCount      int           // transient-error retries per invocation
	BackoffBase     time.Duration // exponential backoff base
	CallTimeout     time.Duration // hard per-call deadline
	MinSuccess      int           // agents that must succeed for a stage to complete
	MaxDebateRounds int

	// Stage deadlines.
	AnalysisTimeout time.Duration
	DebateTimeout   time.Duration
	DecisionTimeout time.Duration

	// Backend selection thresholds.
	ComplexityThreshold float64
	LoadThreshold       float64
	ErrorRateThreshold  float64
	HybridRetryAttempts int
	DecisionHistorySize int
	HealthInterval      time.Duration

	// Session lifecycle.
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// Retention.
	RetentionDays     int // 0 = retain forever
	RetentionInterval time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:         envStr("DATABASE_URL", ""),
		SQLitePath:          envStr("KAIGI_SQLITE_PATH", "kaigi.db"),
		RetryCount:          envInt("KAIGI_RETRY_COUNT", 3),
		BackoffBase:         envDuration("KAIGI_BACKOFF_BASE", time.Second),
		CallTimeout:         envDuration("KAIGI_CALL_TIMEOUT", 2*time.Minute),
		MinSuccess:          envInt("KAIGI_MIN_STAGE_SUCCESS", 1),
		MaxDebateRounds:     envInt("KAIGI_MAX_DEBATE_ROUNDS", 3),
		AnalysisTimeout:     envDuration("KAIGI_ANALYSIS_TIMEOUT", 5*time.Minute),
		DebateTimeout:       envDuration("KAIGI_DEBATE_TIMEOUT", 10*time.Minute),
		DecisionTimeout:     envDuration("KAIGI_DECISION_TIMEOUT", 5*time.Minute),
		ComplexityThreshold: envFloat("KAIGI_COMPLEXITY_THRESHOLD", 0.7),
		LoadThreshold:       envFloat("KAIGI_LOAD_THRESHOLD", 0.8),
		ErrorRateThreshold:  envFloat("KAIGI_ERROR_RATE_THRESHOLD", 0.1),
		HybridRetryAttempts: envInt("KAIGI_HYBRID_RETRY_ATTEMPTS", 2),
		DecisionHistorySize: envInt("KAIGI_DECISION_HISTORY_SIZE", 1000),
		HealthInterval:      envDuration("KAIGI_HEALTH_INTERVAL", 15*time.Second),
		SessionTTL:          envDuration("KAIGI_SESSION_TTL", time.Hour),
		SweepInterval:       envDuration("KAIGI_SWEEP_INTERVAL", time.Minute),
		RetentionDays:       envInt("KAIGI_RETENTION_DAYS", 0),
		RetentionInterval:   envDuration("KAIGI_RETENTION_INTERVAL", 24*time.Hour),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envStr("OTEL_EXPORTER_OTLP_INSECURE", "") == "true",
		ServiceName:         envStr("OTEL_SERVICE_NAME", "kaigi"),
		LogLevel:            envStr("KAIGI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("config: DATABASE_URL or KAIGI_SQLITE_PATH is required")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("config: KAIGI_RETRY_COUNT must not be negative")
	}
	if c.MinSuccess < 1 {
		return fmt.Errorf("config: KAIGI_MIN_STAGE_SUCCESS must be at least 1")
	}
	if c.MaxDebateRounds < 1 {
		return fmt.Errorf("config: KAIGI_MAX_DEBATE_ROUNDS must be at least 1")
	}
	if c.LoadThreshold <= 0 || c.LoadThreshold > 1 {
		return fmt.Errorf("config: KAIGI_LOAD_THRESHOLD must be in (0, 1]")
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		return fmt.Errorf("config: KAIGI_ERROR_RATE_THRESHOLD must be in (0, 1]")
	}
	if c.HybridRetryAttempts < 1 {
		return fmt.Errorf("config: KAIGI_HYBRID_RETRY_ATTEMPTS must be at least 1")
	}
	if c.DecisionHistorySize < 1 {
		return fmt.Errorf("config: KAIGI_DECISION_HISTORY_SIZE must be at least 1")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
