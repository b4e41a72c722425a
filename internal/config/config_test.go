package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RetryCount != 3 {
		t.Fatalf("expected default retry count 3, got %d", cfg.RetryCount)
	}
	if cfg.MinSuccess != 1 {
		t.Fatalf("expected default min success 1, got %d", cfg.MinSuccess)
	}
	if cfg.BackoffBase != time.Second {
		t.Fatalf("expected default backoff base 1s, got %s", cfg.BackoffBase)
	}
	if cfg.LoadThreshold != 0.8 {
		t.Fatalf("expected default load threshold 0.8, got %f", cfg.LoadThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAIGI_RETRY_COUNT", "5")
	t.Setenv("KAIGI_DEBATE_TIMEOUT", "20m")
	t.Setenv("KAIGI_ERROR_RATE_THRESHOLD", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RetryCount != 5 {
		t.Fatalf("expected retry count 5, got %d", cfg.RetryCount)
	}
	if cfg.DebateTimeout != 20*time.Minute {
		t.Fatalf("expected debate timeout 20m, got %s", cfg.DebateTimeout)
	}
	if cfg.ErrorRateThreshold != 0.25 {
		t.Fatalf("expected error rate threshold 0.25, got %f", cfg.ErrorRateThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := cfg
	bad.MinSuccess = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero min success")
	}

	bad = cfg
	bad.LoadThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for load threshold > 1")
	}

	bad = cfg
	bad.DatabaseURL = ""
	bad.SQLitePath = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error when no store is configured")
	}
}

func TestEnvIntFallbackOnInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7, got %d", v)
	}
}
