package safety_test

import (
	"testing"

	"failsafe/internal/config"
	"failsafe/internal/safety"
)

func TestClassifyKnownErrorCode(t *testing.T) {
	cfg := config.Default()
	r := safety.NewRules(cfg)
	c := r.Classify("payment_declined")
	if c.Severity != "critical" || c.Retryable {
		t.Fatalf("expected critical, non-retryable classification, got %+v", c)
	}
}

func TestClassifyUnknownErrorCodeDefaults(t *testing.T) {
	cfg := config.Default()
	r := safety.NewRules(cfg)
	c := r.Classify("some_never_configured_code")
	if c.Severity != "medium" || !c.Retryable || c.RetryPolicy != "default" {
		t.Fatalf("expected default classification for unknown code, got %+v", c)
	}
}

func TestVendorSafetyFallsBackToGlobalDefaults(t *testing.T) {
	cfg := config.Default()
	r := safety.NewRules(cfg)
	defaults, rateLimit := r.VendorSafety("unconfigured-vendor")
	if defaults.FailureThreshold != cfg.Safety.CircuitBreakerThreshold {
		t.Fatalf("expected global failure threshold fallback, got %d", defaults.FailureThreshold)
	}
	if rateLimit != 0 {
		t.Fatalf("expected unconfigured vendor to have no rate limit override, got %d", rateLimit)
	}
}
