package safety

import "failsafe/internal/config"

// Classification is the result of looking an error code up in the rules
// table: its severity, whether it is retryable at all, and which named
// retry policy governs backoff.
type Classification struct {
	Severity       string
	Retryable      bool
	RetryPolicy    string
	BackoffFromPolicy config.RetryPolicy
}

// defaultClassification is returned for error codes with no explicit entry,
// per the rules table's documented default: treat unknown codes as
// medium-severity and retryable under the default policy, rather than
// either silently dropping them or treating them as automatically critical.
var defaultClassification = Classification{Severity: "medium", Retryable: true, RetryPolicy: "default"}

// Rules resolves error codes to severity and retry policy using the loaded
// configuration, mirroring the pre-distillation rules engine's
// error_code -> {severity, retry_policy} table.
type Rules struct {
	Config *config.Config
}

func NewRules(cfg *config.Config) *Rules {
	return &Rules{Config: cfg}
}

func (r *Rules) Classify(errorCode string) Classification {
	if r.Config == nil {
		return defaultClassification
	}
	ec, ok := r.Config.ErrorCodes[errorCode]
	if !ok {
		return defaultClassification
	}
	policy, ok := r.Config.RetryPolicies[ec.RetryPolicy]
	if !ok {
		policy = r.Config.RetryPolicies["default"]
	}
	return Classification{
		Severity:          ec.Severity,
		Retryable:         policy.Retryable,
		RetryPolicy:       ec.RetryPolicy,
		BackoffFromPolicy: policy,
	}
}

// VendorSafety resolves a vendor's circuit-breaker and rate-limit
// parameters, falling back to the global safety defaults when a vendor has
// no override entry.
func (r *Rules) VendorSafety(vendorName string) (VendorDefaults, int) {
	defaults := VendorDefaults{
		FailureThreshold: r.Config.Safety.CircuitBreakerThreshold,
		CooldownSeconds:  r.Config.Safety.CircuitBreakerTimeoutSeconds,
		ProbeCap:         1,
	}
	rateLimit := 0
	if r.Config == nil {
		return defaults, rateLimit
	}
	if v, ok := r.Config.Vendors[vendorName]; ok {
		if v.CircuitBreaker.FailureThreshold > 0 {
			defaults.FailureThreshold = v.CircuitBreaker.FailureThreshold
		}
		if v.CircuitBreaker.TimeoutSeconds > 0 {
			defaults.CooldownSeconds = v.CircuitBreaker.TimeoutSeconds
		}
		rateLimit = v.RateLimit.RequestsPerMinute
	}
	return defaults, rateLimit
}
