package engine

import (
	"context"
	"time"

	"failsafe/internal/domain"
)

// ClassificationResult is what a Classifier returns for an incident: a
// category label, a confidence score, a recommended next action kind, and
// the reasoning behind it. It is persisted verbatim into a Decision.
type ClassificationResult struct {
	Category    string
	Confidence  float64
	Recommended string
	Reasoning   string
	ModelTag    string
}

// Classifier is the pluggable external adapter that recommends a
// remediation action for an incident. Implementations may call out to an
// LLM, a rules engine, or a human-reviewed heuristic; the engine only
// depends on this interface so any of those can be swapped in.
type Classifier interface {
	Classify(ctx context.Context, incident domain.Incident, recentEvents []domain.Event) (ClassificationResult, error)
}

// classifierTimeoutResult is substituted whenever a Classifier errors or
// exceeds its deadline: escalate with zero confidence rather than letting a
// classifier failure silently stall or retry an incident.
var classifierTimeoutResult = ClassificationResult{
	Category:    "unknown",
	Confidence:  0,
	Recommended: domain.ActionKindEscalate,
	Reasoning:   "classifier_timeout",
}

// WithTimeout bounds any Classifier call to d, substituting
// classifierTimeoutResult on timeout or error so a flaky adapter degrades to
// a safe default instead of blocking the pipeline.
func WithTimeout(c Classifier, d time.Duration) Classifier {
	return timeoutClassifier{inner: c, timeout: d}
}

type timeoutClassifier struct {
	inner   Classifier
	timeout time.Duration
}

func (t timeoutClassifier) Classify(ctx context.Context, incident domain.Incident, recentEvents []domain.Event) (ClassificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		res ClassificationResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := t.inner.Classify(ctx, incident, recentEvents)
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return classifierTimeoutResult, nil
		}
		return o.res, nil
	case <-ctx.Done():
		return classifierTimeoutResult, nil
	}
}

// RuleBasedClassifier is the deterministic, always-available default
// Classifier: it escalates critical-severity incidents and incidents whose
// retry count has reached MaxRetries (default 3), and recommends retrying
// every other incident, whatever its severity.
type RuleBasedClassifier struct {
	MaxRetries int
}

func (r RuleBasedClassifier) Classify(_ context.Context, incident domain.Incident, _ []domain.Event) (ClassificationResult, error) {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if incident.Severity == domain.SeverityCritical {
		return ClassificationResult{
			Category:    "vendor_failure",
			Confidence:  0.9,
			Recommended: domain.ActionKindEscalate,
			Reasoning:   "critical severity escalates unconditionally",
			ModelTag:    "rule-based-v1",
		}, nil
	}
	if incident.RetryCount >= maxRetries {
		return ClassificationResult{
			Category:    "vendor_failure",
			Confidence:  0.8,
			Recommended: domain.ActionKindEscalate,
			Reasoning:   "retry budget exhausted for this incident",
			ModelTag:    "rule-based-v1",
		}, nil
	}
	return ClassificationResult{
		Category:    "vendor_failure",
		Confidence:  0.6,
		Recommended: domain.ActionKindRetry,
		Reasoning:   "transient failure within retry budget",
		ModelTag:    "rule-based-v1",
	}, nil
}
