package engine

import (
	"regexp"
	"strings"
)

var (
	reDigitRun   = regexp.MustCompile(`\b[0-9]{3,}\b`)
	reHexRun     = regexp.MustCompile(`\b[0-9a-f]{8,}\b`)
	reUUID       = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reISOTime    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\b`)
	reIPv4       = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reDecimal    = regexp.MustCompile(`\b\d+\.\d+\b`)
)

// normalize collapses volatile substrings out of an error code (or message
// fragment) so that repeated failures with the same shape but different
// incidental values collapse to one signature. The digit-run and hex-run
// substitutions come from the distilled rule; UUID, timestamp, IP, and
// decimal-amount stripping are carried over from the pre-distillation
// signature builder, which stripped these before hashing.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = reUUID.ReplaceAllString(s, "H")
	s = reISOTime.ReplaceAllString(s, "T")
	s = reIPv4.ReplaceAllString(s, "IP")
	s = reDecimal.ReplaceAllString(s, "N")
	s = reHexRun.ReplaceAllString(s, "H")
	s = reDigitRun.ReplaceAllString(s, "N")
	return s
}

// Fingerprint computes the deterministic incident-grouping signature for an
// ingested event: lower(event_type) ":" normalize(error_code) ":"
// workflow_id. It is a pure function of its inputs, with no ordering or
// payload-key sensitivity, per the grouping-stability requirement.
func Fingerprint(eventType, errorCode, workflowID string) string {
	return strings.ToLower(strings.TrimSpace(eventType)) + ":" + normalize(errorCode) + ":" + workflowID
}
