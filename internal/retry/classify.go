package retry

import "strings"

// Class is the coarse failure classification that drives retry decisions.
type Class string

const (
	ClassRetryable Class = "retryable"
	ClassRejected  Class = "rejected"
	ClassPartial   Class = "partial"
	ClassFatal     Class = "fatal"
)

type classRule struct {
	name  string
	class Class
	match func(errText string, exitCode int) bool
}

// classRules is evaluated top to bottom; the first match wins. Precedence:
// explicit refusals, then unrecoverable environment errors, then known
// transient signatures. Anything ambiguous falls through to partial, which is
// retried at most once.
var classRules = []classRule{
	{
		name:  "worker_rejected",
		class: ClassRejected,
		match: func(errText string, _ int) bool {
			return containsAny(errText,
				"i cannot", "i can't", "i won't", "i will not",
				"unable to comply", "declined", "refuse", "not able to perform")
		},
	},
	{
		name:  "permission_fatal",
		class: ClassFatal,
		match: func(errText string, exitCode int) bool {
			if exitCode == 126 || exitCode == 127 {
				return true
			}
			return containsAny(errText,
				"permission denied", "operation not permitted",
				"invalid api key", "authentication failed", "unauthorized",
				"no such file or directory")
		},
	},
	{
		name:  "transient",
		class: ClassRetryable,
		match: func(errText string, exitCode int) bool {
			if exitCode == 124 { // conventional timeout exit
				return true
			}
			return containsAny(errText,
				"timed out", "timeout", "deadline exceeded",
				"connection reset", "connection refused", "broken pipe",
				"temporarily unavailable", "resource busy",
				"rate limit", "overloaded", "too many requests",
				"429", "502", "503", "504")
		},
	},
	{
		name:  "incomplete_output",
		class: ClassPartial,
		match: func(errText string, _ int) bool {
			return containsAny(errText, "partial", "incomplete", "truncated")
		},
	},
}

// ClassifyFailure maps an error message and exit code to a failure class.
func ClassifyFailure(errText string, exitCode int) Class {
	lowered := strings.ToLower(errText)
	for _, rule := range classRules {
		if rule.match(lowered, exitCode) {
			return rule.class
		}
	}
	// Unknown signature: treat as partial so it gets one cautious retry
	// instead of burning the whole budget on a failure we cannot read.
	return ClassPartial
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
