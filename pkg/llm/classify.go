package llm

import "strings"

// ErrorClass buckets an LLM call failure for a caller's retry/fallback
// policy (spec §4.5's Writer error taxonomy; CoverageAnalyzer uses the same
// buckets for its own LLM calls).
type ErrorClass int

const (
	ErrOther ErrorClass = iota
	ErrRateLimit
	ErrServerError
	ErrNetwork
)

// ClassifyError buckets err by matching against its wrapped message chain.
// The SDK's status code isn't reliably recoverable through an eris.Wrap, so
// this mirrors the string-heuristic fallback resilience.IsTransient already
// uses for opaque wrapped HTTP-client errors.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "429", "rate_limit", "rate limit", "too many requests"):
		return ErrRateLimit
	case containsAny(msg, "500", "502", "503", "504", "server_error", "internal server", "service unavailable", "bad gateway", "gateway timeout"):
		return ErrServerError
	case containsAny(msg, "timeout", "deadline exceeded", "connection reset", "connection refused", "i/o timeout", "no such host", "context deadline"):
		return ErrNetwork
	default:
		return ErrOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
