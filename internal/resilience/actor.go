package resilience

import "errors"

// ActorRunError wraps a terminal (non-SUCCEEDED) status from an asynchronous
// actor run (map/social/professional scraper, LLM extractor). These are
// never retried within the HTTP core — the caller decides whether to skip
// the item or the whole phase.
type ActorRunError struct {
	RunID  string
	Status string // FAILED, ABORTED, TIMED-OUT
}

func (e *ActorRunError) Error() string {
	return "actor run " + e.RunID + " ended with status " + e.Status
}

// ActorHangError indicates a poll loop gave up because the run stayed
// RUNNING past the configured consecutive-poll ceiling. Treated the same
// as ActorRunError by callers: skip, don't retry, don't cancel remotely.
type ActorHangError struct {
	RunID string
}

func (e *ActorHangError) Error() string {
	return "actor run " + e.RunID + " abandoned: stuck RUNNING"
}

// IsActorFailure reports whether err represents a terminal actor-run failure
// (FAILED/ABORTED/TIMED-OUT) or an abandoned hang. Never transient.
func IsActorFailure(err error) bool {
	if err == nil {
		return false
	}
	var re *ActorRunError
	var he *ActorHangError
	return errors.As(err, &re) || errors.As(err, &he)
}
