package orchestrator

import "fmt"

// ValidationError rejects malformed caller input before any provider
// is contacted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitExceededError means every candidate model was over its
// window quota; no provider was contacted.
type RateLimitExceededError struct {
	Models int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: all %d candidate models over quota", e.Models)
}

// AllProvidersFailedError means the ordered candidate list was
// exhausted. LastErr carries the final failure for diagnostics.
type AllProvidersFailedError struct {
	Attempted int
	LastErr   error
}

func (e *AllProvidersFailedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all providers failed (%d attempted): %v", e.Attempted, e.LastErr)
	}
	return fmt.Sprintf("all providers failed (%d attempted)", e.Attempted)
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.LastErr
}
