package converter

import (
	"fmt"
	"time"
)

// ValidationError rejects a request before any subprocess is spawned.
// It is terminal: validation failures are never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// RateLimitError denies a request whose fixed-window quota is exhausted.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return "Rate limit exceeded. Try later."
}
