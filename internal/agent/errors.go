package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyPrompt indicates the request carried no usable prompt. The
	// request is rejected before any external call.
	ErrEmptyPrompt = errors.New("agent: prompt must not be empty")

	// ErrGenerationFailed indicates the final LLM generation call errored.
	// Fatal to the request; the orchestrator never retries it.
	ErrGenerationFailed = errors.New("agent: generation failed")
)

// RateLimitError reports an admission-control rejection. It names the
// rejecting scope and how long the caller should wait before retrying.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("agent: rate limit exceeded in %s scope, retry after %s",
		e.Scope, e.RetryAfter)
}
