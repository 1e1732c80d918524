package llm

import (
	"context"
	"fmt"
)

// Completer is the interface the session engine calls for completions.
type Completer interface {
	// Complete sends one request and returns the model's reply: final
	// text, or one or more tool calls.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// UpstreamError is returned when the completion backend cannot be
// reached or answers with a non-2xx status. StatusCode is zero for
// transport failures.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Anthropic API error: %d %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("Anthropic API request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
