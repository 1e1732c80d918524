package session

import (
	"errors"
	"fmt"
)

// ErrMalformedInput is returned, wrapped with a description, when the
// caller's conversation cannot be sent to the model. No upstream call is
// made.
var ErrMalformedInput = errors.New("malformed input")

// ToolLoopExceededError is returned when the model still requests tools
// after the configured number of tool rounds.
type ToolLoopExceededError struct {
	Rounds int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded after %d rounds", e.Rounds)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}
