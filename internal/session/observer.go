package session

import (
	"log/slog"
	"time"
)

// Turn outcomes reported in TurnEvent.Outcome.
const (
	OutcomeOK               = "ok"
	OutcomeMalformed        = "malformed"
	OutcomeUpstreamError    = "upstream_error"
	OutcomeTimeout          = "timeout"
	OutcomeToolLoopExceeded = "tool_loop_exceeded"
	OutcomeError            = "error"
)

// CompletionEvent describes one completion round trip.
type CompletionEvent struct {
	RequestID    string
	Model        string
	Round        int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Err          error
}

// ToolEvent describes the outcome of one tool invocation.
type ToolEvent struct {
	RequestID string
	Tool      string
	Target    string
	Success   bool
	Duplicate bool
	// Gated is set when the confirmation gate refused the invocation.
	Gated    bool
	Duration time.Duration
}

// TurnEvent describes a finished chat turn.
type TurnEvent struct {
	RequestID    string
	Model        string
	Outcome      string
	Rounds       int
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Observer receives engine events. Implementations must be safe for
// concurrent use; tool events of one round arrive from parallel
// goroutines.
type Observer interface {
	ObserveCompletion(CompletionEvent)
	ObserveTool(ToolEvent)
	ObserveTurn(TurnEvent)
}

// observers fans events out and contains observer panics.
type observers struct {
	list   []Observer
	logger *slog.Logger
}

func (o *observers) each(fn func(Observer)) {
	for _, obs := range o.list {
		func() {
			defer func() {
				if p := recover(); p != nil {
					o.logger.Error("observer panicked", "panic", p)
				}
			}()
			fn(obs)
		}()
	}
}

func (o *observers) completion(ev CompletionEvent) {
	o.each(func(x Observer) { x.ObserveCompletion(ev) })
}

func (o *observers) tool(ev ToolEvent) {
	o.each(func(x Observer) { x.ObserveTool(ev) })
}

func (o *observers) turn(ev TurnEvent) {
	o.each(func(x Observer) { x.ObserveTurn(ev) })
}
