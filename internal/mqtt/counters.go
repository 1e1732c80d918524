package mqtt

import (
	"sync"
	"time"

	"github.com/nugget/hearth/internal/session"
)

// Counts is a point-in-time copy of the daily counters.
type Counts struct {
	InputTokens  int64
	OutputTokens int64
	Turns        int64
	FailedTurns  int64
	Actions      int64
	LastTurn     time.Time
}

// DailyCounters accumulates assistant activity and resets at local
// midnight. It implements session.Observer and is safe for concurrent
// use.
type DailyCounters struct {
	mu       sync.Mutex
	counts   Counts
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyCounters creates counters using loc for midnight detection.
// A nil loc means [time.Local].
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounters{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// ObserveCompletion adds the tokens of a completion call.
func (d *DailyCounters) ObserveCompletion(ev session.CompletionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.counts.InputTokens += int64(ev.InputTokens)
	d.counts.OutputTokens += int64(ev.OutputTokens)
}

// ObserveTool counts actions that reached Home Assistant successfully.
func (d *DailyCounters) ObserveTool(ev session.ToolEvent) {
	if !ev.Success || ev.Duplicate || ev.Gated {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.counts.Actions++
}

// ObserveTurn counts finished turns.
func (d *DailyCounters) ObserveTurn(ev session.TurnEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.counts.Turns++
	if ev.Outcome != session.OutcomeOK {
		d.counts.FailedTurns++
	}
	d.counts.LastTurn = d.now()
}

// Snapshot returns the current totals after checking for midnight
// rollover. LastTurn survives the rollover.
func (d *DailyCounters) Snapshot() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.counts
}

// maybeReset zeroes the counters if the local day changed. Must be
// called with d.mu held.
func (d *DailyCounters) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.counts = Counts{LastTurn: d.counts.LastTurn}
		d.resetDay = today
	}
}
