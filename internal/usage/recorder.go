package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/session"
)

// recordTimeout bounds a single insert issued from an observer callback.
const recordTimeout = 5 * time.Second

// Recorder is a session.Observer that persists every successful
// completion with its estimated cost.
type Recorder struct {
	store   *Store
	pricing map[string]config.PricingEntry
	source  string
	logger  *slog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store, pricing map[string]config.PricingEntry, source string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		pricing: pricing,
		source:  source,
		logger:  logger.With("component", "usage"),
	}
}

// ObserveCompletion records the tokens of a completed call. Failed
// calls are not recorded.
func (r *Recorder) ObserveCompletion(ev session.CompletionEvent) {
	if ev.Err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	rec := Record{
		RequestID:    ev.RequestID,
		Model:        ev.Model,
		Round:        ev.Round,
		InputTokens:  ev.InputTokens,
		OutputTokens: ev.OutputTokens,
		CostUSD:      ComputeCost(ev.Model, ev.InputTokens, ev.OutputTokens, r.pricing),
		Source:       r.source,
	}
	if err := r.store.Record(ctx, rec); err != nil {
		r.logger.Warn("failed to record usage", "request_id", ev.RequestID, "error", err)
	}
}

// ObserveTool implements session.Observer.
func (r *Recorder) ObserveTool(session.ToolEvent) {}

// ObserveTurn implements session.Observer.
func (r *Recorder) ObserveTurn(session.TurnEvent) {}
