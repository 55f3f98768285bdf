package health

import (
	"log/slog"
	"sync"

	"github.com/audiohub/audiohub-go/internal/events"
	"github.com/audiohub/audiohub-go/internal/logging"
)

// SnapshotSink receives every replaced snapshot. The datastore implements
// this to build the append-only snapshot log that carries cumulative
// statistics, since snapshots themselves never accumulate.
type SnapshotSink interface {
	Append(state State) error
}

// Tracker holds the current health snapshot and replaces it as error and
// recovery signals arrive. It consumes error events from the bus.
type Tracker struct {
	mu      sync.RWMutex
	current State

	sink   SnapshotSink
	logger *slog.Logger
}

// NewTracker creates a tracker starting from the default healthy state.
// sink may be nil when no snapshot log is configured.
func NewTracker(sink SnapshotSink) *Tracker {
	return &Tracker{
		current: NewState(),
		sink:    sink,
		logger:  logging.ForService("health"),
	}
}

// Current returns a copy of the current snapshot.
func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current.Clone()
}

// replace swaps in a new snapshot and appends it to the sink.
func (t *Tracker) replace(next State) {
	t.mu.Lock()
	t.current = next
	t.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.Append(next.Clone()); err != nil {
			t.logger.Error("failed to append health snapshot", "error", err)
		}
	}
}

// RecordError replaces the current snapshot with the error snapshot for err.
func (t *Tracker) RecordError(err error) {
	t.replace(NewErrorState(err))
}

// RecordRecovery replaces the current snapshot with a fresh healthy one.
func (t *Tracker) RecordRecovery() {
	t.replace(NewState())
}

// Name implements events.EventConsumer.
func (t *Tracker) Name() string {
	return "health-tracker"
}

// ProcessEvent implements events.EventConsumer: every error event replaces
// the current snapshot. The event's kind is authoritative; the wrapped
// error is not re-classified.
func (t *Tracker) ProcessEvent(event events.ErrorEvent) error {
	t.replace(NewErrorStateForKind(event.GetKind(), event.GetMessage()))
	return nil
}

// ProcessBatch implements events.EventConsumer. Only the last event
// matters under replacement semantics, but each one still reaches the
// snapshot log.
func (t *Tracker) ProcessBatch(batch []events.ErrorEvent) error {
	for _, event := range batch {
		if err := t.ProcessEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// SupportsBatching implements events.EventConsumer.
func (t *Tracker) SupportsBatching() bool {
	return true
}
