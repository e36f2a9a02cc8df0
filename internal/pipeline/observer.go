package pipeline

import "github.com/flarebyte/scribe/internal/processor"

// Observer receives lifecycle hooks. Calls happen on the committing goroutine,
// in output order; implementations must not block for long.
type Observer interface {
	StateChanged(runID string, s State)
	// RecordDone is called after the outcome for index was committed.
	RecordDone(runID string, index int, out processor.Outcome)
}

// Observers fans hooks out to several observers in order.
type Observers []Observer

func (os Observers) StateChanged(runID string, s State) {
	for _, o := range os {
		o.StateChanged(runID, s)
	}
}

func (os Observers) RecordDone(runID string, index int, out processor.Outcome) {
	for _, o := range os {
		o.RecordDone(runID, index, out)
	}
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, State)                {}
func (nopObserver) RecordDone(string, int, processor.Outcome) {}
