package emit

import "sync"

// BufferedEmitter stores events in memory, grouped by run.
//
// Useful for tests, debugging and post-run analysis. Events are kept until
// Clear is called, so long-lived processes should clear finished runs.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	client, _ := flow.New(tr, flow.WithEmitter(emitter))
//
//	run, _ := client.Start(ctx, wf)
//	run.Wait(ctx)
//
//	all := emitter.GetHistory(run.ID)
//	errs := emitter.GetHistoryWithFilter(run.ID, emit.HistoryFilter{Status: "error"})
//	emitter.Clear(run.ID)
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
	order  []string
}

// HistoryFilter selects events from a run's history. Empty fields match
// everything; set fields are combined with AND.
type HistoryFilter struct {
	NodeID  string // exact node id
	Msg     string // exact event message, e.g. MsgNodeUpdate
	Status  string // Meta["status"]
	MinStep *int   // step >= MinStep
	MaxStep *int   // step <= MaxStep
}

func (f HistoryFilter) empty() bool {
	return f.NodeID == "" && f.Msg == "" && f.Status == "" && f.MinStep == nil && f.MaxStep == nil
}

func (f HistoryFilter) match(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.Status != "" {
		if s, _ := event.Meta["status"].(string); s != f.Status {
			return false
		}
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit appends event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.events[event.RunID]; !seen {
		b.order = append(b.order, event.RunID)
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of every event of runID in emission order. The
// result is empty, never nil, for an unknown run.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	result := make([]Event, 0, len(events))
	if filter.empty() {
		return append(result, events...)
	}
	for _, event := range events {
		if filter.match(event) {
			result = append(result, event)
		}
	}
	return result
}

// Runs returns the run ids with stored events, in order of first event.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Clear removes the events of runID, or of every run if runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}
	delete(b.events, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
