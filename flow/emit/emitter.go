// Package emit delivers run events to observability backends.
//
// A flow.EmitterObserver turns the state changes of a run into Events; an
// Emitter writes them somewhere: a log stream, an in-memory history, or
// OpenTelemetry spans. Emitters may be shared by concurrent runs.
package emit

// Emitter receives run events.
//
// Implementations must be safe for concurrent use, since one emitter can
// serve several runs at once, and must not block for long: Emit is called
// on the goroutine that reads the run's event stream.
type Emitter interface {
	// Emit handles one event. It must not panic; backend failures are
	// dropped or reported internally.
	Emit(event Event)
}

// MultiEmitter fans each event out to several emitters in order.
type MultiEmitter []Emitter

// NewMultiEmitter returns an emitter that forwards to every non-nil emitter
// in emitters.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit forwards event to each emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
