package flow

import (
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/flowstream/flow/sse"
)

// HandlerFunc handles one decoded event.
type HandlerFunc func(Event)

// Dispatcher routes decoded events to the handlers registered for their
// type, in arrival order. It neither reorders nor buffers.
//
// Unrecognized event names and frames that fail to decode are dropped: the
// former silently (debug log), the latter with a warning. Neither stops the
// stream.
type Dispatcher struct {
	handlers map[EventType][]HandlerFunc
	logger   *zap.Logger
	metrics  *PrometheusMetrics
}

// NewDispatcher returns a Dispatcher with no handlers. logger and metrics
// may be nil.
func NewDispatcher(logger *zap.Logger, metrics *PrometheusMetrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[EventType][]HandlerFunc),
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle registers fn for events of type t. Several handlers may be
// registered for the same type; they run in registration order.
func (d *Dispatcher) Handle(t EventType, fn HandlerFunc) {
	d.handlers[t] = append(d.handlers[t], fn)
}

// DispatchFrame decodes f and dispatches it. It reports whether at least one
// handler saw the event.
func (d *Dispatcher) DispatchFrame(f sse.Frame) bool {
	ev, ok, err := DecodeFrame(f)
	if err != nil {
		reason := codeDecode
		var fe *FrameError
		if errors.As(err, &fe) {
			reason = fe.Code
		}
		d.metrics.FrameDropped(reason)
		d.logger.Warn("dropping malformed event",
			zap.String("event", f.Event),
			zap.String("reason", reason),
			zap.Int("payload_bytes", len(f.Data)),
			zap.Error(err),
		)
		return false
	}
	if !ok {
		d.metrics.FrameDropped("unknown_event")
		d.logger.Debug("ignoring unknown event", zap.String("event", f.Event))
		return false
	}
	return d.Dispatch(ev)
}

// Dispatch invokes every handler registered for ev.Type. Having no handler
// is not an error.
func (d *Dispatcher) Dispatch(ev Event) bool {
	hs := d.handlers[ev.Type]
	for _, h := range hs {
		h(ev)
	}
	return len(hs) > 0
}
