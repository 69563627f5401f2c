package emit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns run events into OpenTelemetry spans.
//
// Each run gets a root span named "flowstream.run" opened by its first event
// and ended by its terminal event (run_complete, run_failed or
// run_cancelled). Every event becomes a child span of the root:
//   - Span name: event.Msg, or "node <id>" for node updates
//   - Attributes: flowstream.run_id, flowstream.step, flowstream.node_id
//     and every Meta entry under the flowstream. prefix
//   - Status: Error if Meta["error"] is set
//
// A node update carrying duration_ms gets a start timestamp backdated by
// that duration, so terminal node spans show the node's execution time.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	emitter := emit.NewOTelEmitter(tp.Tracer("flowstream"))
//	client, _ := flow.New(tr, flow.WithEmitter(emitter))
//	...
//	_ = tp.ForceFlush(ctx)
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]runSpan
}

type runSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelEmitter creates an OTelEmitter that starts spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		runs:   make(map[string]runSpan),
	}
}

// Emit records event as a span under its run's root span.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records several events. Root spans for runs seen for the first
// time are started as children of ctx.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(parent context.Context, event Event) {
	root := o.root(parent, event.RunID)

	name := event.Msg
	if event.NodeID != "" {
		name = "node " + event.NodeID
	}

	now := time.Now()
	start := now
	if ms, ok := durationMs(event.Meta["duration_ms"]); ok && ms > 0 {
		start = now.Add(-time.Duration(ms) * time.Millisecond)
	}

	_, span := o.tracer.Start(root.ctx, name, trace.WithTimestamp(start))
	span.SetAttributes(eventAttributes(event)...)
	if msg, ok := event.Meta["error"].(string); ok && msg != "" {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
	span.End(trace.WithTimestamp(now))

	if event.Terminal() {
		o.endRun(event)
	}
}

// root returns the run's root span, starting it on first use.
func (o *OTelEmitter) root(parent context.Context, runID string) runSpan {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rs, ok := o.runs[runID]; ok {
		return rs
	}
	ctx, span := o.tracer.Start(parent, "flowstream.run",
		trace.WithAttributes(attribute.String("flowstream.run_id", runID)))
	rs := runSpan{ctx: ctx, span: span}
	o.runs[runID] = rs
	return rs
}

func (o *OTelEmitter) endRun(event Event) {
	o.mu.Lock()
	rs, ok := o.runs[event.RunID]
	delete(o.runs, event.RunID)
	o.mu.Unlock()
	if !ok {
		return
	}

	if status, ok := event.Meta["status"].(string); ok {
		rs.span.SetAttributes(attribute.String("flowstream.status", status))
	}
	switch event.Msg {
	case MsgRunComplete:
		if msg, _ := event.Meta["error"].(string); msg != "" {
			rs.span.SetStatus(codes.Error, msg)
		} else if event.Meta["status"] == "error" {
			rs.span.SetStatus(codes.Error, "workflow finished with error")
		} else {
			rs.span.SetStatus(codes.Ok, "")
		}
	case MsgRunFailed:
		msg, _ := event.Meta["error"].(string)
		rs.span.SetStatus(codes.Error, msg)
	case MsgRunCancelled:
		rs.span.SetAttributes(attribute.Bool("flowstream.cancelled", true))
	}
	rs.span.End()
}

// Flush ends the root spans of runs that never produced a terminal event.
// Exporting buffered spans is the tracer provider's job (ForceFlush).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	o.mu.Lock()
	runs := o.runs
	o.runs = make(map[string]runSpan)
	o.mu.Unlock()

	for _, rs := range runs {
		rs.span.SetAttributes(attribute.Bool("flowstream.incomplete", true))
		rs.span.End()
	}
	return ctx.Err()
}

func eventAttributes(event Event) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(event.Meta)+3)
	attrs = append(attrs,
		attribute.String("flowstream.run_id", event.RunID),
		attribute.Int("flowstream.step", event.Step),
	)
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("flowstream.node_id", event.NodeID))
	}

	for key, value := range event.Meta {
		k := "flowstream." + key
		switch v := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case time.Duration:
			attrs = append(attrs, attribute.Int64(k, v.Milliseconds()))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}
	return attrs
}

func durationMs(v interface{}) (int64, bool) {
	switch d := v.(type) {
	case int64:
		return d, true
	case int:
		return int64(d), true
	case float64:
		return int64(d), true
	case time.Duration:
		return d.Milliseconds(), true
	}
	return 0, false
}
