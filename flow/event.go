package flow

import (
	"github.com/dshills/flowstream/flow/sse"
	"github.com/dshills/flowstream/internal/xjson"
)

// EventType is the name carried in a frame's "event:" field.
type EventType string

const (
	// EventNodeStart carries a NodeExecutionLog, normally pending or running.
	EventNodeStart EventType = "node_start"

	// EventNodeComplete carries a NodeExecutionLog, normally terminal.
	EventNodeComplete EventType = "node_complete"

	// EventComplete carries the WorkflowExecutionResult of the run.
	EventComplete EventType = "complete"
)

// Known reports whether t is a recognized protocol event.
func (t EventType) Known() bool {
	return t == EventNodeStart || t == EventNodeComplete || t == EventComplete
}

// Event is a decoded protocol event. Exactly one of Node or Result is set,
// depending on Type.
type Event struct {
	Type   EventType
	Node   *NodeExecutionLog
	Result *WorkflowExecutionResult
}

// DecodeFrame decodes the payload of a framed event.
//
// ok is false with a nil error for unrecognized event names, which are
// ignored for forward compatibility. A *FrameError is returned when the
// payload is not valid JSON or misses a required field.
func DecodeFrame(f sse.Frame) (ev Event, ok bool, err error) {
	t := EventType(f.Event)
	if !t.Known() {
		return Event{}, false, nil
	}
	switch t {
	case EventNodeStart, EventNodeComplete:
		var l NodeExecutionLog
		if err := xjson.Unmarshal([]byte(f.Data), &l); err != nil {
			return Event{}, false, &FrameError{Event: f.Event, Code: codeDecode, Cause: err}
		}
		if err := normalizeNodeLog(t, &l); err != nil {
			return Event{}, false, err
		}
		return Event{Type: t, Node: &l}, true, nil

	case EventComplete:
		var r WorkflowExecutionResult
		if err := xjson.Unmarshal([]byte(f.Data), &r); err != nil {
			return Event{}, false, &FrameError{Event: f.Event, Code: codeDecode, Cause: err}
		}
		if r.Status == "" {
			return Event{}, false, &FrameError{Event: f.Event, Code: codeMissingField, Cause: errField("status")}
		}
		if !r.Status.Valid() {
			return Event{}, false, &FrameError{Event: f.Event, Code: codeInvalidStatus, Cause: errValue("status", string(r.Status))}
		}
		return Event{Type: t, Result: &r}, true, nil
	}
	return Event{}, false, nil
}

// normalizeNodeLog fills a missing status from the event type (and, for
// completions, from the task output) and rejects unknown statuses.
func normalizeNodeLog(t EventType, l *NodeExecutionLog) error {
	if l.NodeID == "" {
		return &FrameError{Event: string(t), Code: codeMissingField, Cause: errField("nodeId")}
	}

	if l.Status == "" {
		switch {
		case t == EventNodeStart:
			l.Status = NodeRunning
		case l.Output == nil:
			return &FrameError{Event: string(t), Code: codeMissingField, Cause: errField("status")}
		case l.Output.IsSuccess():
			l.Status = NodeSuccess
		default:
			l.Status = NodeError
		}
	}
	if !l.Status.Valid() {
		return &FrameError{Event: string(t), Code: codeInvalidStatus, Cause: errValue("status", string(l.Status))}
	}
	return nil
}

type fieldError struct {
	field string
	value string
}

func (e fieldError) Error() string {
	if e.value == "" {
		return "missing " + e.field
	}
	return "unexpected " + e.field + " " + e.value
}

func errField(name string) error {
	return fieldError{field: name}
}

func errValue(name, value string) error {
	return fieldError{field: name, value: value}
}
