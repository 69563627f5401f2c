package flow

import (
	"errors"
	"testing"

	"github.com/dshills/flowstream/flow/sse"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name       string
		frame      sse.Frame
		wantOK     bool
		wantCode   string
		wantStatus NodeStatus
	}{
		{
			name:       "node_start",
			frame:      sse.Frame{Event: "node_start", Data: `{"nodeId":"a","nodeName":"A","status":"running","message":"go","timestamp":"2026-01-01T00:00:00Z"}`},
			wantOK:     true,
			wantStatus: NodeRunning,
		},
		{
			name:       "node_start without status defaults to running",
			frame:      sse.Frame{Event: "node_start", Data: `{"nodeId":"a"}`},
			wantOK:     true,
			wantStatus: NodeRunning,
		},
		{
			name:       "node_complete status from output success",
			frame:      sse.Frame{Event: "node_complete", Data: `{"nodeId":"a","output":{"error":"","data":1}}`},
			wantOK:     true,
			wantStatus: NodeSuccess,
		},
		{
			name:       "node_complete status from output error",
			frame:      sse.Frame{Event: "node_complete", Data: `{"nodeId":"a","output":{"error":"boom"}}`},
			wantOK:     true,
			wantStatus: NodeError,
		},
		{
			name:       "node_complete null error is success",
			frame:      sse.Frame{Event: "node_complete", Data: `{"nodeId":"a","output":{"error":null}}`},
			wantOK:     true,
			wantStatus: NodeSuccess,
		},
		{
			name:       "node_complete skipped",
			frame:      sse.Frame{Event: "node_complete", Data: `{"nodeId":"a","status":"skipped"}`},
			wantOK:     true,
			wantStatus: NodeSkipped,
		},
		{
			name:     "node_complete without status or output",
			frame:    sse.Frame{Event: "node_complete", Data: `{"nodeId":"a"}`},
			wantCode: codeMissingField,
		},
		{
			name:     "missing nodeId",
			frame:    sse.Frame{Event: "node_start", Data: `{"status":"running"}`},
			wantCode: codeMissingField,
		},
		{
			name:     "unknown node status",
			frame:    sse.Frame{Event: "node_start", Data: `{"nodeId":"a","status":"queued"}`},
			wantCode: codeInvalidStatus,
		},
		{
			name:     "invalid json",
			frame:    sse.Frame{Event: "node_start", Data: `{"nodeId":`},
			wantCode: codeDecode,
		},
		{
			name:   "complete",
			frame:  sse.Frame{Event: "complete", Data: `{"status":"error","startTime":"","endTime":"","logs":[],"error":"x"}`},
			wantOK: true,
		},
		{
			name:     "complete without status",
			frame:    sse.Frame{Event: "complete", Data: `{"logs":[]}`},
			wantCode: codeMissingField,
		},
		{
			name:     "complete with cancelled status",
			frame:    sse.Frame{Event: "complete", Data: `{"status":"cancelled"}`},
			wantCode: codeInvalidStatus,
		},
		{
			name:  "unknown event",
			frame: sse.Frame{Event: "heartbeat", Data: `{}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := DecodeFrame(tt.frame)
			if tt.wantCode != "" {
				var fe *FrameError
				if !errors.As(err, &fe) {
					t.Fatalf("err = %v, want *FrameError", err)
				}
				if fe.Code != tt.wantCode {
					t.Errorf("code = %s, want %s", fe.Code, tt.wantCode)
				}
				if fe.Event != tt.frame.Event {
					t.Errorf("event = %s, want %s", fe.Event, tt.frame.Event)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Type != EventType(tt.frame.Event) {
				t.Errorf("type = %s", ev.Type)
			}
			if tt.wantStatus != "" {
				if ev.Node == nil {
					t.Fatal("Node not set")
				}
				if ev.Node.Status != tt.wantStatus {
					t.Errorf("status = %s, want %s", ev.Node.Status, tt.wantStatus)
				}
			}
		})
	}
}

func TestDecodeFrame_NodeFields(t *testing.T) {
	ev, ok, err := DecodeFrame(sse.Frame{
		Event: "node_complete",
		Data:  `{"nodeId":"n1","nodeName":"Fetch","status":"success","message":"done","output":{"error":"","data":{"k":"v"},"statusCode":200},"duration":123,"timestamp":"2026-03-04T05:06:07.5Z"}`,
	})
	if err != nil || !ok {
		t.Fatalf("DecodeFrame: ok=%v err=%v", ok, err)
	}
	l := ev.Node
	if l.NodeID != "n1" || l.NodeName != "Fetch" || l.Message != "done" {
		t.Errorf("log = %+v", l)
	}
	if l.DurationMs == nil || *l.DurationMs != 123 {
		t.Errorf("duration = %v", l.DurationMs)
	}
	if l.Time().IsZero() {
		t.Error("timestamp not parsed")
	}
	if l.Output == nil || !l.Output.IsSuccess() {
		t.Fatalf("output = %+v", l.Output)
	}
	if l.Output.Extra["statusCode"] != float64(200) {
		t.Errorf("extra = %v", l.Output.Extra)
	}
}

func TestEventType_Known(t *testing.T) {
	for _, name := range []EventType{EventNodeStart, EventNodeComplete, EventComplete} {
		if !name.Known() {
			t.Errorf("%s should be known", name)
		}
	}
	for _, name := range []EventType{"", "error", "heartbeat", "Complete"} {
		if name.Known() {
			t.Errorf("%q should not be known", name)
		}
		if _, ok, err := DecodeFrame(sse.Frame{Event: string(name), Data: "{}"}); ok || err != nil {
			t.Errorf("DecodeFrame(%q) = ok %v, err %v; want ignored", name, ok, err)
		}
	}
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher(nil, nil)

	var order []string
	d.Handle(EventNodeStart, func(ev Event) { order = append(order, "first "+ev.Node.NodeID) })
	d.Handle(EventNodeStart, func(ev Event) { order = append(order, "second "+ev.Node.NodeID) })

	frames := []sse.Frame{
		{Event: "node_start", Data: `{"nodeId":"a"}`},
		{Event: "node_start", Data: `not json`},
		{Event: "progress", Data: `{"pct":50}`},
		{Event: "node_start", Data: `{"nodeId":"b"}`},
		{Event: "complete", Data: `{"status":"success"}`}, // no handler
	}
	var handled int
	for _, f := range frames {
		if d.DispatchFrame(f) {
			handled++
		}
	}

	want := []string{"first a", "second a", "first b", "second b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
	if handled != 2 {
		t.Errorf("handled = %d, want 2", handled)
	}
}
