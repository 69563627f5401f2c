// Package enginetest provides a scripted in-process workflow engine for
// tests and examples.
//
// The engine answers POST /api/workflow/execute with a fixed event stream,
// flushing after every frame so clients observe true incremental delivery.
// It can also pause mid-stream, reject the request, or answer with a single
// legacy JSON document.
package enginetest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/flow/sse"
	"github.com/dshills/flowstream/internal/xjson"
)

const (
	ExecutePath = "/api/workflow/execute"
	HealthPath  = "/api/health"
)

// Frame is the wire text of one event block, blank-line terminator included.
type Frame string

// Event encodes payload as JSON under the given event name.
func Event(name string, payload interface{}) Frame {
	data, err := xjson.Marshal(payload)
	if err != nil {
		panic("enginetest: " + err.Error())
	}
	var buf bytes.Buffer
	_ = sse.Encode(&buf, name, string(data))
	return Frame(buf.String())
}

// Raw is a frame written verbatim. Use it for malformed input.
func Raw(text string) Frame {
	return Frame(text)
}

// NodeStart is a node_start event with status running.
func NodeStart(id, name string) Frame {
	return Event(string(flow.EventNodeStart), flow.NodeExecutionLog{
		NodeID:    id,
		NodeName:  name,
		Status:    flow.NodeRunning,
		Message:   "Executing " + name,
		Timestamp: stamp(),
	})
}

// NodeSuccess is a successful node_complete event.
func NodeSuccess(id, name string, data interface{}, durationMs int64) Frame {
	return Event(string(flow.EventNodeComplete), flow.NodeExecutionLog{
		NodeID:     id,
		NodeName:   name,
		Status:     flow.NodeSuccess,
		Message:    "Successfully executed " + name,
		Output:     &flow.TaskOutput{Data: data},
		DurationMs: &durationMs,
		Timestamp:  stamp(),
	})
}

// NodeFailure is a failed node_complete event.
func NodeFailure(id, name, errMsg string) Frame {
	return Event(string(flow.EventNodeComplete), flow.NodeExecutionLog{
		NodeID:    id,
		NodeName:  name,
		Status:    flow.NodeError,
		Message:   "Failed to execute " + name + ": " + errMsg,
		Output:    &flow.TaskOutput{Error: errMsg},
		Timestamp: stamp(),
	})
}

// NodeSkipped is a node_complete event with status skipped.
func NodeSkipped(id, name string) Frame {
	return Event(string(flow.EventNodeComplete), flow.NodeExecutionLog{
		NodeID:    id,
		NodeName:  name,
		Status:    flow.NodeSkipped,
		Message:   "Skipped " + name,
		Timestamp: stamp(),
	})
}

// Complete is the run-finished event.
func Complete(status flow.ResultStatus, errMsg string) Frame {
	now := stamp()
	return Event(string(flow.EventComplete), flow.WorkflowExecutionResult{
		Status:    status,
		StartTime: now,
		EndTime:   now,
		Logs:      []flow.NodeExecutionLog{},
		Error:     errMsg,
	})
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Engine is a scripted engine. Configure the exported fields before the
// first request; they must not change while a request is served.
type Engine struct {
	// Frames are streamed in order.
	Frames []Frame

	// HoldAfter pauses the stream after that many frames until Release is
	// called or the client goes away. Zero or negative disables the pause.
	HoldAfter int

	// Delay is slept between frames.
	Delay time.Duration

	// Status, when not 2xx, rejects the request with ErrorBody as text.
	Status    int
	ErrorBody string

	// Legacy, when set, is returned as a single application/json document
	// instead of an event stream.
	Legacy *flow.WorkflowExecutionResult

	// Unhealthy makes the health endpoint answer 503.
	Unhealthy bool

	once     sync.Once
	heldOnce sync.Once
	held     chan struct{}
	release  chan struct{}
	relOnce  sync.Once
	mu       sync.Mutex
	received []flow.Workflow
	gone     chan struct{}
}

func (e *Engine) init() {
	e.once.Do(func() {
		e.held = make(chan struct{})
		e.release = make(chan struct{})
		e.gone = make(chan struct{}, 16)
	})
}

// Held is closed when the stream reaches HoldAfter.
func (e *Engine) Held() <-chan struct{} {
	e.init()
	return e.held
}

func (e *Engine) markHeld() {
	e.heldOnce.Do(func() { close(e.held) })
}

// Release resumes a held stream.
func (e *Engine) Release() {
	e.init()
	e.relOnce.Do(func() { close(e.release) })
}

// Disconnected receives a value each time a client abandons a held or
// delayed stream.
func (e *Engine) Disconnected() <-chan struct{} {
	e.init()
	return e.gone
}

func (e *Engine) disconnected() {
	select {
	case e.gone <- struct{}{}:
	default:
	}
}

// Received returns the workflows posted so far.
func (e *Engine) Received() []flow.Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]flow.Workflow(nil), e.received...)
}

// NewServer starts an httptest server backed by e. The caller closes it.
// Point a transport at server.URL + "/api".
func NewServer(e *Engine) *httptest.Server {
	return httptest.NewServer(e)
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.init()
	switch {
	case r.URL.Path == HealthPath && r.Method == http.MethodGet:
		e.serveHealth(w)
	case r.URL.Path == ExecutePath && r.Method == http.MethodPost:
		e.serveExecute(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (e *Engine) serveHealth(w http.ResponseWriter) {
	if e.Unhealthy {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = xjson.NewEncoder(w).Encode(map[string]string{"status": "ok", "timestamp": stamp()})
}

func (e *Engine) serveExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Workflow flow.Workflow `json:"workflow"`
	}
	if err := xjson.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	e.received = append(e.received, req.Workflow)
	e.mu.Unlock()

	if e.Status != 0 && (e.Status < 200 || e.Status > 299) {
		http.Error(w, e.ErrorBody, e.Status)
		return
	}

	if e.Legacy != nil {
		w.Header().Set("Content-Type", "application/json")
		_ = xjson.NewEncoder(w).Encode(e.Legacy)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "expected Accept: text/event-stream", http.StatusNotAcceptable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for i, f := range e.Frames {
		if e.HoldAfter > 0 && i == e.HoldAfter {
			e.markHeld()
			select {
			case <-e.release:
			case <-r.Context().Done():
				e.disconnected()
				return
			}
		}
		if e.Delay > 0 && i > 0 {
			select {
			case <-time.After(e.Delay):
			case <-r.Context().Done():
				e.disconnected()
				return
			}
		}
		if _, err := w.Write([]byte(f)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if e.HoldAfter > 0 && e.HoldAfter >= len(e.Frames) {
		e.markHeld()
		select {
		case <-e.release:
		case <-r.Context().Done():
			e.disconnected()
		}
	}
}

// FailingScenario is the two-node run A → B where A succeeds and B fails
// with "boom", and the engine declares the run failed.
func FailingScenario() (flow.Workflow, []Frame) {
	wf := flow.Workflow{
		Nodes: []flow.WorkflowNode{
			{ID: "A", Type: "http", Label: "Fetch"},
			{ID: "B", Type: "transform", Label: "Transform"},
		},
		Edges: []flow.WorkflowEdge{{ID: "e1", Source: "A", Target: "B"}},
	}
	frames := []Frame{
		NodeStart("A", "Fetch"),
		NodeSuccess("A", "Fetch", map[string]interface{}{"ok": true}, 12),
		NodeStart("B", "Transform"),
		NodeFailure("B", "Transform", "boom"),
		Complete(flow.ResultError, "node B failed: boom"),
	}
	return wf, frames
}
