package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/flow/sse"
	"github.com/dshills/flowstream/flow/transport"
	"github.com/dshills/flowstream/internal/enginetest"
	"github.com/dshills/flowstream/internal/xjson"
)

// outcome collects StreamHandler callbacks.
type outcome struct {
	mu       sync.Mutex
	chunks   [][]byte
	done     int
	failures []error
	cancels  int
	chunkCh  chan struct{}
}

func newOutcome() *outcome {
	return &outcome{chunkCh: make(chan struct{}, 64)}
}

func (o *outcome) handler() flow.StreamHandler {
	return flow.StreamHandler{
		OnChunk: func(b []byte) {
			o.mu.Lock()
			o.chunks = append(o.chunks, append([]byte(nil), b...))
			o.mu.Unlock()
			select {
			case o.chunkCh <- struct{}{}:
			default:
			}
		},
		OnDone:    func() { o.mu.Lock(); o.done++; o.mu.Unlock() },
		OnFailure: func(err error) { o.mu.Lock(); o.failures = append(o.failures, err); o.mu.Unlock() },
		OnCancel:  func() { o.mu.Lock(); o.cancels++; o.mu.Unlock() },
	}
}

func (o *outcome) terminals() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done + len(o.failures) + o.cancels
}

func (o *outcome) body() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var b strings.Builder
	for _, c := range o.chunks {
		b.Write(c)
	}
	return b.String()
}

func frames(t *testing.T, raw string) []sse.Frame {
	t.Helper()
	var d sse.Decoder
	return append(d.Feed([]byte(raw)), d.Flush()...)
}

type capturedRequest struct {
	method, path, accept, ctype, auth string
	body                              map[string]interface{}
}

func TestHTTPTransport_Request(t *testing.T) {
	reqs := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			accept: r.Header.Get("Accept"),
			ctype:  r.Header.Get("Content-Type"),
			auth:   r.Header.Get("Authorization"),
		}
		_ = xjson.NewDecoder(r.Body).Decode(&c.body)
		reqs <- c
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	tr := transport.New(transport.Config{
		BaseURL: srv.URL + "/api/",
		Headers: map[string]string{"Authorization": "Bearer t"},
	})
	wf := flow.Workflow{
		Nodes: []flow.WorkflowNode{{ID: "a", Type: "http", Label: "A", Config: map[string]any{"url": "x"}}},
		Edges: []flow.WorkflowEdge{},
	}
	o := newOutcome()
	tr.Stream(flow.NewCancelToken(context.Background()), wf, o.handler())
	got := <-reqs

	if got.method != http.MethodPost || got.path != "/api/workflow/execute" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.accept != "text/event-stream" || got.ctype != "application/json" || got.auth != "Bearer t" {
		t.Errorf("headers: accept=%q content-type=%q auth=%q", got.accept, got.ctype, got.auth)
	}
	w, ok := got.body["workflow"].(map[string]interface{})
	if !ok {
		t.Fatalf("body = %v, want {\"workflow\": ...}", got.body)
	}
	nodes, _ := w["nodes"].([]interface{})
	if len(nodes) != 1 {
		t.Errorf("nodes = %v", w["nodes"])
	}
	if o.done != 1 || o.terminals() != 1 {
		t.Errorf("done = %d, terminals = %d", o.done, o.terminals())
	}
}

func TestHTTPTransport_IncrementalDelivery(t *testing.T) {
	engine := &enginetest.Engine{
		Frames: []enginetest.Frame{
			enginetest.NodeStart("A", "Fetch"),
			enginetest.NodeSuccess("A", "Fetch", nil, 1),
			enginetest.Complete(flow.ResultSuccess, ""),
		},
		HoldAfter: 1,
	}
	srv := enginetest.NewServer(engine)
	defer srv.Close()
	defer engine.Release()

	tr := transport.New(transport.Config{BaseURL: srv.URL + "/api", ReadBufferSize: 16})
	o := newOutcome()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		tr.Stream(flow.NewCancelToken(nil), flow.Workflow{}, o.handler())
	}()

	// The first frame is delivered while the engine is still holding.
	deadline := time.After(5 * time.Second)
	for !strings.Contains(o.body(), "\n\n") {
		select {
		case <-o.chunkCh:
		case <-deadline:
			t.Fatal("no data delivered before the stream ended")
		}
	}
	if o.terminals() != 0 {
		t.Fatal("stream finished while engine was holding")
	}

	engine.Release()
	<-finished

	fs := frames(t, o.body())
	if len(fs) != 3 || fs[2].Event != "complete" {
		t.Errorf("frames = %+v", fs)
	}
	for _, c := range o.chunks {
		if len(c) > 16 {
			t.Errorf("chunk of %d bytes exceeds read buffer", len(c))
		}
	}
	if o.done != 1 || o.terminals() != 1 {
		t.Errorf("done = %d, terminals = %d", o.done, o.terminals())
	}
}

func TestHTTPTransport_Rejected(t *testing.T) {
	srv := enginetest.NewServer(&enginetest.Engine{Status: http.StatusBadRequest, ErrorBody: "Invalid request body"})
	defer srv.Close()

	o := newOutcome()
	transport.New(transport.Config{BaseURL: srv.URL + "/api"}).Stream(flow.NewCancelToken(nil), flow.Workflow{}, o.handler())

	if len(o.failures) != 1 || o.terminals() != 1 {
		t.Fatalf("failures = %v, terminals = %d", o.failures, o.terminals())
	}
	var te *flow.TransportError
	if !errors.As(o.failures[0], &te) {
		t.Fatalf("err = %T", o.failures[0])
	}
	if te.StatusCode != http.StatusBadRequest || te.Body != "Invalid request body" {
		t.Errorf("transport error = %+v", te)
	}
	if len(o.chunks) != 0 {
		t.Error("error body delivered as stream data")
	}
}

func TestHTTPTransport_ErrorBodyBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 10000), http.StatusBadGateway)
	}))
	defer srv.Close()

	o := newOutcome()
	transport.New(transport.Config{BaseURL: srv.URL, MaxErrorBody: 100}).Stream(flow.NewCancelToken(nil), flow.Workflow{}, o.handler())

	var te *flow.TransportError
	if len(o.failures) != 1 || !errors.As(o.failures[0], &te) {
		t.Fatalf("failures = %v", o.failures)
	}
	if len(te.Body) != 100 {
		t.Errorf("body length = %d, want 100", len(te.Body))
	}
}

func TestHTTPTransport_CancelBeforeRequest(t *testing.T) {
	srv := enginetest.NewServer(&enginetest.Engine{})
	defer srv.Close()

	tok := flow.NewCancelToken(nil)
	tok.Cancel()
	o := newOutcome()
	transport.New(transport.Config{BaseURL: srv.URL + "/api"}).Stream(tok, flow.Workflow{}, o.handler())

	if o.cancels != 1 || o.terminals() != 1 {
		t.Errorf("cancels = %d, failures = %v", o.cancels, o.failures)
	}
}

func TestHTTPTransport_CancelMidStream(t *testing.T) {
	engine := &enginetest.Engine{
		Frames:    []enginetest.Frame{enginetest.NodeStart("A", "Fetch"), enginetest.Complete(flow.ResultSuccess, "")},
		HoldAfter: 1,
	}
	srv := enginetest.NewServer(engine)
	defer srv.Close()
	defer engine.Release()

	tok := flow.NewCancelToken(nil)
	o := newOutcome()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		transport.New(transport.Config{BaseURL: srv.URL + "/api"}).Stream(tok, flow.Workflow{}, o.handler())
	}()

	<-engine.Held()
	tok.Cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}
	if o.cancels != 1 || len(o.failures) != 0 || o.done != 0 {
		t.Errorf("cancels = %d, failures = %v, done = %d", o.cancels, o.failures, o.done)
	}
	if strings.Contains(o.body(), "complete") {
		t.Error("data delivered after cancellation")
	}
}

func TestHTTPTransport_Legacy(t *testing.T) {
	dur := int64(42)
	legacy := &flow.WorkflowExecutionResult{
		Status: flow.ResultError,
		Logs: []flow.NodeExecutionLog{
			{NodeID: "a", NodeName: "A", Status: flow.NodeSuccess, Output: &flow.TaskOutput{Data: 1.0}, DurationMs: &dur},
			{NodeID: "b", NodeName: "B", Status: flow.NodeError, Output: &flow.TaskOutput{Error: "boom"}},
			{NodeID: "c", NodeName: "C", Status: flow.NodePending},
			{NodeID: "d", NodeName: "D", Status: flow.NodeSkipped},
		},
		Error: "node b failed",
	}
	srv := enginetest.NewServer(&enginetest.Engine{Legacy: legacy})
	defer srv.Close()

	o := newOutcome()
	transport.New(transport.Config{BaseURL: srv.URL + "/api"}).Stream(flow.NewCancelToken(nil), flow.Workflow{}, o.handler())
	if o.done != 1 || o.terminals() != 1 {
		t.Fatalf("done = %d, failures = %v", o.done, o.failures)
	}

	fs := frames(t, o.body())
	var names []string
	for _, f := range fs {
		names = append(names, f.Event)
	}
	want := "node_start,node_complete,node_start,node_complete,node_start,node_complete,complete"
	if strings.Join(names, ",") != want {
		t.Errorf("events = %v, want %s", names, want)
	}

	ev, ok, err := flow.DecodeFrame(fs[0])
	if err != nil || !ok || ev.Node.Status != flow.NodeRunning || ev.Node.Output != nil {
		t.Errorf("synthesized start = %+v, %v", ev.Node, err)
	}
	ev, _, _ = flow.DecodeFrame(fs[3])
	if ev.Node.Status != flow.NodeError || ev.Node.Output.Error != "boom" {
		t.Errorf("synthesized completion = %+v", ev.Node)
	}
	// A pending node keeps its status; a skipped node is never started.
	ev, _, _ = flow.DecodeFrame(fs[4])
	if ev.Type != flow.EventNodeStart || ev.Node.NodeID != "c" || ev.Node.Status != flow.NodePending {
		t.Errorf("pending log = %+v", ev.Node)
	}
	ev, _, _ = flow.DecodeFrame(fs[5])
	if ev.Type != flow.EventNodeComplete || ev.Node.NodeID != "d" || ev.Node.Status != flow.NodeSkipped {
		t.Errorf("skipped log = %+v", ev.Node)
	}
	ev, _, _ = flow.DecodeFrame(fs[6])
	if ev.Result.Status != flow.ResultError || ev.Result.Error != "node b failed" {
		t.Errorf("synthesized result = %+v", ev.Result)
	}
}

func TestHTTPTransport_LegacyMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":`))
	}))
	defer srv.Close()

	o := newOutcome()
	transport.New(transport.Config{BaseURL: srv.URL}).Stream(flow.NewCancelToken(nil), flow.Workflow{}, o.handler())
	if len(o.failures) != 1 || o.terminals() != 1 {
		t.Errorf("failures = %v, terminals = %d", o.failures, o.terminals())
	}
}

func TestHTTPTransport_Health(t *testing.T) {
	srv := enginetest.NewServer(&enginetest.Engine{})
	defer srv.Close()

	hs, err := transport.New(transport.Config{BaseURL: srv.URL + "/api"}).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !hs.OK() || hs.Timestamp == "" {
		t.Errorf("health = %+v", hs)
	}

	sick := enginetest.NewServer(&enginetest.Engine{Unhealthy: true})
	defer sick.Close()
	_, err = transport.New(transport.Config{BaseURL: sick.URL + "/api"}).Health(context.Background())
	var te *flow.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unhealthy err = %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := transport.New(transport.Config{}).Config()
	if cfg.BaseURL != transport.DefaultBaseURL || cfg.ExecutePath != "/workflow/execute" || cfg.HealthPath != "/health" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.ReadBufferSize != transport.DefaultReadBufferSize || cfg.MaxErrorBody != transport.DefaultMaxErrorBody {
		t.Errorf("defaults = %+v", cfg)
	}
}
