// Package transport implements flow.Transport over HTTP.
//
// The engine answers POST {base}/workflow/execute with a chunked
// text/event-stream response. Older engines answer with a single JSON
// WorkflowExecutionResult instead; HTTPTransport converts that document into
// the equivalent event stream so callers see one protocol.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/flow/sse"
	"github.com/dshills/flowstream/internal/xjson"
)

const (
	DefaultBaseURL        = "http://localhost:8080/api"
	DefaultExecutePath    = "/workflow/execute"
	DefaultHealthPath     = "/health"
	DefaultReadBufferSize = 4096
	DefaultMaxErrorBody   = 64 << 10
	DefaultHealthTimeout  = 5 * time.Second
)

// Config describes how to reach the engine. Zero fields take the Default*
// values.
type Config struct {
	BaseURL     string
	ExecutePath string
	HealthPath  string
	Headers     map[string]string

	// ReadBufferSize bounds each read of the response body, and so the size
	// of every chunk handed to the stream handler.
	ReadBufferSize int

	// MaxErrorBody bounds how much of a non-2xx body is kept as diagnostic
	// text.
	MaxErrorBody int64

	HealthTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ExecutePath == "" {
		c.ExecutePath = DefaultExecutePath
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxErrorBody <= 0 {
		c.MaxErrorBody = DefaultMaxErrorBody
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	return c
}

// HTTPTransport streams workflow executions from an engine over HTTP.
// It is safe for concurrent use.
type HTTPTransport struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ flow.Transport = (*HTTPTransport)(nil)

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient replaces the default http.Client. Do not set a client
// Timeout: it would cut long-running streams. Cancellation goes through the
// run's CancelToken.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *HTTPTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New returns an HTTPTransport for cfg.
func New(cfg Config, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		cfg:    cfg.withDefaults(),
		client: &http.Client{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config returns the effective configuration.
func (t *HTTPTransport) Config() Config {
	return t.cfg
}

type executeRequest struct {
	Workflow flow.Workflow `json:"workflow"`
}

// Stream posts wf and feeds the response to h. See flow.Transport.
//
// Chunks passed to h.OnChunk are only valid for the duration of the call.
func (t *HTTPTransport) Stream(token *flow.CancelToken, wf flow.Workflow, h flow.StreamHandler) {
	cb := handler{h}
	url := t.cfg.BaseURL + t.cfg.ExecutePath

	body, err := xjson.Marshal(executeRequest{Workflow: wf})
	if err != nil {
		cb.failure(&flow.TransportError{Cause: fmt.Errorf("encode request: %w", err)})
		return
	}

	req, err := http.NewRequestWithContext(token.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cb.failure(&flow.TransportError{Cause: fmt.Errorf("create request: %w", err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	t.logger.Debug("posting workflow", zap.String("url", url), zap.Int("nodes", len(wf.Nodes)))

	resp, err := t.client.Do(req)
	if err != nil {
		t.abort(token, cb, &flow.TransportError{Cause: err})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.rejected(token, cb, resp)
		return
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		t.legacy(token, cb, resp)
		return
	}

	buf := make([]byte, t.cfg.ReadBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if token.Cancelled() {
			cb.cancel()
			return
		}
		if n > 0 {
			cb.chunk(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			cb.done()
			return
		}
		if err != nil {
			t.abort(token, cb, &flow.TransportError{StatusCode: resp.StatusCode, Cause: err})
			return
		}
	}
}

// abort reports err, unless it is the result of cancellation.
func (t *HTTPTransport) abort(token *flow.CancelToken, cb handler, err *flow.TransportError) {
	if token.Cancelled() || errors.Is(err.Cause, context.Canceled) {
		cb.cancel()
		return
	}
	t.logger.Warn("workflow stream failed", zap.Error(err.Cause))
	cb.failure(err)
}

func (t *HTTPTransport) rejected(token *flow.CancelToken, cb handler, resp *http.Response) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxErrorBody))
	if token.Cancelled() {
		cb.cancel()
		return
	}
	text := strings.TrimSpace(string(data))
	if err != nil && text == "" {
		text = err.Error()
	}
	t.logger.Warn("engine rejected workflow",
		zap.Int("status", resp.StatusCode),
		zap.String("body", text),
	)
	cb.failure(&flow.TransportError{StatusCode: resp.StatusCode, Body: text})
}

// legacy converts a single-document response into the event stream an
// engine would have sent, then complete.
func (t *HTTPTransport) legacy(token *flow.CancelToken, cb handler, resp *http.Response) {
	var result flow.WorkflowExecutionResult
	err := xjson.NewDecoder(resp.Body).Decode(&result)
	if token.Cancelled() {
		cb.cancel()
		return
	}
	if err != nil {
		t.abort(token, cb, &flow.TransportError{
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("decode result: %w", err),
		})
		return
	}
	t.logger.Debug("engine answered with a single result document", zap.Int("logs", len(result.Logs)))

	stream, err := SynthesizeStream(result)
	if err != nil {
		cb.failure(&flow.TransportError{StatusCode: resp.StatusCode, Cause: err})
		return
	}
	cb.chunk(stream)
	cb.done()
}

// SynthesizeStream renders result as the event stream a streaming engine
// would have produced for it. A finished log becomes node_start (running)
// and node_complete, a pending or running log a node_start carrying its own
// status, and a skipped log a lone node_complete.
func SynthesizeStream(result flow.WorkflowExecutionResult) ([]byte, error) {
	var buf bytes.Buffer
	write := func(event flow.EventType, v interface{}) error {
		data, err := xjson.Marshal(v)
		if err != nil {
			return err
		}
		return sse.Encode(&buf, string(event), string(data))
	}

	for _, l := range result.Logs {
		switch {
		case l.Status == flow.NodeSkipped:
			// Skipped nodes never ran.
			if err := write(flow.EventNodeComplete, l); err != nil {
				return nil, err
			}
		case l.Status != "" && !l.Status.IsTerminal():
			if err := write(flow.EventNodeStart, l); err != nil {
				return nil, err
			}
		default:
			start := l
			start.Status = flow.NodeRunning
			start.Output = nil
			start.DurationMs = nil
			if err := write(flow.EventNodeStart, start); err != nil {
				return nil, err
			}
			if err := write(flow.EventNodeComplete, l); err != nil {
				return nil, err
			}
		}
	}
	if err := write(flow.EventComplete, result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json"
}

// HealthStatus is the engine's health report.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// OK reports whether the engine declared itself healthy.
func (h HealthStatus) OK() bool {
	return h.Status == "ok"
}

// Health queries GET {base}/health.
func (t *HTTPTransport) Health(ctx context.Context) (HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+t.cfg.HealthPath, nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return HealthStatus{}, &flow.TransportError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxErrorBody))
		return HealthStatus{}, &flow.TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var hs HealthStatus
	if err := xjson.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, &flow.TransportError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode health: %w", err)}
	}
	return hs, nil
}

// handler guards against nil callbacks.
type handler struct {
	h flow.StreamHandler
}

func (c handler) chunk(b []byte) {
	if c.h.OnChunk != nil {
		c.h.OnChunk(b)
	}
}

func (c handler) done() {
	if c.h.OnDone != nil {
		c.h.OnDone()
	}
}

func (c handler) failure(err error) {
	if c.h.OnFailure != nil {
		c.h.OnFailure(err)
	}
}

func (c handler) cancel() {
	if c.h.OnCancel != nil {
		c.h.OnCancel()
	}
}
