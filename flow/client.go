package flow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/flowstream/flow/sse"
)

// Transport opens the streaming execution request for a workflow.
//
// Stream sends exactly one request and blocks until it is over, calling
// h.OnChunk with bytes as they are read and then exactly one of h.OnDone,
// h.OnFailure or h.OnCancel. Callbacks run on the calling goroutine.
//
// Once token is cancelled no further OnChunk calls are made, and an abort
// caused by the cancellation is reported through OnCancel, never OnFailure.
type Transport interface {
	Stream(token *CancelToken, wf Workflow, h StreamHandler)
}

// StreamHandler receives the response of a Transport. Nil fields are
// skipped.
type StreamHandler struct {
	OnChunk   func(chunk []byte)
	OnDone    func()
	OnFailure func(err error)
	OnCancel  func()
}

// Client starts workflow runs against an engine through a Transport.
//
// Runs are independent: each one gets its own Store, CancelToken and
// decoder, so a Client may be shared across goroutines.
type Client struct {
	transport Transport
	cfg       clientConfig
}

// New returns a Client using transport.
//
// Example:
//
//	tr := transport.New(transport.Config{BaseURL: "http://localhost:8080/api"})
//	client, err := flow.New(tr, flow.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	run, err := client.Start(ctx, wf, flow.Callbacks{
//	    OnNodeComplete: func(id, name string, out *flow.TaskOutput) { ... },
//	})
func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	cfg := clientConfig{
		logger:   zap.NewNop(),
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Client{transport: transport, cfg: cfg}, nil
}

// Start validates wf and starts streaming its execution in a new goroutine.
//
// Ending ctx cancels the run, exactly like Run.Cancel. The observers see
// every change of the run's Store; they are called on the run goroutine.
func (c *Client) Start(ctx context.Context, wf Workflow, observers ...Observer) (*Run, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	id := c.cfg.newRunID()
	obs := make([]Observer, 0, len(c.cfg.observers)+len(observers)+1)
	obs = append(obs, c.cfg.observers...)
	if c.cfg.emitter != nil {
		obs = append(obs, NewEmitterObserver(id, c.cfg.emitter))
	}
	obs = append(obs, observers...)

	store := NewStore(obs...)
	store.logger = c.cfg.logger.With(zap.String("run_id", id))
	store.metrics = c.cfg.metrics

	r := &Run{
		ID:     id,
		token:  NewCancelToken(ctx),
		store:  store,
		done:   make(chan struct{}),
		logger: store.logger,
	}
	go r.run(c.transport, wf, c.cfg.metrics)
	return r, nil
}

// Run is one in-flight or finished workflow execution.
type Run struct {
	ID string

	token  *CancelToken
	store  *Store
	done   chan struct{}
	snap   Snapshot
	logger *zap.Logger
}

func (r *Run) run(tr Transport, wf Workflow, metrics *PrometheusMetrics) {
	defer close(r.done)

	started := time.Now()
	metrics.RunStarted()
	r.logger.Debug("run started", zap.Int("nodes", len(wf.Nodes)), zap.Int("edges", len(wf.Edges)))

	r.store.Begin(r.token)

	dec := &sse.Decoder{}
	disp := NewDispatcher(r.logger, metrics)
	applyNode := func(ev Event) { r.store.ApplyNode(*ev.Node) }
	disp.Handle(EventNodeStart, applyNode)
	disp.Handle(EventNodeComplete, applyNode)
	disp.Handle(EventComplete, func(ev Event) { r.store.Finish(*ev.Result) })

	deliver := func(frames []sse.Frame) {
		for _, f := range frames {
			if r.token.Cancelled() {
				r.store.Cancel()
				return
			}
			disp.DispatchFrame(f)
		}
	}

	tr.Stream(r.token, wf, StreamHandler{
		OnChunk: func(chunk []byte) {
			if r.token.Cancelled() {
				return
			}
			deliver(dec.Feed(chunk))
		},
		OnDone: func() {
			deliver(dec.Flush())
		},
		OnFailure: func(err error) {
			r.store.Fail(err)
		},
		OnCancel: func() {
			r.store.Cancel()
		},
	})

	if r.store.Status() == StatusRunning {
		if r.token.Cancelled() {
			r.store.Cancel()
		} else {
			r.store.Fail(ErrIncompleteStream)
		}
	}
	if dec.Skipped > 0 {
		r.logger.Debug("skipped incomplete blocks", zap.Int("count", dec.Skipped))
	}
	r.token.release()

	r.snap = r.store.Snapshot()
	r.snap.RunID = r.ID

	outcome := string(r.snap.Status)
	if r.snap.Err != nil {
		outcome = "failed"
	}
	metrics.RunEnded(outcome, time.Since(started))
	r.logger.Debug("run finished", zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(started)))
}

// Cancel requests cancellation of the run. It is safe to call from any
// goroutine, including observers, and more than once. Once the run goroutine
// notices, the store moves to cancelled and no further node updates are
// delivered.
func (r *Run) Cancel() {
	r.token.Cancel()
}

// Done is closed when the run has reached a terminal status and its
// goroutine has exited.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is done or ctx ends.
//
// The returned error is ErrCancelled for a cancelled run, the failure for a
// run that could not complete (a *TransportError or ErrIncompleteStream),
// and nil when the engine declared a result, whatever its status. If ctx
// ends first, Wait returns ctx.Err() and the run keeps going.
func (r *Run) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	return r.snap, r.snap.outcome()
}

func (s Snapshot) outcome() error {
	switch {
	case s.Status == StatusCancelled:
		return ErrCancelled
	case s.Err != nil:
		return s.Err
	case s.Result == nil:
		return ErrIncompleteStream
	}
	return nil
}
