package flow

import (
	"time"

	"go.uber.org/zap"
)

// Store holds the reconciled execution state of one run.
//
// Node updates go through a single merge rule (see ApplyNode). The
// aggregate status moves idle → running (Begin) → success | error |
// cancelled, and the success/error outcome only ever comes from the
// engine's declared result or a transport failure; it is never recomputed
// from node states.
//
// A Store is not safe for concurrent use. Within a Run it is owned by the
// run goroutine; read it through Run.Wait once the run is done.
type Store struct {
	status ExecutionStatus
	nodes  map[string]NodeExecutionState
	order  []string
	logs   []NodeExecutionLog
	result *WorkflowExecutionResult
	err    error
	token  *CancelToken

	observers []Observer
	logger    *zap.Logger
	metrics   *PrometheusMetrics
}

// NewStore returns an idle store that notifies observers of every change.
func NewStore(observers ...Observer) *Store {
	return &Store{
		status:    StatusIdle,
		nodes:     make(map[string]NodeExecutionState),
		observers: observers,
		logger:    zap.NewNop(),
	}
}

// Begin resets the store for a new run and moves it to running. Any state
// from a previous run is discarded. A nil token is replaced with one that
// never cancels.
func (s *Store) Begin(token *CancelToken) {
	if token == nil {
		token = NewCancelToken(nil)
	}
	s.token = token
	s.nodes = make(map[string]NodeExecutionState)
	s.order = nil
	s.logs = nil
	s.result = nil
	s.err = nil
	s.setStatus(StatusRunning)
}

// ApplyNode merges one node log into the state and reports whether it was
// applied.
//
// Merge rule for node N:
//  1. no record for N: create it from the log
//  2. record not terminal: replace it
//  3. record terminal: replace it unless the log says pending
//
// Updates are ignored once the run is no longer running. If the run's token
// has been cancelled the store moves to cancelled instead.
func (s *Store) ApplyNode(l NodeExecutionLog) bool {
	if s.checkCancelled() || s.status != StatusRunning {
		return false
	}

	prev, exists := s.nodes[l.NodeID]
	if exists && prev.Status.IsTerminal() && l.Status == NodePending {
		s.metrics.StaleUpdate()
		s.logger.Debug("ignoring stale pending update",
			zap.String("node_id", l.NodeID),
			zap.String("current_status", string(prev.Status)),
		)
		return false
	}

	st := mergeNode(prev, exists, l)
	if !exists {
		s.order = append(s.order, l.NodeID)
	}
	s.nodes[l.NodeID] = st
	s.logs = append(s.logs, l)
	s.metrics.NodeUpdated(l)

	for _, o := range s.observers {
		o.NodeUpdated(l, st)
	}
	return true
}

// mergeNode builds the replacement record for a node. Timing is carried
// over from the previous record while the node is still in the same
// attempt; a terminal record followed by running starts a new attempt.
func mergeNode(prev NodeExecutionState, exists bool, l NodeExecutionLog) NodeExecutionState {
	at := l.Time()
	st := NodeExecutionState{Status: l.Status, Output: l.Output}

	sameAttempt := exists && !prev.Status.IsTerminal()
	if sameAttempt {
		st.StartTime = prev.StartTime
	}

	if !l.Status.IsTerminal() {
		if st.StartTime.IsZero() && l.Status == NodeRunning {
			st.StartTime = at
		}
		return st
	}

	if exists && prev.Status.IsTerminal() {
		st.StartTime = prev.StartTime
	}
	st.EndTime = at
	if st.StartTime.IsZero() && !at.IsZero() && l.DurationMs != nil {
		st.StartTime = at.Add(-msDuration(*l.DurationMs))
	}
	if st.Output == nil && exists {
		st.Output = prev.Output
	}
	return st
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Finish records the engine's declared result and moves the store to the
// status it names. It reports whether the result was applied.
func (s *Store) Finish(r WorkflowExecutionResult) bool {
	if s.checkCancelled() || s.status != StatusRunning {
		return false
	}
	s.result = &r
	s.setStatus(r.Status.ExecutionStatus())
	for _, o := range s.observers {
		o.RunFinished(r)
	}
	return true
}

// Fail moves a running store to error because the run could not be
// completed, for example on a transport failure or a stream that ended
// before the engine declared a result.
func (s *Store) Fail(err error) bool {
	if s.checkCancelled() || s.status != StatusRunning {
		return false
	}
	s.err = err
	s.setStatus(StatusError)
	for _, o := range s.observers {
		o.RunFailed(err)
	}
	return true
}

// Cancel moves the store to cancelled and cancels its token. Cancellation
// is final; it is a no-op once the store reached any terminal status.
func (s *Store) Cancel() bool {
	if s.status.IsTerminal() {
		return false
	}
	if s.token != nil {
		s.token.Cancel()
	}
	s.setStatus(StatusCancelled)
	for _, o := range s.observers {
		o.RunCancelled()
	}
	return true
}

func (s *Store) checkCancelled() bool {
	if s.token == nil || !s.token.Cancelled() {
		return false
	}
	s.Cancel()
	return true
}

func (s *Store) setStatus(status ExecutionStatus) {
	if s.status == status {
		return
	}
	s.status = status
	for _, o := range s.observers {
		o.StatusChanged(status)
	}
}

// Status returns the aggregate execution status.
func (s *Store) Status() ExecutionStatus {
	return s.status
}

// Node returns the current record for id.
func (s *Store) Node(id string) (NodeExecutionState, bool) {
	st, ok := s.nodes[id]
	return st, ok
}

// Nodes returns a copy of the per-node records.
func (s *Store) Nodes() map[string]NodeExecutionState {
	out := make(map[string]NodeExecutionState, len(s.nodes))
	for k, v := range s.nodes {
		out[k] = v
	}
	return out
}

// NodeOrder returns node ids in the order they were first seen.
func (s *Store) NodeOrder() []string {
	return append([]string(nil), s.order...)
}

// Logs returns every applied node log in arrival order.
func (s *Store) Logs() []NodeExecutionLog {
	return append([]NodeExecutionLog(nil), s.logs...)
}

// Result returns the engine's declared result, or nil if none was applied.
func (s *Store) Result() *WorkflowExecutionResult {
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

// Err returns the failure recorded by Fail.
func (s *Store) Err() error {
	return s.err
}

// Snapshot is a point-in-time copy of a Store.
type Snapshot struct {
	RunID     string
	Status    ExecutionStatus
	Nodes     map[string]NodeExecutionState
	NodeOrder []string
	Logs      []NodeExecutionLog
	Result    *WorkflowExecutionResult
	Err       error
}

// Snapshot copies the store's current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Status:    s.status,
		Nodes:     s.Nodes(),
		NodeOrder: s.NodeOrder(),
		Logs:      s.Logs(),
		Result:    s.Result(),
		Err:       s.err,
	}
}
