package flow

import (
	"github.com/dshills/flowstream/flow/emit"
)

// Observer receives state changes from a Store.
//
// All methods are called on the run's goroutine, in the order the changes
// were applied. Implementations must not block for long; the next chunk is
// not read until they return. Calling Run.Cancel from an observer is safe.
//
// For a given run exactly one of RunFinished, RunFailed or RunCancelled is
// called, at most once.
type Observer interface {
	// NodeUpdated is called after the merge rule accepted log for a node.
	NodeUpdated(log NodeExecutionLog, state NodeExecutionState)

	// StatusChanged is called on every aggregate status transition.
	StatusChanged(status ExecutionStatus)

	// RunFinished is called with the engine's declared result.
	RunFinished(result WorkflowExecutionResult)

	// RunFailed is called on a transport failure or an incomplete stream.
	RunFailed(err error)

	// RunCancelled is called once when the run is cancelled.
	RunCancelled()
}

// Callbacks adapts a set of optional functions to Observer. Nil fields are
// skipped.
//
// OnNodeStart, OnNodeComplete and OnNodeError are convenience hooks derived
// from node updates: start for pending/running, complete for success, error
// for error. OnNodeUpdate sees every accepted update, skipped included.
type Callbacks struct {
	OnNodeStart    func(nodeID, nodeName string)
	OnNodeComplete func(nodeID, nodeName string, output *TaskOutput)
	OnNodeError    func(nodeID, nodeName, message string)
	OnNodeUpdate   func(nodeID string, state NodeExecutionState)
	OnLog          func(log NodeExecutionLog)
	OnStatusChange func(status ExecutionStatus)
	OnComplete     func(result WorkflowExecutionResult)
	OnError        func(err error)
	OnCancel       func()
}

var _ Observer = Callbacks{}

func (c Callbacks) NodeUpdated(l NodeExecutionLog, st NodeExecutionState) {
	if c.OnLog != nil {
		c.OnLog(l)
	}
	if c.OnNodeUpdate != nil {
		c.OnNodeUpdate(l.NodeID, st)
	}
	switch l.Status {
	case NodePending, NodeRunning:
		if c.OnNodeStart != nil {
			c.OnNodeStart(l.NodeID, l.NodeName)
		}
	case NodeSuccess:
		if c.OnNodeComplete != nil {
			c.OnNodeComplete(l.NodeID, l.NodeName, l.Output)
		}
	case NodeError:
		if c.OnNodeError != nil {
			c.OnNodeError(l.NodeID, l.NodeName, nodeErrorMessage(l))
		}
	}
}

func (c Callbacks) StatusChanged(s ExecutionStatus) {
	if c.OnStatusChange != nil {
		c.OnStatusChange(s)
	}
}

func (c Callbacks) RunFinished(r WorkflowExecutionResult) {
	if c.OnComplete != nil {
		c.OnComplete(r)
	}
}

func (c Callbacks) RunFailed(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c Callbacks) RunCancelled() {
	if c.OnCancel != nil {
		c.OnCancel()
	}
}

// nodeErrorMessage prefers the task's own error over the log message.
func nodeErrorMessage(l NodeExecutionLog) string {
	if l.Output != nil && l.Output.Error != "" {
		return l.Output.Error
	}
	if l.Message != "" {
		return l.Message
	}
	return "unknown error"
}

// EmitterObserver forwards Store changes to an emit.Emitter as events.
//
// Event messages:
//   - "node_update" (NodeID set, Meta: status, node_name, message, duration_ms, error)
//   - "status_change" (Meta: status)
//   - "run_complete" (Meta: status, error, duration_ms)
//   - "run_failed" (Meta: error)
//   - "run_cancelled"
//
// Step is a per-run sequence number starting at 1.
type EmitterObserver struct {
	RunID   string
	Emitter emit.Emitter

	step int
}

// NewEmitterObserver returns an observer that emits events tagged with runID.
func NewEmitterObserver(runID string, e emit.Emitter) *EmitterObserver {
	return &EmitterObserver{RunID: runID, Emitter: e}
}

func (o *EmitterObserver) emit(nodeID, msg string, meta map[string]interface{}) {
	if o.Emitter == nil {
		return
	}
	o.step++
	o.Emitter.Emit(emit.Event{
		RunID:  o.RunID,
		Step:   o.step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (o *EmitterObserver) NodeUpdated(l NodeExecutionLog, _ NodeExecutionState) {
	meta := map[string]interface{}{
		"status":    string(l.Status),
		"node_name": l.NodeName,
	}
	if l.Message != "" {
		meta["message"] = l.Message
	}
	if l.DurationMs != nil {
		meta["duration_ms"] = *l.DurationMs
	}
	if l.Status == NodeError {
		meta["error"] = nodeErrorMessage(l)
	}
	o.emit(l.NodeID, emit.MsgNodeUpdate, meta)
}

func (o *EmitterObserver) StatusChanged(s ExecutionStatus) {
	o.emit("", emit.MsgStatusChange, map[string]interface{}{"status": string(s)})
}

func (o *EmitterObserver) RunFinished(r WorkflowExecutionResult) {
	meta := map[string]interface{}{"status": string(r.Status)}
	if r.Error != "" {
		meta["error"] = r.Error
	}
	if d := r.Duration(); d > 0 {
		meta["duration_ms"] = d.Milliseconds()
	}
	o.emit("", emit.MsgRunComplete, meta)
}

func (o *EmitterObserver) RunFailed(err error) {
	o.emit("", emit.MsgRunFailed, map[string]interface{}{"error": err.Error()})
}

func (o *EmitterObserver) RunCancelled() {
	o.emit("", emit.MsgRunCancelled, nil)
}
