package flow

// NodeStatus is the per-node execution status reported by the engine.
type NodeStatus string

const (
	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeError   NodeStatus = "error"
	NodeSkipped NodeStatus = "skipped"
)

// Valid reports whether s is one of the known node statuses.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodePending, NodeRunning, NodeSuccess, NodeError, NodeSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether no further progress is expected for a node in
// this status within the run.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeSuccess || s == NodeError || s == NodeSkipped
}

// ExecutionStatus is the aggregate status of a whole run.
type ExecutionStatus string

const (
	StatusIdle      ExecutionStatus = "idle"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusError     ExecutionStatus = "error"
	StatusCancelled ExecutionStatus = "cancelled"

	// StatusCompleted means "stream finished, inspect node statuses for the
	// outcome". Some callers use it; the Store never produces it.
	StatusCompleted ExecutionStatus = "completed"
)

// IsTerminal reports whether the run can no longer change state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// ResultStatus is the aggregate status carried by the run-finished event.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Valid reports whether s is a status the engine may declare.
func (s ResultStatus) Valid() bool {
	return s == ResultSuccess || s == ResultError
}

// ExecutionStatus maps the declared result status onto the aggregate status.
func (s ResultStatus) ExecutionStatus() ExecutionStatus {
	if s == ResultSuccess {
		return StatusSuccess
	}
	return StatusError
}
