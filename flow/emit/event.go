package emit

// Event is one observable change in a workflow run.
type Event struct {
	// RunID identifies the run that produced the event.
	RunID string

	// Step is the per-run sequence number of the event, starting at 1.
	Step int

	// NodeID is set for node updates and empty for run-level events.
	NodeID string

	// Msg names the kind of event: "node_update", "status_change",
	// "run_complete", "run_failed" or "run_cancelled".
	Msg string

	// Meta carries event details. Common keys:
	//   - "status": node or run status
	//   - "node_name": display name of the node
	//   - "duration_ms": duration in milliseconds
	//   - "error": error text
	Meta map[string]interface{}
}

// Terminal reports whether the event ends its run.
func (e Event) Terminal() bool {
	switch e.Msg {
	case MsgRunComplete, MsgRunFailed, MsgRunCancelled:
		return true
	}
	return false
}

// Event messages produced by flow.EmitterObserver.
const (
	MsgNodeUpdate   = "node_update"
	MsgStatusChange = "status_change"
	MsgRunComplete  = "run_complete"
	MsgRunFailed    = "run_failed"
	MsgRunCancelled = "run_cancelled"
)
