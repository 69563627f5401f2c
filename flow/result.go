package flow

import (
	"time"

	"github.com/dshills/flowstream/internal/xjson"
)

// TaskOutput is the output of one task. An empty Error means success.
//
// Keys other than "error" and "data" are preserved in Extra and flattened
// back into the object on encode.
type TaskOutput struct {
	Error string
	Data  any
	Extra map[string]any
}

// IsSuccess reports whether the task finished without error.
func (o TaskOutput) IsSuccess() bool {
	return o.Error == ""
}

// MarshalJSON flattens Extra next to error and data.
func (o TaskOutput) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Extra)+2)
	for k, v := range o.Extra {
		out[k] = v
	}
	out["error"] = o.Error
	if o.Data != nil {
		out["data"] = o.Data
	}
	return xjson.Marshal(out)
}

// UnmarshalJSON accepts error as a string or null.
func (o *TaskOutput) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := xjson.Unmarshal(b, &raw); err != nil {
		return err
	}

	*o = TaskOutput{}
	for k, v := range raw {
		switch k {
		case "error":
			if s, ok := v.(string); ok {
				o.Error = s
			}
		case "data":
			o.Data = v
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[k] = v
		}
	}
	return nil
}

// NodeExecutionLog is one progress notification for a node.
type NodeExecutionLog struct {
	NodeID   string         `json:"nodeId"`
	NodeName string         `json:"nodeName"`
	Status   NodeStatus     `json:"status"`
	Message  string         `json:"message"`
	Input    map[string]any `json:"input,omitempty"`
	Output   *TaskOutput    `json:"output,omitempty"`

	// DurationMs is carried on the wire as "duration".
	DurationMs *int64 `json:"duration,omitempty"`

	Timestamp string `json:"timestamp"`
}

// Time parses Timestamp as RFC 3339. The zero time is returned when the
// timestamp is absent or malformed.
func (l NodeExecutionLog) Time() time.Time {
	return parseTime(l.Timestamp)
}

// WorkflowExecutionResult is the aggregate outcome declared by the engine in
// the run-finished event, and the body of the non-streaming response.
type WorkflowExecutionResult struct {
	Status      ResultStatus       `json:"status"`
	StartTime   string             `json:"startTime"`
	EndTime     string             `json:"endTime"`
	Logs        []NodeExecutionLog `json:"logs"`
	FinalOutput *TaskOutput        `json:"finalOutput,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Duration is EndTime-StartTime, or zero if either is unparsable.
func (r WorkflowExecutionResult) Duration() time.Duration {
	start, end := parseTime(r.StartTime), parseTime(r.EndTime)
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// NodeExecutionState is the Store's record for one node.
type NodeExecutionState struct {
	Status    NodeStatus
	Output    *TaskOutput
	StartTime time.Time
	EndTime   time.Time
}

// Duration is EndTime-StartTime, or zero until both are known.
func (s NodeExecutionState) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
