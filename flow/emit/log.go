package emit

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/flowstream/internal/xjson"
)

// LogEmitter writes events to a writer, one line per event.
//
// Text mode (default):
//
//	[node_update] run=run-001 step=2 node=fetch status=success duration_ms=120
//
// JSON mode (JSONL):
//
//	{"runID":"run-001","step":2,"nodeID":"fetch","msg":"node_update","meta":{"duration_ms":120,"status":"success"}}
//
// Writes are serialized, so one LogEmitter can be shared by concurrent runs
// without interleaving lines.
//
// Usage:
//
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//
//	f, _ := os.Create("events.jsonl")
//	defer f.Close()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes event as a single line.
func (l *LogEmitter) Emit(event Event) {
	var line string
	if l.jsonMode {
		line = formatJSON(event)
	} else {
		line = formatText(event)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.writer, line)
}

func formatJSON(event Event) string {
	data, err := xjson.Marshal(struct {
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID,omitempty"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta,omitempty"`
	}{
		RunID:  event.RunID,
		Step:   event.Step,
		NodeID: event.NodeID,
		Msg:    event.Msg,
		Meta:   event.Meta,
	})
	if err != nil {
		return fmt.Sprintf("{\"error\":%q}\n", "failed to marshal event: "+err.Error())
	}
	return string(data) + "\n"
}

func formatText(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] run=%s step=%d", event.Msg, event.RunID, event.Step)
	if event.NodeID != "" {
		fmt.Fprintf(&b, " node=%s", event.NodeID)
	}

	// Sorted for stable output.
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, formatValue(event.Meta[k]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, " \t\n\"=") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case fmt.Stringer:
		return val.String()
	case int, int64, float64, bool:
		return fmt.Sprint(val)
	}
	data, err := xjson.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
