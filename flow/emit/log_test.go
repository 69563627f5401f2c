package emit

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/flowstream/internal/xjson"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(Event{RunID: "r1", Step: 2, NodeID: "fetch", Msg: MsgNodeUpdate, Meta: map[string]interface{}{
		"status":      "success",
		"duration_ms": int64(120),
		"node_name":   "Fetch data",
	}})
	e.Emit(Event{RunID: "r1", Step: 3, Msg: MsgRunCancelled})

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), buf.String())
	}

	want := `[node_update] run=r1 step=2 node=fetch duration_ms=120 node_name="Fetch data" status=success`
	if lines[0] != want {
		t.Errorf("line 0 =\n  %s\nwant\n  %s", lines[0], want)
	}
	if lines[1] != "[run_cancelled] run=r1 step=3" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	e.Emit(Event{RunID: "r1", Step: 1, NodeID: "a", Msg: MsgNodeUpdate, Meta: map[string]interface{}{"status": "running"}})

	var got struct {
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}
	if err := xjson.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("invalid JSON line %q: %v", buf.String(), err)
	}
	if got.RunID != "r1" || got.Step != 1 || got.NodeID != "a" || got.Msg != MsgNodeUpdate {
		t.Errorf("decoded = %+v", got)
	}
	if got.Meta["status"] != "running" {
		t.Errorf("meta = %v", got.Meta)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("missing trailing newline")
	}
}

func TestLogEmitter_ConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.Emit(Event{RunID: "r", Step: j, Msg: MsgStatusChange})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 400 {
		t.Fatalf("lines = %d, want 400", len(lines))
	}
	for _, l := range lines {
		var v map[string]interface{}
		if err := xjson.Unmarshal([]byte(l), &v); err != nil {
			t.Fatalf("interleaved line %q: %v", l, err)
		}
	}
}
