package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/flowstream/flow"
)

func TestParseWorkflow(t *testing.T) {
	tests := []struct {
		name  string
		ext   string
		data  string
		nodes int
		edges int
	}{
		{
			name:  "yaml",
			ext:   ".yaml",
			data:  "nodes:\n  - id: a\n    type: http\n    config:\n      url: https://example.com\n  - id: b\n    type: transform\nedges:\n  - source: a\n    target: b\n",
			nodes: 2,
			edges: 1,
		},
		{
			name:  "json",
			ext:   ".json",
			data:  `{"nodes":[{"id":"a","type":"http","label":"A"}],"edges":[]}`,
			nodes: 1,
		},
		{
			name:  "json envelope",
			ext:   ".JSON",
			data:  `{"workflow":{"nodes":[{"id":"a"},{"id":"b"}],"edges":[{"id":"e","source":"a","target":"b"}]}}`,
			nodes: 2,
			edges: 1,
		},
		{
			name:  "yaml envelope",
			ext:   ".yml",
			data:  "workflow:\n  nodes:\n    - id: only\n",
			nodes: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf, err := ParseWorkflow([]byte(tt.data), tt.ext)
			if err != nil {
				t.Fatalf("ParseWorkflow: %v", err)
			}
			if len(wf.Nodes) != tt.nodes || len(wf.Edges) != tt.edges {
				t.Errorf("nodes=%d edges=%d, want %d/%d", len(wf.Nodes), len(wf.Edges), tt.nodes, tt.edges)
			}
		})
	}
}

func TestParseWorkflow_ConfigPassThrough(t *testing.T) {
	wf, err := ParseWorkflow([]byte("nodes:\n  - id: a\n    config:\n      retries: 3\n      url: x\n"), ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	if wf.Nodes[0].Config["url"] != "x" || wf.Nodes[0].Config["retries"] != 3 {
		t.Errorf("config = %#v", wf.Nodes[0].Config)
	}
}

func TestLoadWorkflow_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wf.json")
	if err := os.WriteFile(path, []byte(`{"nodes":[{"id":"a"}],"edges":[{"source":"a","target":"ghost"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWorkflow(path); !errors.Is(err, flow.ErrInvalidWorkflow) {
		t.Errorf("err = %v, want ErrInvalidWorkflow", err)
	}

	if _, err := LoadWorkflow(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}
