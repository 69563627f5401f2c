package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/flowstream/flow"
	"github.com/dshills/flowstream/internal/xjson"
)

// LoadWorkflow reads a workflow definition from a .json, .yaml or .yml file
// and validates it.
//
// Both the bare graph ({"nodes": ..., "edges": ...}) and the request
// envelope ({"workflow": {...}}) are accepted.
func LoadWorkflow(path string) (flow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return flow.Workflow{}, err
	}
	wf, err := ParseWorkflow(data, filepath.Ext(path))
	if err != nil {
		return flow.Workflow{}, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// ParseWorkflow decodes data as JSON when ext is ".json" and as YAML
// otherwise.
func ParseWorkflow(data []byte, ext string) (flow.Workflow, error) {
	var doc struct {
		Workflow *flow.Workflow      `json:"workflow" yaml:"workflow"`
		Nodes    []flow.WorkflowNode `json:"nodes" yaml:"nodes"`
		Edges    []flow.WorkflowEdge `json:"edges" yaml:"edges"`
	}

	var err error
	if strings.EqualFold(ext, ".json") {
		err = xjson.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return flow.Workflow{}, fmt.Errorf("parse workflow: %w", err)
	}

	wf := flow.Workflow{Nodes: doc.Nodes, Edges: doc.Edges}
	if doc.Workflow != nil {
		wf = *doc.Workflow
	}
	if err := wf.Validate(); err != nil {
		return flow.Workflow{}, err
	}
	return wf, nil
}
