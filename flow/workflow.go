// Package flow runs workflows on a remote execution engine and reconciles
// the engine's streamed progress into per-node and per-run status.
//
// A run flows one way through four stages:
//
//	Transport -> sse.Decoder -> Dispatcher -> Store -> Observers
//
// and cancellation flows the other way through a per-run CancelToken.
//
// Example:
//
//	tr := transport.New(transport.Config{BaseURL: "http://localhost:8080/api"})
//	client, _ := flow.New(tr, flow.WithLogger(logger))
//
//	run, _ := client.Start(ctx, wf, flow.Callbacks{
//	    OnNodeUpdate: func(id string, st flow.NodeExecutionState) { ... },
//	})
//	snap, err := run.Wait(ctx)
package flow

import (
	"fmt"
)

// Workflow is the directed graph submitted for one run.
// It is immutable for the duration of the run.
type Workflow struct {
	Nodes []WorkflowNode `json:"nodes" yaml:"nodes"`
	Edges []WorkflowEdge `json:"edges" yaml:"edges"`
}

// WorkflowNode is one unit of work in the graph.
type WorkflowNode struct {
	// ID is unique and stable within the workflow.
	ID string `json:"id" yaml:"id"`

	// Type identifies the task type the engine executes for this node.
	Type string `json:"type" yaml:"type"`

	Label string `json:"label" yaml:"label"`

	// Config is opaque to the client and passed through to the engine.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// WorkflowEdge connects two nodes by id.
type WorkflowEdge struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Validate checks the structural invariants of the graph: node ids are
// non-empty and unique and every edge references existing nodes.
//
// The returned error wraps ErrInvalidWorkflow.
func (w Workflow) Validate() error {
	seen := make(map[string]struct{}, len(w.Nodes))
	for i, n := range w.Nodes {
		if n.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("nodes[%d].id", i), Message: "node id cannot be empty"}
		}
		if _, dup := seen[n.ID]; dup {
			return &ValidationError{Field: fmt.Sprintf("nodes[%d].id", i), Message: "duplicate node id: " + n.ID}
		}
		seen[n.ID] = struct{}{}
	}

	for i, e := range w.Edges {
		if _, ok := seen[e.Source]; !ok {
			return &ValidationError{Field: fmt.Sprintf("edges[%d].source", i), Message: "unknown source node: " + e.Source}
		}
		if _, ok := seen[e.Target]; !ok {
			return &ValidationError{Field: fmt.Sprintf("edges[%d].target", i), Message: "unknown target node: " + e.Target}
		}
	}
	return nil
}

// Node returns the node with the given id.
func (w Workflow) Node(id string) (WorkflowNode, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return WorkflowNode{}, false
}
