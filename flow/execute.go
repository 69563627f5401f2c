package flow

import (
	"context"
)

// Execute runs wf and returns the engine's result once the run has
// finished. It is the request/response form of Start.
//
// A result whose Status is ResultError is returned with a nil error: node
// and run failures are part of the result. The error is non-nil only when
// no result exists: ErrCancelled if ctx ended or the run was cancelled, the
// transport failure, or ErrIncompleteStream.
func (c *Client) Execute(ctx context.Context, wf Workflow) (*WorkflowExecutionResult, error) {
	run, err := c.Start(ctx, wf)
	if err != nil {
		return nil, err
	}
	<-run.Done()

	snap := run.snap
	if err := snap.outcome(); err != nil {
		return nil, err
	}
	return snap.Result, nil
}
