package flow

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned for a run that was cancelled by its caller.
// It is never reported as a failure.
var ErrCancelled = errors.New("run cancelled")

// ErrIncompleteStream indicates the event stream ended without a
// run-finished event.
var ErrIncompleteStream = errors.New("event stream ended without a complete event")

// ErrInvalidWorkflow is wrapped by every ValidationError.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// ErrNilTransport is returned by New when no transport is supplied.
var ErrNilTransport = errors.New("transport is required")

// ValidationError describes a structural problem in a Workflow.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + e.Field + ": " + e.Message
}

// Unwrap lets errors.Is match ErrInvalidWorkflow.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidWorkflow
}

// TransportError is a network failure or a non-2xx response from the engine.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 for network errors.
	StatusCode int

	// Body is the diagnostic text of a non-2xx response.
	Body string

	// Cause is the underlying network error, if any.
	Cause error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("workflow execution failed: status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("workflow execution failed: status %d", e.StatusCode)
	case e.Cause != nil:
		return "workflow execution failed: " + e.Cause.Error()
	}
	return "workflow execution failed"
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// FrameError reports a framed event whose payload could not be decoded or
// lacked required fields. Frame errors are recovered locally.
type FrameError struct {
	Event string
	Code  string
	Cause error
}

const (
	codeDecode        = "DECODE_FAILED"
	codeMissingField  = "MISSING_FIELD"
	codeInvalidStatus = "INVALID_STATUS"
)

func (e *FrameError) Error() string {
	msg := "frame " + e.Event + ": " + e.Code
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *FrameError) Unwrap() error {
	return e.Cause
}

// ClientError represents an error from Client configuration.
type ClientError struct {
	Message string
	Code    string
}

func (e *ClientError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
