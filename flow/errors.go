// Package flow implements the workflow interpreter: a registry of node
// types, a parser that lowers workflow JSON into an AST, and an engine
// that drives node invocations with edge-based routing and loop re-entry.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a node type is not present in the registry.
var ErrNotFound = errors.New("node type not found")

// ErrDuplicateRegistration is returned when a node type identifier is
// registered a second time at a different version. Re-registering the same
// identifier and version is idempotent and succeeds silently.
var ErrDuplicateRegistration = errors.New("duplicate node type registration")

// ErrLoopBoundExceeded indicates a loop node re-entered more times than the
// configured bound without emitting a terminal edge.
var ErrLoopBoundExceeded = errors.New("loop re-entry bound exceeded")

// ParseError describes a failure while lowering workflow JSON into an AST.
//
// Every ParseError carries a path pointer into the source document so
// authors can locate the offending expression, e.g. "/workflow/1/decision-node/big?".
type ParseError struct {
	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Path points into the source JSON, slash-delimited from the root.
	Path string

	// Message is the human-readable error description.
	Message string

	// Cause is the underlying error, if any (e.g. a json.SyntaxError).
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s at %s", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Parse error codes.
const (
	CodeMalformedJSON   = "MALFORMED_JSON"
	CodeMissingWorkflow = "MISSING_WORKFLOW"
	CodeBadShape        = "BAD_SHAPE"
	CodeBadConfig       = "BAD_CONFIG"
	CodeUnknownNodeType = "UNKNOWN_NODE_TYPE"
	CodeUnknownEdge     = "UNKNOWN_EDGE"
	CodeAmbiguousBranch = "AMBIGUOUS_BRANCH"
	CodeLoopWithoutBody = "LOOP_WITHOUT_BODY"
	CodeLoopWithoutExit = "LOOP_WITHOUT_EXIT"
)

// FailureCause discriminates the reasons an execution can abort.
//
// Node-emitted "error" edges are not failures; they are routed like any
// other edge. A FailureCause is only produced when the run itself stops.
type FailureCause string

// Failure causes for EngineFailure.Cause.
const (
	// CauseNode: a node's Execute returned an error (or its thunk did).
	CauseNode FailureCause = "node"

	// CauseTemplate: a config template reference could not be resolved
	// because its syntax was invalid.
	CauseTemplate FailureCause = "template"

	// CauseLoopBound: a loop node exceeded the configured re-entry bound.
	CauseLoopBound FailureCause = "loop_bound"

	// CauseTimeout: the run exceeded its wall-clock budget.
	CauseTimeout FailureCause = "timeout"

	// CauseCancelled: the caller cancelled the run.
	CauseCancelled FailureCause = "cancelled"
)

// EngineFailure is the structured failure report for an aborted run.
//
// It carries the failing instance, the cause discriminator, a snapshot of
// the public state at the moment of failure, and the node's own error
// payload when one was available. Mutations already performed on the run's
// state are discarded by the engine; external side effects performed by
// nodes are not rolled back.
type EngineFailure struct {
	// Cause discriminates why the run aborted.
	Cause FailureCause

	// InstanceID identifies the AST node being executed when the run
	// aborted. Empty for run-level failures (timeout before any step).
	InstanceID string

	// NodeType is the type of the failing node, when known.
	NodeType string

	// Err is the underlying error.
	Err error

	// State is the public state snapshot at failure time (reserved keys
	// removed).
	State map[string]any

	// Payload carries the node's own error payload when the failing node
	// produced one before the abort.
	Payload map[string]any
}

// Error implements the error interface.
func (f *EngineFailure) Error() string {
	if f.InstanceID != "" {
		return fmt.Sprintf("engine failure (%s) at %s: %v", f.Cause, f.InstanceID, f.Err)
	}
	return fmt.Sprintf("engine failure (%s): %v", f.Cause, f.Err)
}

// Unwrap returns the underlying error.
func (f *EngineFailure) Unwrap() error {
	return f.Err
}

// MarshalJSON renders the failure report with the error flattened to its
// text, since error values have no useful JSON form.
func (f *EngineFailure) MarshalJSON() ([]byte, error) {
	errText := ""
	if f.Err != nil {
		errText = f.Err.Error()
	}
	return json.Marshal(struct {
		Cause      FailureCause   `json:"cause"`
		InstanceID string         `json:"instanceId,omitempty"`
		NodeType   string         `json:"nodeType,omitempty"`
		Error      string         `json:"error"`
		State      map[string]any `json:"state,omitempty"`
		Payload    map[string]any `json:"payload,omitempty"`
	}{f.Cause, f.InstanceID, f.NodeType, errText, f.State, f.Payload})
}
