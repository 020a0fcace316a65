package automation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups for unknown identifiers.
var ErrNotFound = errors.New("automation: not found")

// ErrVersionExists is returned by PutWorkflow when the id+version pair
// is already stored. Workflow versions are immutable.
var ErrVersionExists = errors.New("automation: workflow version exists")

// RunOutcome is the per-run record applied by Store.RecordRun in one
// atomic operation: counters, timestamps, and error bookkeeping move
// together so readers never observe a half-applied run.
type RunOutcome struct {
	// Success selects which outcome counter to increment.
	Success bool

	// RanAt becomes the automation's LastRunAt.
	RanAt time.Time

	// NextRunAt replaces the automation's NextRunAt; nil clears it
	// (non-cron triggers).
	NextRunAt *time.Time

	// Error is stored as LastError on failure. A successful outcome
	// clears any previous LastError.
	Error string
}

// Store is the narrow persistence contract the scheduler depends on.
//
// Implementations must make RecordRun atomic with respect to concurrent
// RecordRun and Get calls: counters are monotonic and successes plus
// failures never exceed runs at any observable moment.
type Store interface {
	// Upsert creates or replaces an automation by ID.
	Upsert(ctx context.Context, a *Automation) error

	// Get returns the automation with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Automation, error)

	// List returns all automations owned by a tenant. An empty tenant
	// returns everything.
	List(ctx context.Context, tenant string) ([]*Automation, error)

	// Delete removes an automation and its executions. Deleting an
	// unknown ID returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Due returns the enabled cron automations whose NextRunAt is at or
	// before now.
	Due(ctx context.Context, now time.Time) ([]*Automation, error)

	// RecordRun applies a run outcome to the automation's counters and
	// timestamps in one atomic update.
	RecordRun(ctx context.Context, id string, outcome RunOutcome) error

	// PutWorkflow stores an immutable workflow definition version.
	// Writing an id+version pair that already exists returns
	// ErrVersionExists.
	PutWorkflow(ctx context.Context, w *WorkflowDef) error

	// GetWorkflow returns one stored definition version, or ErrNotFound.
	GetWorkflow(ctx context.Context, id string, version int) (*WorkflowDef, error)

	// ListWorkflowVersions returns all stored versions of a workflow,
	// oldest first.
	ListWorkflowVersions(ctx context.Context, id string) ([]*WorkflowDef, error)

	// PutExecution persists a new execution record.
	PutExecution(ctx context.Context, e *Execution) error

	// UpdateExecution replaces an existing execution record. The status
	// change must be a legal transition.
	UpdateExecution(ctx context.Context, e *Execution) error

	// GetExecution returns one execution by ID, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns an automation's executions, most recent
	// first, capped at limit (0 means no cap).
	ListExecutions(ctx context.Context, automationID string, limit int) ([]*Execution, error)

	// Close releases store resources.
	Close() error
}
