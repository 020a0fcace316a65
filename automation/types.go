// Package automation provides persistent schedule/trigger bindings for
// workflows: cron, webhook, and manual triggers with per-run outcome
// tracking.
//
// An Automation binds a workflow definition to a trigger and accumulates
// counters across runs. The Scheduler owns the lifecycle: it computes
// next-run times for cron triggers, fires due automations, and records
// each run as an Execution through a Store. Three stores ship in-tree:
// in-memory for tests, SQLite for single-process deployments, and MySQL
// for shared ones.
package automation

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType discriminates how an automation fires.
type TriggerType string

const (
	// TriggerCron fires on a cron schedule.
	TriggerCron TriggerType = "cron"

	// TriggerImmediate fires only when explicitly requested.
	TriggerImmediate TriggerType = "immediate"

	// TriggerWebhook fires when the webhook endpoint receives a POST
	// for the automation.
	TriggerWebhook TriggerType = "webhook"
)

// Trigger is the discriminated trigger configuration.
type Trigger struct {
	// Type selects the trigger kind.
	Type TriggerType `json:"type"`

	// Cron is the schedule expression for TriggerCron, in standard
	// 5-field form or 6-field form with a leading seconds column.
	Cron string `json:"cron,omitempty"`
}

// Validate checks the trigger shape. Cron expression syntax is checked
// separately by the scheduler, which owns the parser.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerCron:
		if t.Cron == "" {
			return fmt.Errorf("cron trigger requires an expression")
		}
	case TriggerImmediate, TriggerWebhook:
		if t.Cron != "" {
			return fmt.Errorf("%s trigger must not carry a cron expression", t.Type)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// Automation is a persistent binding of a workflow to a trigger.
type Automation struct {
	// ID uniquely identifies the automation.
	ID string `json:"id"`

	// Tenant is the owning tenant identifier.
	Tenant string `json:"tenant"`

	// Name is the human-readable label.
	Name string `json:"name"`

	// Trigger configures when the automation fires.
	Trigger Trigger `json:"trigger"`

	// Workflow is the workflow definition JSON executed on each fire.
	Workflow json.RawMessage `json:"workflow"`

	// Enabled automations are considered by the scheduler; disabled
	// ones fire only via explicit ExecuteNow.
	Enabled bool `json:"enabled"`

	// RunCount, SuccessCount, and FailureCount are monotonic
	// non-decreasing outcome counters; successes plus failures never
	// exceed runs.
	RunCount     int64 `json:"runCount"`
	SuccessCount int64 `json:"successCount"`
	FailureCount int64 `json:"failureCount"`

	// LastRunAt is when the most recent run started; nil before the
	// first run.
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	// NextRunAt is the next scheduled fire time for cron triggers.
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`

	// LastError holds the most recent run failure text; cleared by the
	// next successful run.
	LastError string `json:"lastError,omitempty"`

	// LastErrorAt is when LastError was recorded.
	LastErrorAt *time.Time `json:"lastErrorAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WorkflowDef is one stored version of a workflow definition. Versions
// are immutable: once written, an id+version pair never changes.
// Automations that want a stable definition copy it from here into
// their Workflow field at creation time.
type WorkflowDef struct {
	// ID names the workflow across versions.
	ID string `json:"id"`

	// Version is the monotonically assigned version number, starting
	// at 1.
	Version int `json:"version"`

	// Definition is the workflow JSON in wire form.
	Definition json.RawMessage `json:"definition"`

	CreatedAt time.Time `json:"createdAt"`
}

// ExecutionStatus is the state of one automation run. Valid transitions
// are pending -> running -> (completed | failed); nothing else.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// canTransition reports whether moving from s to next is legal.
func (s ExecutionStatus) canTransition(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning
	case ExecutionRunning:
		return next == ExecutionCompleted || next == ExecutionFailed
	}
	return false
}

// Execution records a single automation run.
type Execution struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// AutomationID references the owning automation.
	AutomationID string `json:"automationId"`

	// Status tracks the run through its state machine.
	Status ExecutionStatus `json:"status"`

	// TriggerData is the payload the trigger delivered, merged over the
	// workflow's initial state as overrides.
	TriggerData map[string]any `json:"triggerData,omitempty"`

	// Result is the public final state of a completed run.
	Result map[string]any `json:"result,omitempty"`

	// Error is the failure text of a failed run.
	Error string `json:"error,omitempty"`

	// StartedAt is when the run was accepted.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the run reached a terminal status.
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
