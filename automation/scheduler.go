package automation

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dshills/edgeflow-go/flow"
)

// EnvTickInterval names the environment variable controlling the cron
// evaluation cadence, in milliseconds.
const EnvTickInterval = "SCHEDULER_TICK_INTERVAL_MS"

// DefaultTickInterval is the cron evaluation cadence when unconfigured.
const DefaultTickInterval = time.Second

// sixFieldParser accepts cron expressions with a leading seconds column.
// Standard 5-field expressions go through cron.ParseStandard.
var sixFieldParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// parseCron parses a 5- or 6-field cron expression.
func parseCron(expr string) (cron.Schedule, error) {
	if len(strings.Fields(expr)) == 6 {
		return sixFieldParser.Parse(expr)
	}
	return cron.ParseStandard(expr)
}

// Runner executes one workflow definition and returns its public final
// state. The scheduler depends on this narrow surface so tests can
// substitute scripted outcomes for a real engine.
type Runner interface {
	Run(ctx context.Context, definition []byte, overrides map[string]any) (map[string]any, error)
}

// EngineRunner adapts a parser and engine pair to the Runner interface.
type EngineRunner struct {
	Parser *flow.Parser
	Engine *flow.Engine
}

// Run parses the definition and executes it with the given overrides.
func (r *EngineRunner) Run(ctx context.Context, definition []byte, overrides map[string]any) (map[string]any, error) {
	wf, err := r.Parser.Parse(definition)
	if err != nil {
		return nil, err
	}
	result, err := r.Engine.Execute(ctx, wf, overrides)
	if err != nil {
		return nil, err
	}
	return result.State, nil
}

// Scheduler owns the automation lifecycle: CRUD, enablement, next-run
// computation for cron triggers, and firing.
//
// One scheduler per store is the intended deployment; firing within one
// Tick is sequential so a slow workflow delays later due automations to
// the next tick rather than piling up goroutines.
type Scheduler struct {
	store   Store
	runner  Runner
	metrics *flow.Metrics
	clock   func() time.Time
	tick    time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock substitutes the time source. Tests use this to pin "now".
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithTickInterval sets the cron evaluation cadence for Run.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithSchedulerMetrics attaches a metrics collector; automation fires
// are counted by trigger source and outcome.
func WithSchedulerMetrics(m *flow.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler over a store and a workflow runner.
// The tick interval defaults to DefaultTickInterval, overridable via
// SCHEDULER_TICK_INTERVAL_MS or WithTickInterval.
func NewScheduler(store Store, runner Runner, options ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	s := &Scheduler{
		store:  store,
		runner: runner,
		clock:  time.Now,
		tick:   DefaultTickInterval,
	}
	if raw := os.Getenv(EnvTickInterval); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("%s: invalid value %q", EnvTickInterval, raw)
		}
		s.tick = time.Duration(ms) * time.Millisecond
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Create validates and persists a new automation. A missing ID is
// generated; for enabled cron triggers NextRunAt is computed from
// CreatedAt.
func (s *Scheduler) Create(ctx context.Context, a *Automation) error {
	if a == nil {
		return fmt.Errorf("automation is required")
	}
	if err := a.Trigger.Validate(); err != nil {
		return err
	}
	if len(a.Workflow) == 0 {
		return fmt.Errorf("automation requires a workflow definition")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	now := s.clock()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.refreshNextRun(a); err != nil {
		return err
	}
	return s.store.Upsert(ctx, a)
}

// Update revalidates and persists changes to an existing automation,
// recomputing NextRunAt for cron triggers.
func (s *Scheduler) Update(ctx context.Context, a *Automation) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("automation requires an ID")
	}
	if err := a.Trigger.Validate(); err != nil {
		return err
	}
	existing, err := s.store.Get(ctx, a.ID)
	if err != nil {
		return err
	}

	a.CreatedAt = existing.CreatedAt
	a.RunCount = existing.RunCount
	a.SuccessCount = existing.SuccessCount
	a.FailureCount = existing.FailureCount
	a.LastRunAt = existing.LastRunAt
	a.UpdatedAt = s.clock()
	if err := s.refreshNextRun(a); err != nil {
		return err
	}
	return s.store.Upsert(ctx, a)
}

// Delete removes an automation and its execution history.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Get returns one automation.
func (s *Scheduler) Get(ctx context.Context, id string) (*Automation, error) {
	return s.store.Get(ctx, id)
}

// List returns a tenant's automations; empty tenant means all.
func (s *Scheduler) List(ctx context.Context, tenant string) ([]*Automation, error) {
	return s.store.List(ctx, tenant)
}

// Enable turns the automation on and recomputes its next fire time.
func (s *Scheduler) Enable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// Disable turns the automation off. The scheduler skips disabled
// automations; ExecuteNow still works.
func (s *Scheduler) Disable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	a.Enabled = enabled
	a.UpdatedAt = s.clock()
	if err := s.refreshNextRun(a); err != nil {
		return err
	}
	return s.store.Upsert(ctx, a)
}

// refreshNextRun recomputes NextRunAt for an enabled cron automation:
// the first fire strictly after LastRunAt, or CreatedAt before the first
// run. Non-cron and disabled automations carry no NextRunAt.
func (s *Scheduler) refreshNextRun(a *Automation) error {
	if a.Trigger.Type != TriggerCron || !a.Enabled {
		a.NextRunAt = nil
		return nil
	}
	schedule, err := parseCron(a.Trigger.Cron)
	if err != nil {
		return fmt.Errorf("cron expression %q: %w", a.Trigger.Cron, err)
	}
	base := a.CreatedAt
	if a.LastRunAt != nil {
		base = *a.LastRunAt
	}
	next := schedule.Next(base)
	a.NextRunAt = &next
	return nil
}

// ExecuteNow fires an automation synchronously, bypassing its schedule.
// Works for any trigger type and for disabled automations.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string, payload map[string]any) (*Execution, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, a, payload, "immediate")
}

// Tick scans enabled cron automations due at now and fires each once.
// Missed instants coalesce: however long the automation was due, one
// run fires and NextRunAt moves past now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.store.Due(ctx, now)
	if err != nil {
		return fmt.Errorf("scan due automations: %w", err)
	}
	for _, a := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Failures are recorded on the automation itself; a broken
		// automation must not starve the rest of the due set.
		if _, err := s.fire(ctx, a, nil, "cron"); err != nil {
			continue
		}
	}
	return nil
}

// Run drives Tick on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = s.Tick(ctx, s.clock())
		}
	}
}

// fire executes one run: persist a pending execution, transition it to
// running, invoke the workflow, then record the terminal status and the
// atomic counter update.
func (s *Scheduler) fire(ctx context.Context, a *Automation, payload map[string]any, source string) (*Execution, error) {
	exec := &Execution{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		Status:       ExecutionPending,
		TriggerData:  payload,
		StartedAt:    s.clock(),
	}
	if err := s.store.PutExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist execution: %w", err)
	}

	exec.Status = ExecutionRunning
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}

	result, runErr := s.runner.Run(ctx, a.Workflow, payload)

	ranAt := s.clock()
	finished := ranAt
	exec.FinishedAt = &finished
	outcome := RunOutcome{RanAt: ranAt}

	if a.Trigger.Type == TriggerCron {
		if schedule, err := parseCron(a.Trigger.Cron); err == nil {
			next := schedule.Next(ranAt)
			outcome.NextRunAt = &next
		}
	}

	status := "completed"
	if runErr != nil {
		status = "failed"
		exec.Status = ExecutionFailed
		exec.Error = runErr.Error()
		outcome.Error = runErr.Error()
	} else {
		exec.Status = ExecutionCompleted
		exec.Result = result
		outcome.Success = true
	}

	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("finish execution: %w", err)
	}
	if err := s.store.RecordRun(ctx, a.ID, outcome); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	s.metrics.AutomationFired(source, status)

	return exec, nil
}
