package automation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubRunner scripts workflow outcomes without a real engine.
type stubRunner struct {
	mu     sync.Mutex
	result map[string]any
	err    error
	calls  []map[string]any
}

func (r *stubRunner) Run(_ context.Context, _ []byte, overrides map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, overrides)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestScheduler(t *testing.T, runner Runner, clock *testClock) (*Scheduler, *MemStore) {
	t.Helper()
	store := NewMemStore()
	s, err := NewScheduler(store, runner, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	return s, store
}

func cronAutomation(id string) *Automation {
	return &Automation{
		ID:       id,
		Tenant:   "acme",
		Name:     "hourly " + id,
		Trigger:  Trigger{Type: TriggerCron, Cron: "0 * * * *"},
		Workflow: json.RawMessage(`{"workflow": ["print-random-number"]}`),
		Enabled:  true,
	}
}

func TestSchedulerCreateComputesNextRun(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, &stubRunner{}, clock)
	ctx := context.Background()

	a := cronAutomation("a-1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	want := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if a.NextRunAt == nil || !a.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", a.NextRunAt, want)
	}
	if !a.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v", a.CreatedAt)
	}
}

func TestSchedulerCreateValidation(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, &stubRunner{}, clock)
	ctx := context.Background()

	tests := []struct {
		name string
		a    *Automation
	}{
		{"nil automation", nil},
		{"bad trigger", &Automation{Trigger: Trigger{Type: "interval"}, Workflow: json.RawMessage(`{}`)}},
		{"missing workflow", &Automation{Trigger: Trigger{Type: TriggerImmediate}}},
		{"bad cron expression", &Automation{
			Trigger:  Trigger{Type: TriggerCron, Cron: "not a schedule"},
			Workflow: json.RawMessage(`{}`),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Create(ctx, tt.a); err == nil {
				t.Errorf("Create() expected error")
			}
		})
	}

	t.Run("generates missing ID", func(t *testing.T) {
		a := cronAutomation("")
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if a.ID == "" {
			t.Errorf("ID not generated")
		}
	})
}

func TestSchedulerSixFieldCron(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)}
	s, _ := newTestScheduler(t, &stubRunner{}, clock)

	a := cronAutomation("a-1")
	a.Trigger.Cron = "*/15 * * * * *"
	if err := s.Create(context.Background(), a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	want := time.Date(2026, 3, 1, 12, 0, 45, 0, time.UTC)
	if a.NextRunAt == nil || !a.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", a.NextRunAt, want)
	}
}

func TestSchedulerTickFiresDueAutomation(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	runner := &stubRunner{result: map[string]any{"message": "done"}}
	s, store := newTestScheduler(t, runner, clock)
	ctx := context.Background()

	a := cronAutomation("a-1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Before the scheduled instant nothing fires.
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if runner.callCount() != 0 {
		t.Fatalf("fired before due time")
	}

	clock.Set(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if runner.callCount() != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.callCount())
	}

	got, _ := store.Get(ctx, "a-1")
	if got.RunCount != 1 || got.SuccessCount != 1 {
		t.Errorf("counters = %d/%d", got.RunCount, got.SuccessCount)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(clock.Now()) {
		t.Errorf("LastRunAt = %v", got.LastRunAt)
	}
	wantNext := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}
	if !got.NextRunAt.After(*got.LastRunAt) {
		t.Errorf("NextRunAt %v not after LastRunAt %v", got.NextRunAt, got.LastRunAt)
	}

	execs, _ := store.ListExecutions(ctx, "a-1", 10)
	if len(execs) != 1 || execs[0].Status != ExecutionCompleted {
		t.Fatalf("executions = %+v", execs)
	}
	if execs[0].Result["message"] != "done" {
		t.Errorf("execution result = %v", execs[0].Result)
	}

	// The same tick instant does not fire twice; NextRunAt moved on.
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("second Tick() error = %v", err)
	}
	if runner.callCount() != 1 {
		t.Errorf("coalescing broken: runner calls = %d", runner.callCount())
	}
}

func TestSchedulerMissedRunsCoalesce(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	runner := &stubRunner{}
	s, store := newTestScheduler(t, runner, clock)
	ctx := context.Background()

	if err := s.Create(ctx, cronAutomation("a-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Three scheduled instants pass while the scheduler is down.
	clock.Set(time.Date(2026, 3, 1, 16, 30, 0, 0, time.UTC))
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if runner.callCount() != 1 {
		t.Errorf("missed runs did not coalesce: %d fires", runner.callCount())
	}
	got, _ := store.Get(ctx, "a-1")
	wantNext := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}
}

func TestSchedulerFailureRecordsAndContinues(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	runner := &stubRunner{err: errors.New("engine failure (node) at 0")}
	s, store := newTestScheduler(t, runner, clock)
	ctx := context.Background()

	if err := s.Create(ctx, cronAutomation("a-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock.Set(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got, _ := store.Get(ctx, "a-1")
	if got.RunCount != 1 || got.FailureCount != 1 {
		t.Errorf("counters = %d/%d", got.RunCount, got.FailureCount)
	}
	if got.LastError == "" || got.LastErrorAt == nil {
		t.Errorf("failure not recorded")
	}
	// Failures never disable the automation; the schedule keeps moving.
	if !got.Enabled {
		t.Errorf("failure disabled the automation")
	}
	wantNext := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}

	execs, _ := store.ListExecutions(ctx, "a-1", 10)
	if len(execs) != 1 || execs[0].Status != ExecutionFailed || execs[0].Error == "" {
		t.Errorf("executions = %+v", execs)
	}
}

func TestSchedulerEnableDisable(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	runner := &stubRunner{}
	s, store := newTestScheduler(t, runner, clock)
	ctx := context.Background()

	if err := s.Create(ctx, cronAutomation("a-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Disable(ctx, "a-1"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	got, _ := store.Get(ctx, "a-1")
	if got.Enabled || got.NextRunAt != nil {
		t.Errorf("after Disable: enabled=%v next=%v", got.Enabled, got.NextRunAt)
	}

	clock.Set(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if runner.callCount() != 0 {
		t.Errorf("disabled automation fired")
	}

	if err := s.Enable(ctx, "a-1"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	got, _ = store.Get(ctx, "a-1")
	wantNext := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("after Enable: NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}
}

func TestSchedulerExecuteNow(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	runner := &stubRunner{result: map[string]any{"ok": true}}
	s, store := newTestScheduler(t, runner, clock)
	ctx := context.Background()

	a := cronAutomation("a-1")
	a.Enabled = false
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// ExecuteNow bypasses both the schedule and the enabled flag.
	exec, err := s.ExecuteNow(ctx, "a-1", map[string]any{"reason": "manual"})
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if exec.Status != ExecutionCompleted {
		t.Errorf("Status = %s", exec.Status)
	}
	if len(runner.calls) != 1 || runner.calls[0]["reason"] != "manual" {
		t.Errorf("runner overrides = %v", runner.calls)
	}

	got, _ := store.Get(ctx, "a-1")
	if got.RunCount != 1 || got.SuccessCount != 1 {
		t.Errorf("counters = %d/%d", got.RunCount, got.SuccessCount)
	}

	if _, err := s.ExecuteNow(ctx, "ghost", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("ExecuteNow(ghost) = %v", err)
	}
}

func TestSchedulerUpdatePreservesHistory(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	runner := &stubRunner{}
	s, store := newTestScheduler(t, runner, clock)
	ctx := context.Background()

	if err := s.Create(ctx, cronAutomation("a-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	clock.Set(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	if err := s.Tick(ctx, clock.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	edited := cronAutomation("a-1")
	edited.Name = "renamed"
	if err := s.Update(ctx, edited); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := store.Get(ctx, "a-1")
	if got.Name != "renamed" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.RunCount != 1 || got.LastRunAt == nil {
		t.Errorf("history lost: runs=%d lastRun=%v", got.RunCount, got.LastRunAt)
	}
	// NextRunAt recomputed from the preserved LastRunAt.
	wantNext := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(wantNext) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	if _, err := NewScheduler(nil, &stubRunner{}); err == nil {
		t.Errorf("NewScheduler(nil store) expected error")
	}
	if _, err := NewScheduler(NewMemStore(), nil); err == nil {
		t.Errorf("NewScheduler(nil runner) expected error")
	}
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"five field", "30 12 * * *", false},
		{"six field with seconds", "*/10 * * * * *", false},
		{"descriptor", "@hourly", false},
		{"garbage", "whenever", true},
		{"too many fields", "* * * * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
