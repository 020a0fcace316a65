package automation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "automations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	lastRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := sampleAutomation("a-1", "acme")
	a.LastRunAt = &lastRun
	a.LastError = "previous failure"

	if err := store.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.Get(ctx, "a-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Tenant != "acme" || got.Trigger.Type != TriggerCron || got.Trigger.Cron != "0 * * * *" {
		t.Errorf("Get() = %+v", got)
	}
	if string(got.Workflow) != string(a.Workflow) {
		t.Errorf("workflow = %s", got.Workflow)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(lastRun) {
		t.Errorf("LastRunAt = %v", got.LastRunAt)
	}
	if got.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil", got.NextRunAt)
	}
	if got.LastError != "previous failure" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestSQLiteStoreUpsertPreservesCounters(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	a := sampleAutomation("a-1", "acme")
	if err := store.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	ranAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, "a-1", RunOutcome{Success: true, RanAt: ranAt}); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	// A definition edit must not reset run history.
	a.Name = "renamed"
	if err := store.Upsert(ctx, a); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	got, _ := store.Get(ctx, "a-1")
	if got.Name != "renamed" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.RunCount != 1 || got.SuccessCount != 1 {
		t.Errorf("counters reset by upsert: %d/%d", got.RunCount, got.SuccessCount)
	}
	if got.LastRunAt == nil {
		t.Errorf("LastRunAt lost by upsert")
	}
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	for _, spec := range []struct{ id, tenant string }{
		{"a-1", "acme"}, {"a-2", "acme"}, {"b-1", "globex"},
	} {
		if err := store.Upsert(ctx, sampleAutomation(spec.id, spec.tenant)); err != nil {
			t.Fatalf("Upsert(%s) error = %v", spec.id, err)
		}
	}

	acme, err := store.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(acme) != 2 {
		t.Errorf("List(acme) = %d, want 2", len(acme))
	}
	all, _ := store.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("List(all) = %d, want 3", len(all))
	}

	if err := store.Delete(ctx, "a-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "a-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := store.Delete(ctx, "a-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v", err)
	}
}

func TestSQLiteStoreDue(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due := sampleAutomation("due", "acme")
	due.NextRunAt = &past

	notYet := sampleAutomation("not-yet", "acme")
	notYet.NextRunAt = &future

	disabled := sampleAutomation("disabled", "acme")
	disabled.NextRunAt = &past
	disabled.Enabled = false

	unscheduled := sampleAutomation("unscheduled", "acme")

	for _, a := range []*Automation{due, notYet, disabled, unscheduled} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert(%s) error = %v", a.ID, err)
		}
	}

	got, err := store.Due(ctx, now)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "due" {
		t.Errorf("Due() = %v", ids(got))
	}
}

func TestSQLiteStoreRecordRun(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleAutomation("a-1", "acme")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	ranAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	next := ranAt.Add(time.Hour)

	if err := store.RecordRun(ctx, "a-1", RunOutcome{RanAt: ranAt, NextRunAt: &next, Error: "boom"}); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	got, _ := store.Get(ctx, "a-1")
	if got.RunCount != 1 || got.FailureCount != 1 || got.LastError != "boom" {
		t.Errorf("after failure: %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}

	later := ranAt.Add(time.Hour)
	if err := store.RecordRun(ctx, "a-1", RunOutcome{Success: true, RanAt: later}); err != nil {
		t.Fatalf("second RecordRun() error = %v", err)
	}
	got, _ = store.Get(ctx, "a-1")
	if got.RunCount != 2 || got.SuccessCount != 1 || got.FailureCount != 1 {
		t.Errorf("counters = %d/%d/%d", got.RunCount, got.SuccessCount, got.FailureCount)
	}
	if got.LastError != "" || got.LastErrorAt != nil {
		t.Errorf("error not cleared: %q %v", got.LastError, got.LastErrorAt)
	}

	if err := store.RecordRun(ctx, "ghost", RunOutcome{RanAt: ranAt}); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordRun(ghost) = %v", err)
	}
}

func TestSQLiteStoreExecutions(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, sampleAutomation("a-1", "acme")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	started := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	exec := &Execution{
		ID:           "e-1",
		AutomationID: "a-1",
		Status:       ExecutionPending,
		TriggerData:  map[string]any{"source": "test"},
		StartedAt:    started,
	}
	if err := store.PutExecution(ctx, exec); err != nil {
		t.Fatalf("PutExecution() error = %v", err)
	}
	if err := store.PutExecution(ctx, exec); err == nil {
		t.Errorf("duplicate PutExecution expected error")
	}

	exec.Status = ExecutionRunning
	if err := store.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("pending->running error = %v", err)
	}

	finished := started.Add(time.Second)
	exec.Status = ExecutionCompleted
	exec.Result = map[string]any{"message": "done"}
	exec.FinishedAt = &finished
	if err := store.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("running->completed error = %v", err)
	}

	exec.Status = ExecutionRunning
	if err := store.UpdateExecution(ctx, exec); err == nil {
		t.Errorf("completed->running should be rejected")
	}

	got, err := store.GetExecution(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != ExecutionCompleted || got.Result["message"] != "done" {
		t.Errorf("GetExecution() = %+v", got)
	}
	if got.TriggerData["source"] != "test" {
		t.Errorf("TriggerData = %v", got.TriggerData)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v", got.FinishedAt)
	}

	second := &Execution{ID: "e-2", AutomationID: "a-1", Status: ExecutionPending, StartedAt: started.Add(time.Minute)}
	if err := store.PutExecution(ctx, second); err != nil {
		t.Fatalf("PutExecution(e-2) error = %v", err)
	}

	list, err := store.ListExecutions(ctx, "a-1", 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "e-2" {
		t.Errorf("ListExecutions order = %v", []string{list[0].ID, list[1].ID})
	}
	limited, _ := store.ListExecutions(ctx, "a-1", 1)
	if len(limited) != 1 {
		t.Errorf("ListExecutions(limit 1) = %d", len(limited))
	}

	t.Run("delete cascades", func(t *testing.T) {
		if err := store.Delete(ctx, "a-1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.GetExecution(ctx, "e-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("execution survived automation delete: %v", err)
		}
	})
}

func TestSQLiteStoreWorkflowVersions(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	v1 := &WorkflowDef{
		ID:         "wf-1",
		Version:    1,
		Definition: json.RawMessage(`{"name": "v1", "workflow": ["print-random-number"]}`),
		CreatedAt:  now,
	}
	v2 := &WorkflowDef{
		ID:         "wf-1",
		Version:    2,
		Definition: json.RawMessage(`{"name": "v2", "workflow": ["print-random-number"]}`),
		CreatedAt:  now.Add(time.Hour),
	}
	for _, w := range []*WorkflowDef{v1, v2} {
		if err := store.PutWorkflow(ctx, w); err != nil {
			t.Fatalf("PutWorkflow(v%d) error = %v", w.Version, err)
		}
	}

	dup := &WorkflowDef{ID: "wf-1", Version: 1, Definition: json.RawMessage(`{}`), CreatedAt: now}
	if err := store.PutWorkflow(ctx, dup); !errors.Is(err, ErrVersionExists) {
		t.Errorf("duplicate PutWorkflow = %v, want ErrVersionExists", err)
	}

	got, err := store.GetWorkflow(ctx, "wf-1", 1)
	if err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if string(got.Definition) != string(v1.Definition) {
		t.Errorf("definition = %s", got.Definition)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}

	if _, err := store.GetWorkflow(ctx, "wf-1", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetWorkflow(missing) = %v, want ErrNotFound", err)
	}

	versions, err := store.ListWorkflowVersions(ctx, "wf-1")
	if err != nil {
		t.Fatalf("ListWorkflowVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Errorf("ListWorkflowVersions() = %+v", versions)
	}
}
