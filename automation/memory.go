package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store implementation.
//
// Designed for tests and prototyping; all data is lost when the process
// exits. Safe for concurrent use. Records are deep-copied on the way in
// and out, so callers can mutate what they hold without corrupting the
// store.
type MemStore struct {
	mu          sync.RWMutex
	automations map[string]*Automation
	workflows   map[string]map[int]*WorkflowDef
	executions  map[string]*Execution
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		automations: make(map[string]*Automation),
		workflows:   make(map[string]map[int]*WorkflowDef),
		executions:  make(map[string]*Execution),
	}
}

// Upsert implements Store. Like the SQL stores, replacing an existing
// record keeps its run history: counters, last-run and last-error
// bookkeeping, and the creation time survive the upsert.
func (m *MemStore) Upsert(_ context.Context, a *Automation) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("automation requires an ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := copyAutomation(a)
	if existing, ok := m.automations[a.ID]; ok {
		stored.RunCount = existing.RunCount
		stored.SuccessCount = existing.SuccessCount
		stored.FailureCount = existing.FailureCount
		stored.LastRunAt = copyTime(existing.LastRunAt)
		stored.LastError = existing.LastError
		stored.LastErrorAt = copyTime(existing.LastErrorAt)
		stored.CreatedAt = existing.CreatedAt
	}
	m.automations[a.ID] = stored
	return nil
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, id string) (*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.automations[id]
	if !ok {
		return nil, fmt.Errorf("automation %q: %w", id, ErrNotFound)
	}
	return copyAutomation(a), nil
}

// List implements Store.
func (m *MemStore) List(_ context.Context, tenant string) ([]*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Automation
	for _, a := range m.automations {
		if tenant != "" && a.Tenant != tenant {
			continue
		}
		out = append(out, copyAutomation(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete implements Store.
func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.automations[id]; !ok {
		return fmt.Errorf("automation %q: %w", id, ErrNotFound)
	}
	delete(m.automations, id)
	for execID, e := range m.executions {
		if e.AutomationID == id {
			delete(m.executions, execID)
		}
	}
	return nil
}

// Due implements Store.
func (m *MemStore) Due(_ context.Context, now time.Time) ([]*Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Automation
	for _, a := range m.automations {
		if !a.Enabled || a.Trigger.Type != TriggerCron || a.NextRunAt == nil {
			continue
		}
		if a.NextRunAt.After(now) {
			continue
		}
		out = append(out, copyAutomation(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordRun implements Store.
func (m *MemStore) RecordRun(_ context.Context, id string, outcome RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.automations[id]
	if !ok {
		return fmt.Errorf("automation %q: %w", id, ErrNotFound)
	}

	a.RunCount++
	ranAt := outcome.RanAt
	a.LastRunAt = &ranAt
	a.NextRunAt = copyTime(outcome.NextRunAt)
	if outcome.Success {
		a.SuccessCount++
		a.LastError = ""
		a.LastErrorAt = nil
	} else {
		a.FailureCount++
		a.LastError = outcome.Error
		errAt := outcome.RanAt
		a.LastErrorAt = &errAt
	}
	a.UpdatedAt = outcome.RanAt
	return nil
}

// PutWorkflow implements Store.
func (m *MemStore) PutWorkflow(_ context.Context, w *WorkflowDef) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow requires an ID")
	}
	if w.Version < 1 {
		return fmt.Errorf("workflow %q: version must be >= 1", w.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.workflows[w.ID]
	if versions == nil {
		versions = make(map[int]*WorkflowDef)
		m.workflows[w.ID] = versions
	}
	if _, exists := versions[w.Version]; exists {
		return fmt.Errorf("workflow %q version %d: %w", w.ID, w.Version, ErrVersionExists)
	}
	versions[w.Version] = copyWorkflowDef(w)
	return nil
}

// GetWorkflow implements Store.
func (m *MemStore) GetWorkflow(_ context.Context, id string, version int) (*WorkflowDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id][version]
	if !ok {
		return nil, fmt.Errorf("workflow %q version %d: %w", id, version, ErrNotFound)
	}
	return copyWorkflowDef(w), nil
}

// ListWorkflowVersions implements Store.
func (m *MemStore) ListWorkflowVersions(_ context.Context, id string) ([]*WorkflowDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WorkflowDef
	for _, w := range m.workflows[id] {
		out = append(out, copyWorkflowDef(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// PutExecution implements Store.
func (m *MemStore) PutExecution(_ context.Context, e *Execution) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("execution requires an ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[e.ID]; exists {
		return fmt.Errorf("execution %q already exists", e.ID)
	}
	m.executions[e.ID] = copyExecution(e)
	return nil
}

// UpdateExecution implements Store.
func (m *MemStore) UpdateExecution(_ context.Context, e *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.executions[e.ID]
	if !ok {
		return fmt.Errorf("execution %q: %w", e.ID, ErrNotFound)
	}
	if existing.Status != e.Status && !existing.Status.canTransition(e.Status) {
		return fmt.Errorf("execution %q: illegal transition %s -> %s", e.ID, existing.Status, e.Status)
	}
	m.executions[e.ID] = copyExecution(e)
	return nil
}

// GetExecution implements Store.
func (m *MemStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	return copyExecution(e), nil
}

// ListExecutions implements Store.
func (m *MemStore) ListExecutions(_ context.Context, automationID string, limit int) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Execution
	for _, e := range m.executions {
		if e.AutomationID == automationID {
			out = append(out, copyExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store.
func (m *MemStore) Close() error { return nil }

func copyAutomation(a *Automation) *Automation {
	out := *a
	out.LastRunAt = copyTime(a.LastRunAt)
	out.NextRunAt = copyTime(a.NextRunAt)
	out.LastErrorAt = copyTime(a.LastErrorAt)
	out.Workflow = append(json.RawMessage(nil), a.Workflow...)
	return &out
}

func copyWorkflowDef(w *WorkflowDef) *WorkflowDef {
	out := *w
	out.Definition = append(json.RawMessage(nil), w.Definition...)
	return &out
}

func copyExecution(e *Execution) *Execution {
	out := *e
	out.FinishedAt = copyTime(e.FinishedAt)
	out.TriggerData = copyMap(e.TriggerData)
	out.Result = copyMap(e.Result)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// copyMap round-trips through JSON, matching what the durable stores do
// to the same data.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
