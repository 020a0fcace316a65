package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps automations and their executions in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments
//   - Prototyping before migrating to MySQL
//
// The store uses WAL mode for concurrent reads, a single writer
// connection, and auto-migration on open. RecordRun is a single UPDATE
// statement, so counter updates are atomic without explicit
// transactions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store.
//
// Path is the database file location; ":memory:" gives an in-memory
// database that vanishes on Close.
//
// Example:
//
//	store, err := automation.NewSQLiteStore("./automations.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS automations (
			id            TEXT PRIMARY KEY,
			tenant        TEXT NOT NULL DEFAULT '',
			name          TEXT NOT NULL DEFAULT '',
			trigger_type  TEXT NOT NULL,
			cron_expr     TEXT NOT NULL DEFAULT '',
			workflow      TEXT NOT NULL,
			enabled       INTEGER NOT NULL DEFAULT 1,
			run_count     INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_run_at   TIMESTAMP,
			next_run_at   TIMESTAMP,
			last_error    TEXT NOT NULL DEFAULT '',
			last_error_at TIMESTAMP,
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_automations_tenant ON automations(tenant)`,
		`CREATE INDEX IF NOT EXISTS idx_automations_due ON automations(enabled, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS automation_executions (
			id            TEXT PRIMARY KEY,
			automation_id TEXT NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
			status        TEXT NOT NULL,
			trigger_data  TEXT,
			result        TEXT,
			error         TEXT NOT NULL DEFAULT '',
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_automation
			ON automation_executions(automation_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id         TEXT NOT NULL,
			version    INTEGER NOT NULL,
			definition TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (id, version)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, a *Automation) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("automation requires an ID")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automations (
			id, tenant, name, trigger_type, cron_expr, workflow, enabled,
			run_count, success_count, failure_count,
			last_run_at, next_run_at, last_error, last_error_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant = excluded.tenant,
			name = excluded.name,
			trigger_type = excluded.trigger_type,
			cron_expr = excluded.cron_expr,
			workflow = excluded.workflow,
			enabled = excluded.enabled,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at`,
		a.ID, a.Tenant, a.Name, string(a.Trigger.Type), a.Trigger.Cron,
		string(a.Workflow), a.Enabled,
		a.RunCount, a.SuccessCount, a.FailureCount,
		nullTime(a.LastRunAt), nullTime(a.NextRunAt), a.LastError, nullTime(a.LastErrorAt),
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert automation %q: %w", a.ID, err)
	}
	return nil
}

const automationColumns = `id, tenant, name, trigger_type, cron_expr, workflow, enabled,
	run_count, success_count, failure_count,
	last_run_at, next_run_at, last_error, last_error_at, created_at, updated_at`

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = ?`, id)
	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("automation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get automation %q: %w", id, err)
	}
	return a, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, tenant string) ([]*Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations`
	args := []any{}
	if tenant != "" {
		query += ` WHERE tenant = ?`
		args = append(args, tenant)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectAutomations(rows)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete automation %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete automation %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("automation %q: %w", id, ErrNotFound)
	}
	return nil
}

// Due implements Store.
func (s *SQLiteStore) Due(ctx context.Context, now time.Time) ([]*Automation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+automationColumns+` FROM automations
		 WHERE enabled = 1 AND trigger_type = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY id`,
		string(TriggerCron), now)
	if err != nil {
		return nil, fmt.Errorf("list due automations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectAutomations(rows)
}

// RecordRun implements Store. Counter and timestamp updates ride on one
// UPDATE, so concurrent readers never see a half-applied run.
func (s *SQLiteStore) RecordRun(ctx context.Context, id string, outcome RunOutcome) error {
	successInc, failureInc := 0, 0
	lastError := ""
	var lastErrorAt any
	if outcome.Success {
		successInc = 1
	} else {
		failureInc = 1
		lastError = outcome.Error
		lastErrorAt = outcome.RanAt
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE automations SET
			run_count = run_count + 1,
			success_count = success_count + ?,
			failure_count = failure_count + ?,
			last_run_at = ?,
			next_run_at = ?,
			last_error = ?,
			last_error_at = ?,
			updated_at = ?
		WHERE id = ?`,
		successInc, failureInc, outcome.RanAt, nullTime(outcome.NextRunAt),
		lastError, lastErrorAt, outcome.RanAt, id)
	if err != nil {
		return fmt.Errorf("record run for %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record run for %q: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("automation %q: %w", id, ErrNotFound)
	}
	return nil
}

// PutWorkflow implements Store. Versions are immutable, so the insert
// ignores conflicts and reports them as ErrVersionExists.
func (s *SQLiteStore) PutWorkflow(ctx context.Context, w *WorkflowDef) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow requires an ID")
	}
	if w.Version < 1 {
		return fmt.Errorf("workflow %q: version must be >= 1", w.ID)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO workflows (id, version, definition, created_at)
		VALUES (?, ?, ?, ?)`,
		w.ID, w.Version, string(w.Definition), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("put workflow %q v%d: %w", w.ID, w.Version, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put workflow %q v%d: %w", w.ID, w.Version, err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %q version %d: %w", w.ID, w.Version, ErrVersionExists)
	}
	return nil
}

// GetWorkflow implements Store.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string, version int) (*WorkflowDef, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, definition, created_at
		FROM workflows WHERE id = ? AND version = ?`, id, version)
	w, err := scanWorkflowDef(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %q version %d: %w", id, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %q v%d: %w", id, version, err)
	}
	return w, nil
}

// ListWorkflowVersions implements Store.
func (s *SQLiteStore) ListWorkflowVersions(ctx context.Context, id string) ([]*WorkflowDef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, definition, created_at
		FROM workflows WHERE id = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("list workflow versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*WorkflowDef
	for rows.Next() {
		w, err := scanWorkflowDef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// PutExecution implements Store.
func (s *SQLiteStore) PutExecution(ctx context.Context, e *Execution) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("execution requires an ID")
	}
	triggerData, err := marshalNullable(e.TriggerData)
	if err != nil {
		return fmt.Errorf("encode trigger data: %w", err)
	}
	result, err := marshalNullable(e.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_executions
			(id, automation_id, status, trigger_data, result, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AutomationID, string(e.Status), triggerData, result,
		e.Error, e.StartedAt, nullTime(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("put execution %q: %w", e.ID, err)
	}
	return nil
}

// UpdateExecution implements Store.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, e *Execution) error {
	existing, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		return err
	}
	if existing.Status != e.Status && !existing.Status.canTransition(e.Status) {
		return fmt.Errorf("execution %q: illegal transition %s -> %s", e.ID, existing.Status, e.Status)
	}

	triggerData, err := marshalNullable(e.TriggerData)
	if err != nil {
		return fmt.Errorf("encode trigger data: %w", err)
	}
	result, err := marshalNullable(e.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE automation_executions SET
			status = ?, trigger_data = ?, result = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(e.Status), triggerData, result, e.Error, nullTime(e.FinishedAt), e.ID)
	if err != nil {
		return fmt.Errorf("update execution %q: %w", e.ID, err)
	}
	return nil
}

// GetExecution implements Store.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, automation_id, status, trigger_data, result, error, started_at, finished_at
		FROM automation_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %q: %w", id, err)
	}
	return e, nil
}

// ListExecutions implements Store.
func (s *SQLiteStore) ListExecutions(ctx context.Context, automationID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, automation_id, status, trigger_data, result, error, started_at, finished_at
		FROM automation_executions WHERE automation_id = ?
		ORDER BY started_at DESC`
	args := []any{automationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row scanner) (*Automation, error) {
	var (
		a           Automation
		triggerType string
		workflow    string
		lastRunAt   sql.NullTime
		nextRunAt   sql.NullTime
		lastErrorAt sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Tenant, &a.Name, &triggerType, &a.Trigger.Cron, &workflow, &a.Enabled,
		&a.RunCount, &a.SuccessCount, &a.FailureCount,
		&lastRunAt, &nextRunAt, &a.LastError, &lastErrorAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Trigger.Type = TriggerType(triggerType)
	a.Workflow = json.RawMessage(workflow)
	a.LastRunAt = timePtr(lastRunAt)
	a.NextRunAt = timePtr(nextRunAt)
	a.LastErrorAt = timePtr(lastErrorAt)
	return &a, nil
}

func collectAutomations(rows *sql.Rows) ([]*Automation, error) {
	var out []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanWorkflowDef(row scanner) (*WorkflowDef, error) {
	var (
		w          WorkflowDef
		definition string
	)
	if err := row.Scan(&w.ID, &w.Version, &definition, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Definition = json.RawMessage(definition)
	return &w, nil
}

func scanExecution(row scanner) (*Execution, error) {
	var (
		e           Execution
		status      string
		triggerData sql.NullString
		result      sql.NullString
		finishedAt  sql.NullTime
	)
	err := row.Scan(&e.ID, &e.AutomationID, &status, &triggerData, &result,
		&e.Error, &e.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	e.Status = ExecutionStatus(status)
	e.FinishedAt = timePtr(finishedAt)
	if triggerData.Valid && triggerData.String != "" {
		if err := json.Unmarshal([]byte(triggerData.String), &e.TriggerData); err != nil {
			return nil, fmt.Errorf("decode trigger data: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &e.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &e, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
