package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL implementation of Store for shared deployments
// where several processes read and fire the same automations.
//
// The DSN must include parseTime=true so DATETIME columns scan into
// time.Time:
//
//	store, err := automation.NewMySQLStore(
//	    "user:pass@tcp(localhost:3306)/edgeflow?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// RecordRun is a single UPDATE, so counters stay consistent under
// concurrent writers without explicit transactions.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return store, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS automations (
			id            VARCHAR(191) PRIMARY KEY,
			tenant        VARCHAR(191) NOT NULL DEFAULT '',
			name          VARCHAR(255) NOT NULL DEFAULT '',
			trigger_type  VARCHAR(32) NOT NULL,
			cron_expr     VARCHAR(255) NOT NULL DEFAULT '',
			workflow      LONGTEXT NOT NULL,
			enabled       TINYINT(1) NOT NULL DEFAULT 1,
			run_count     BIGINT NOT NULL DEFAULT 0,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			last_run_at   DATETIME(6) NULL,
			next_run_at   DATETIME(6) NULL,
			last_error    TEXT,
			last_error_at DATETIME(6) NULL,
			created_at    DATETIME(6) NOT NULL,
			updated_at    DATETIME(6) NOT NULL,
			INDEX idx_automations_tenant (tenant),
			INDEX idx_automations_due (enabled, next_run_at)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS automation_executions (
			id            VARCHAR(191) PRIMARY KEY,
			automation_id VARCHAR(191) NOT NULL,
			status        VARCHAR(32) NOT NULL,
			trigger_data  LONGTEXT,
			result        LONGTEXT,
			error         TEXT,
			started_at    DATETIME(6) NOT NULL,
			finished_at   DATETIME(6) NULL,
			INDEX idx_executions_automation (automation_id, started_at),
			CONSTRAINT fk_executions_automation FOREIGN KEY (automation_id)
				REFERENCES automations(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id         VARCHAR(191) NOT NULL,
			version    INT NOT NULL,
			definition LONGTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			PRIMARY KEY (id, version)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert implements Store.
func (s *MySQLStore) Upsert(ctx context.Context, a *Automation) error {
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
		ON DUPLICATE KEY UPDATE
			tenant = VALUES(tenant),
			name = VALUES(name),
			trigger_type = VALUES(trigger_type),
			cron_expr = VALUES(cron_expr),
			workflow = VALUES(workflow),
			enabled = VALUES(enabled),
			next_run_at = VALUES(next_run_at),
			updated_at = VALUES(updated_at)`,
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

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Automation, error) {
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
func (s *MySQLStore) List(ctx context.Context, tenant string) ([]*Automation, error) {
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
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
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
func (s *MySQLStore) Due(ctx context.Context, now time.Time) ([]*Automation, error) {
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

// RecordRun implements Store.
func (s *MySQLStore) RecordRun(ctx context.Context, id string, outcome RunOutcome) error {
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
func (s *MySQLStore) PutWorkflow(ctx context.Context, w *WorkflowDef) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow requires an ID")
	}
	if w.Version < 1 {
		return fmt.Errorf("workflow %q: version must be >= 1", w.ID)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT IGNORE INTO workflows (id, version, definition, created_at)
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
func (s *MySQLStore) GetWorkflow(ctx context.Context, id string, version int) (*WorkflowDef, error) {
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
func (s *MySQLStore) ListWorkflowVersions(ctx context.Context, id string) ([]*WorkflowDef, error) {
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
func (s *MySQLStore) PutExecution(ctx context.Context, e *Execution) error {
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
func (s *MySQLStore) UpdateExecution(ctx context.Context, e *Execution) error {
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
func (s *MySQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
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
func (s *MySQLStore) ListExecutions(ctx context.Context, automationID string, limit int) ([]*Execution, error) {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
