package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// queryer is the subset of *sql.DB and *sql.Tx used by the store.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListRuleSets returns active rule sets visible to the filter, with their rules in order.
func (s *PostgresStore) ListRuleSets(ctx context.Context, filter ScopeFilter) ([]*RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, version, COALESCE(name, ''), scope,
		       COALESCE(tenant_id, ''), COALESCE(project_id, ''), active, created_at
		FROM rule_sets
		WHERE active = true
		  AND (scope = 'GLOBAL'
		       OR (scope = 'TENANT' AND tenant_id = $1)
		       OR (scope = 'PROJECT' AND project_id = $2))
		ORDER BY created_at ASC, id ASC
	`, filter.TenantID, filter.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var sets []*RuleSet
	byID := make(map[string]*RuleSet)
	var ids []string
	for rows.Next() {
		var rs RuleSet
		var scope string
		if err := rows.Scan(&rs.ID, &rs.Code, &rs.Version, &rs.Name, &scope,
			&rs.TenantID, &rs.ProjectID, &rs.Active, &rs.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		rs.Scope = Scope(scope)
		if !filter.allows(rs.ID) {
			continue
		}
		sets = append(sets, &rs)
		byID[rs.ID] = &rs
		ids = append(ids, rs.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}
	if len(ids) == 0 {
		return sets, nil
	}

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_set_id, code, COALESCE(title, ''), COALESCE(description, ''),
		       COALESCE(severity, ''), condition, outcome, sources, created_at
		FROM rules
		WHERE rule_set_id = ANY($1)
		ORDER BY rule_set_id, position ASC, created_at ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var r Rule
		var condition, outcome, sources []byte
		if err := ruleRows.Scan(&r.ID, &r.RuleSetID, &r.Code, &r.Title, &r.Description,
			&r.Severity, &condition, &outcome, &sources, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if r.Condition, err = ParseConditionJSON(condition); err != nil {
			return nil, fmt.Errorf("invalid condition for rule %s: %w", r.Code, err)
		}
		if err := decodeJSON(outcome, &r.Outcome); err != nil {
			return nil, fmt.Errorf("invalid outcome for rule %s: %w", r.Code, err)
		}
		if err := decodeJSON(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("invalid sources for rule %s: %w", r.Code, err)
		}
		if rs, ok := byID[r.RuleSetID]; ok {
			rs.Rules = append(rs.Rules, &r)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return sets, nil
}

// GetProject reads a project with its fact entries.
func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var psValue, volume sql.NullFloat64
	var metadata, facts []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(tenant_id, ''), COALESCE(medium, ''), ps_value, volume,
		       COALESCE(address, ''), COALESCE(client_name, ''), COALESCE(status, ''),
		       metadata, facts, created_at
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.TenantID, &p.Medium, &psValue, &volume,
		&p.Address, &p.ClientName, &p.Status, &metadata, &facts, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if psValue.Valid {
		p.PressureValue = &psValue.Float64
	}
	if volume.Valid {
		p.Volume = &volume.Float64
	}
	if err := decodeJSON(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata for project %s: %w", id, err)
	}
	if err := decodeJSON(facts, &p.Facts); err != nil {
		return nil, fmt.Errorf("invalid facts for project %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value
		FROM project_fact_entries
		WHERE project_id = $1
		ORDER BY created_at ASC, key ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e FactEntry
		var value []byte
		if err := rows.Scan(&e.Key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan fact entry: %w", err)
		}
		if err := decodeJSON(value, &e.Value); err != nil {
			return nil, fmt.Errorf("invalid value for fact %s: %w", e.Key, err)
		}
		p.FactEntries = append(p.FactEntries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact entries: %w", err)
	}
	return &p, nil
}

// ListOverrides returns a project's overrides, oldest first.
func (s *PostgresStore) ListOverrides(ctx context.Context, projectID string) ([]*RuleOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, rule_id, status, COALESCE(reason, ''), instructions,
		       COALESCE(conflict_id, ''), COALESCE(notes, ''), COALESCE(created_by, ''), created_at
		FROM rule_overrides
		WHERE project_id = $1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var out []*RuleOverride
	for rows.Next() {
		var o RuleOverride
		var status string
		var instructions []byte
		if err := rows.Scan(&o.ID, &o.ProjectID, &o.RuleID, &status, &o.Reason, &instructions,
			&o.ConflictID, &o.Notes, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		o.Status = OverrideStatus(status)
		if err := decodeJSON(instructions, &o.Instructions); err != nil {
			return nil, fmt.Errorf("invalid instructions for override %s: %w", o.ID, err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", err)
	}
	return out, nil
}

// CreateEvaluation inserts a run record.
func (s *PostgresStore) CreateEvaluation(ctx context.Context, e *Evaluation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	facts, err := encodeJSON(e.InputFacts, "{}")
	if err != nil {
		return err
	}
	summary, err := encodeJSON(e.Summary, "{}")
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(e.Metadata, "{}")
	if err != nil {
		return err
	}
	ruleSetIDs := e.RuleSetIDs
	if ruleSetIDs == nil {
		ruleSetIDs = []string{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_evaluations (id, project_id, scope, rule_set_ids, input_facts, status,
		                              summary, triggered_by_user_id, metadata, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ProjectID, e.Scope, pq.Array(ruleSetIDs), facts, string(e.Status),
		summary, nullString(e.TriggeredByUserID), metadata, e.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// FailEvaluation marks a run FAILED and records the error in its summary.
func (s *PostgresStore) FailEvaluation(ctx context.Context, id, message string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rule_evaluations
		SET status = 'FAILED',
		    summary = summary || jsonb_build_object('error', $2::text),
		    completed_at = $3
		WHERE id = $1
	`, id, message, at)
	if err != nil {
		return fmt.Errorf("failed to mark evaluation failed: %w", err)
	}
	return expectRow(result, "evaluation", id)
}

const evaluationColumns = `
	id, project_id, scope, rule_set_ids, input_facts, status, summary,
	COALESCE(triggered_by_user_id, ''), metadata, started_at, completed_at`

func scanEvaluation(row interface{ Scan(...any) error }) (*Evaluation, error) {
	var e Evaluation
	var status string
	var facts, summary, metadata []byte
	var completedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Scope, pq.Array(&e.RuleSetIDs), &facts, &status,
		&summary, &e.TriggeredByUserID, &metadata, &e.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Status = EvaluationStatus(status)
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	if err := decodeJSON(facts, &e.InputFacts); err != nil {
		return nil, err
	}
	if err := decodeJSON(summary, &e.Summary); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+evaluationColumns+`
		FROM rule_evaluations
		WHERE id = $1
	`, id)
	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvaluations(ctx context.Context, projectID string, page Page) ([]*Evaluation, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `SELECT`+evaluationColumns+`
		FROM rule_evaluations
		WHERE project_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, projectID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	out := []*Evaluation{}
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LatestModelVersion(ctx context.Context, projectID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM requirements_models
		WHERE project_id = $1
	`, projectID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest model version: %w", err)
	}
	return version, nil
}

const modelColumns = `
	id, project_id, evaluation_id, version, requirements, unresolved_conflicts, created_at`

func scanModel(row interface{ Scan(...any) error }) (*RequirementsModel, error) {
	var m RequirementsModel
	var requirements, conflicts []byte
	if err := row.Scan(&m.ID, &m.ProjectID, &m.EvaluationID, &m.Version,
		&requirements, &conflicts, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(requirements, &m.Requirements); err != nil {
		return nil, err
	}
	if err := decodeJSON(conflicts, &m.UnresolvedConflicts); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetLatestModel(ctx context.Context, projectID string) (*RequirementsModel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+modelColumns+`
		FROM requirements_models
		WHERE project_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, projectID)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("requirements model for project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirements model: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListModels(ctx context.Context, projectID string, page Page) ([]*RequirementsModel, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `SELECT`+modelColumns+`
		FROM requirements_models
		WHERE project_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`, projectID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list requirements models: %w", err)
	}
	defer rows.Close()

	out := []*RequirementsModel{}
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirements model: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requirements models: %w", err)
	}
	return out, nil
}

const conflictColumns = `
	id, evaluation_id, project_id, conflict_key, type, status,
	rule_a_id, rule_a_code, outcome_a, rule_b_id, rule_b_code, outcome_b, message,
	COALESCE(resolution, ''), COALESCE(resolution_notes, ''), COALESCE(resolved_by_user_id, ''),
	COALESCE(resolved_by_override_id, ''), resolved_at, created_at`

func scanConflict(row interface{ Scan(...any) error }) (*Conflict, error) {
	var c Conflict
	var status string
	var outcomeA, outcomeB []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.EvaluationID, &c.ProjectID, &c.ConflictKey, &c.Type, &status,
		&c.RuleAID, &c.RuleACode, &outcomeA, &c.RuleBID, &c.RuleBCode, &outcomeB, &c.Message,
		&c.Resolution, &c.ResolutionNotes, &c.ResolvedByUserID, &c.ResolvedByOverrideID,
		&resolvedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = ConflictStatus(status)
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	if err := decodeJSON(outcomeA, &c.OutcomeA); err != nil {
		return nil, err
	}
	if err := decodeJSON(outcomeB, &c.OutcomeB); err != nil {
		return nil, err
	}
	return &c, nil
}

func getConflict(ctx context.Context, q queryer, id string, forUpdate bool) (*Conflict, error) {
	query := `SELECT` + conflictColumns + `
		FROM rule_conflicts
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanConflict(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*Conflict, error) {
	return getConflict(ctx, s.db, id, false)
}

func (s *PostgresStore) ListConflicts(ctx context.Context, projectID string, status ConflictStatus) ([]*Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+conflictColumns+`
		FROM rule_conflicts
		WHERE project_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id ASC
	`, projectID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	out := []*Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return out, nil
}

// WithinTx runs fn in a database transaction, committing when fn returns nil.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback() // no-op after commit

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to commit transaction: %w", ErrVersionConflict)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) InsertHits(ctx context.Context, hits []*Hit) error {
	if len(hits) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO rule_hits (id, evaluation_id, project_id, rule_id, rule_code, rule_title,
		                       severity, outcome, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare hit insert: %w", err)
	}
	defer stmt.Close()

	for _, h := range hits {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		outcome, err := encodeJSON(h.Outcome, "{}")
		if err != nil {
			return err
		}
		metadata, err := encodeJSON(h.Metadata, "{}")
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, h.ID, h.EvaluationID, h.ProjectID, h.RuleID, h.RuleCode,
			nullString(h.RuleTitle), nullString(h.Severity), outcome, metadata, h.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert hit for rule %s: %w", h.RuleCode, err)
		}
	}
	return nil
}

func (t *postgresTx) InsertConflicts(ctx context.Context, conflicts []*Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO rule_conflicts (id, evaluation_id, project_id, conflict_key, type, status,
		                            rule_a_id, rule_a_code, outcome_a, rule_b_id, rule_b_code,
		                            outcome_b, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare conflict insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range conflicts {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		outcomeA, err := encodeJSON(c.OutcomeA, "{}")
		if err != nil {
			return err
		}
		outcomeB, err := encodeJSON(c.OutcomeB, "{}")
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.EvaluationID, c.ProjectID, c.ConflictKey, c.Type,
			string(c.Status), c.RuleAID, c.RuleACode, outcomeA, c.RuleBID, c.RuleBCode, outcomeB,
			c.Message, c.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert conflict %s: %w", c.ConflictKey, err)
		}
	}
	return nil
}

func (t *postgresTx) CreateRequirementsModel(ctx context.Context, m *RequirementsModel) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	requirements, err := encodeJSON(m.Requirements, "{}")
	if err != nil {
		return err
	}
	conflicts, err := encodeJSON(m.UnresolvedConflicts, "[]")
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO requirements_models (id, project_id, evaluation_id, version, requirements,
		                                 unresolved_conflicts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.ProjectID, m.EvaluationID, m.Version, requirements, conflicts, m.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %s version %d: %w", m.ProjectID, m.Version, ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert requirements model: %w", err)
	}
	return nil
}

func (t *postgresTx) CompleteEvaluation(ctx context.Context, id string, summary EvaluationSummary, at time.Time) error {
	data, err := encodeJSON(summary, "{}")
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE rule_evaluations
		SET status = 'COMPLETED', summary = $2, completed_at = $3
		WHERE id = $1
	`, id, data, at)
	if err != nil {
		return fmt.Errorf("failed to complete evaluation: %w", err)
	}
	return expectRow(result, "evaluation", id)
}

func (t *postgresTx) LockConflict(ctx context.Context, id string) (*Conflict, error) {
	return getConflict(ctx, t.tx, id, true)
}

func (t *postgresTx) UpdateConflict(ctx context.Context, c *Conflict) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE rule_conflicts
		SET status = $2, resolution = $3, resolution_notes = $4, resolved_by_user_id = $5,
		    resolved_by_override_id = $6, resolved_at = $7
		WHERE id = $1
	`, c.ID, string(c.Status), nullString(c.Resolution), nullString(c.ResolutionNotes),
		nullString(c.ResolvedByUserID), nullString(c.ResolvedByOverrideID), c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update conflict: %w", err)
	}
	return expectRow(result, "conflict", c.ID)
}

func (t *postgresTx) CreateOverride(ctx context.Context, o *RuleOverride) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	instructions, err := encodeJSON(o.Instructions, "{}")
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO rule_overrides (id, project_id, rule_id, status, reason, instructions,
		                            conflict_id, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.ProjectID, o.RuleID, string(o.Status), nullString(o.Reason), instructions,
		nullString(o.ConflictID), nullString(o.Notes), nullString(o.CreatedBy), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert override: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func expectRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeJSON marshals v for a JSONB column, using empty for nil values.
func encodeJSON(v any, empty string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON column: %w", err)
	}
	if string(data) == "null" {
		return []byte(empty), nil
	}
	return data, nil
}

// decodeJSON unmarshals a JSONB column, leaving v untouched for NULL.
func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
