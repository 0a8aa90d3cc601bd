package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on the rule_executions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, run_id, project_id, rule_id, rule_name, entity_id, entity_tag, action_type,
	outcome, message, detail, created_entity_id, created_entity_type, created_edge_id, error,
	duration_us, created_at`

// Append inserts the records in one transaction.
func (s *PostgresStore) Append(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_executions (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		detail := r.Detail
		if detail == nil {
			detail = map[string]any{}
		}
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail of record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.RunID, r.ProjectID, r.RuleID, r.RuleName, r.EntityID,
			r.EntityTag, r.ActionType, string(r.Outcome), r.Message, data, r.CreatedEntityID,
			r.CreatedEntityType, r.CreatedEdgeID, r.Error, r.Duration.Microseconds(), r.Timestamp); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// ListByProject returns a project's records, newest first.
func (s *PostgresStore) ListByProject(ctx context.Context, projectID string) ([]*Record, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM rule_executions
		WHERE project_id = $1 ORDER BY created_at DESC, id ASC`, projectID)
}

// ListByRun returns the records of a run in insertion order.
func (s *PostgresStore) ListByRun(ctx context.Context, runID string) ([]*Record, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM rule_executions
		WHERE run_id = $1 ORDER BY created_at ASC, id ASC`, runID)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var outcome string
		var detail []byte
		var micros int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.ProjectID, &r.RuleID, &r.RuleName, &r.EntityID,
			&r.EntityTag, &r.ActionType, &outcome, &r.Message, &detail, &r.CreatedEntityID,
			&r.CreatedEntityType, &r.CreatedEdgeID, &r.Error, &micros, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		r.Outcome = Outcome(outcome)
		r.Duration = time.Duration(micros) * time.Microsecond
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &r.Detail); err != nil {
				return nil, fmt.Errorf("invalid detail for record %s: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}
	return out, nil
}
