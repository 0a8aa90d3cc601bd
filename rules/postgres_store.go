package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/logger"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Condition and
// action payloads are stored as JSONB and parsed on read; a row that no
// longer parses is logged and skipped rather than failing the whole load.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, description, source, COALESCE(source_id, ''), priority, category, discipline,
	is_active, is_enforced, COALESCE(overrides_rule_id, ''), conflicts_with, condition, action_type, action,
	version, created_at, updated_at`

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(row ruleScanner) (*Rule, error) {
	var d Definition
	var priority int
	var active bool
	var conflicts pq.StringArray
	var cond, action []byte
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &d.Source, &d.SourceID, &priority,
		&d.Category, &d.Discipline, &active, &d.Enforced, &d.OverridesRuleID, &conflicts,
		&cond, &d.ActionType, &action, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Priority = &priority
	d.Active = &active
	d.ConflictsWith = conflicts
	if err := json.Unmarshal(cond, &d.Condition); err != nil {
		return nil, fmt.Errorf("%w: rule %s: condition: %v", ErrInvalidRule, d.ID, err)
	}
	if err := json.Unmarshal(action, &d.Action); err != nil {
		return nil, fmt.Errorf("%w: rule %s: action: %v", ErrInvalidRule, d.ID, err)
	}
	return d.Rule()
}

func encodeRule(rule *Rule) (cond, action []byte, err error) {
	d, err := DefinitionOf(rule)
	if err != nil {
		return nil, nil, err
	}
	if cond, err = json.Marshal(d.Condition); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal condition: %w", err)
	}
	if action, err = json.Marshal(d.Action); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal action: %w", err)
	}
	return cond, action, nil
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	cond, action, err := encodeRule(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if rule.Version == 0 {
		rule.Version = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_definitions (id, name, description, source, source_id, priority, category, discipline,
			is_active, is_enforced, overrides_rule_id, conflicts_with, condition, action_type, action,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14, $15, $16, $17, $18)
	`, rule.ID, rule.Name, rule.Description, string(rule.Source), rule.SourceID, rule.Priority,
		rule.Category, rule.Discipline, rule.Active, rule.Enforced, rule.OverridesRuleID,
		pq.Array(rule.ConflictsWith), cond, string(rule.ActionType), action,
		rule.Version, rule.CreatedAt, rule.UpdatedAt)
	if graph.IsUniqueViolation(err) {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rule_definitions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Update modifies an existing rule, bumping its version.
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	cond, action, err := encodeRule(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()
	err = s.db.QueryRowContext(ctx, `
		UPDATE rule_definitions
		SET name = $1, description = $2, source = $3, source_id = NULLIF($4, ''), priority = $5,
		    category = $6, discipline = $7, is_active = $8, is_enforced = $9,
		    overrides_rule_id = NULLIF($10, ''), conflicts_with = $11, condition = $12,
		    action_type = $13, action = $14, version = version + 1, updated_at = $15
		WHERE id = $16
		RETURNING version, created_at
	`, rule.Name, rule.Description, string(rule.Source), rule.SourceID, rule.Priority,
		rule.Category, rule.Discipline, rule.Active, rule.Enforced, rule.OverridesRuleID,
		pq.Array(rule.ConflictsWith), cond, string(rule.ActionType), action, rule.UpdatedAt,
		rule.ID).Scan(&rule.Version, &rule.CreatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rule_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

// ListActive returns all active rules in resolution order.
func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rule_definitions
		WHERE is_active = true
		ORDER BY priority DESC, created_at ASC, id ASC
	`)
}

// FindActiveBySource returns the active rules published at a source.
func (s *PostgresRuleStore) FindActiveBySource(ctx context.Context, source Source, sourceID string) ([]*Rule, error) {
	if source == SourceFirm {
		return s.query(ctx, `
			SELECT `+ruleColumns+`
			FROM rule_definitions
			WHERE is_active = true AND source = $1
			ORDER BY priority DESC, created_at ASC, id ASC
		`, string(source))
	}
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rule_definitions
		WHERE is_active = true AND source = $1 AND source_id = $2
		ORDER BY priority DESC, created_at ASC, id ASC
	`, string(source), sourceID)
}

func (s *PostgresRuleStore) query(ctx context.Context, q string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			if errors.Is(err, ErrInvalidRule) {
				logger.Error("skipping malformed rule definition", "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rulesList, nil
}
