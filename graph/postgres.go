package graph

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

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// PostgresStore implements Store backed by PostgreSQL. Uniqueness of entity
// tags and edge triples is enforced by table constraints, which makes every
// create an atomic check-then-act.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed graph store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateProject inserts a project.
func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, client_id, country_code)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
	`, p.ID, p.Name, p.ClientID, p.CountryCode)
	if IsUniqueViolation(err) {
		return fmt.Errorf("project %s: %w", p.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var clientID, country sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, client_id, country_code
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &clientID, &country)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.ClientID = clientID.String
	p.CountryCode = country.String
	return &p, nil
}

const entityColumns = `id, project_id, COALESCE(tag, ''), type, area, system, discipline, properties, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var props []byte
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Tag, &e.Type, &e.Area, &e.System,
		&e.Discipline, &props, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Properties = map[string]any{}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("invalid properties for entity %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// GetEntity retrieves an entity by ID.
func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// FindByTag retrieves the entity with the given tag in a project.
func (s *PostgresStore) FindByTag(ctx context.Context, projectID, tag string) (*Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = $1 AND tag = $2`, projectID, tag))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s in project %s: %w", tag, projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entity by tag: %w", err)
	}
	return e, nil
}

// ListByProject returns every entity of a project ordered by tag.
func (s *PostgresStore) ListByProject(ctx context.Context, projectID string) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE project_id = $1 ORDER BY tag ASC, id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return out, nil
}

// CreateEntity inserts an entity. Returns ErrAlreadyExists if the tag is
// taken within the project.
func (s *PostgresStore) CreateEntity(ctx context.Context, e *Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	props, err := json.Marshal(nonNil(e.Properties))
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, project_id, tag, type, area, system, discipline, properties, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ProjectID, e.Tag, e.Type, e.Area, e.System, e.Discipline, props, e.CreatedAt, e.UpdatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("entity %s in project %s: %w", e.Tag, e.ProjectID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

// SetProperties merges props into the stored properties with the jsonb
// concatenation operator, so keys written concurrently by others survive.
func (s *PostgresStore) SetProperties(ctx context.Context, id string, props map[string]any) error {
	data, err := json.Marshal(nonNil(props))
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET properties = properties || $1::jsonb, updated_at = $2
		WHERE id = $3
	`, data, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update entity properties: %w", err)
	}
	return expectOneRow(result, "entity", id)
}

// DeleteEntity removes an entity. Fails while edges still reference it.
func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return expectOneRow(result, "entity", id)
}

// EdgeExists reports whether the (source, target, relation) edge exists.
func (s *PostgresStore) EdgeExists(ctx context.Context, sourceID, targetID, relation string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM edges WHERE source_id = $1 AND target_id = $2 AND relation_type = $3)
	`, sourceID, targetID, relation).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check edge existence: %w", err)
	}
	return exists, nil
}

// CreateEdge inserts an edge. Returns ErrAlreadyExists if the triple is
// already linked.
func (s *PostgresStore) CreateEdge(ctx context.Context, e *Edge) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	props, err := json.Marshal(nonNil(e.Properties))
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, relation_type, properties, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.SourceID, e.TargetID, e.RelationType, props, e.CreatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("edge %s -[%s]-> %s: %w", e.SourceID, e.RelationType, e.TargetID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// EdgesOf returns every edge with the entity as source or target.
func (s *PostgresStore) EdgesOf(ctx context.Context, entityID string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, relation_type, properties, created_at
		FROM edges
		WHERE source_id = $1 OR target_id = $1
		ORDER BY id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		var e Edge
		var props []byte
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelationType, &props, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, fmt.Errorf("invalid properties for edge %s: %w", e.ID, err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return out, nil
}

// DeleteEdge removes an edge by ID.
func (s *PostgresStore) DeleteEdge(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	return expectOneRow(result, "edge", id)
}

func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
