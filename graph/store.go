package graph

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an entity, edge or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on create when a uniqueness constraint
	// (project+tag for entities, source+target+relation for edges) would be violated.
	ErrAlreadyExists = errors.New("already exists")
)

// ProjectStore resolves projects.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*Project, error)
}

// EntityStore manages entities. CreateEntity must perform its uniqueness
// check and the insert as one atomic step. SetProperties merges the given
// keys into the stored properties in one step and leaves every other key
// and field as stored.
type EntityStore interface {
	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindByTag(ctx context.Context, projectID, tag string) (*Entity, error)
	ListByProject(ctx context.Context, projectID string) ([]*Entity, error)
	CreateEntity(ctx context.Context, e *Entity) error
	SetProperties(ctx context.Context, id string, props map[string]any) error
	DeleteEntity(ctx context.Context, id string) error
}

// EdgeStore manages edges. CreateEdge must perform its uniqueness check and
// the insert as one atomic step.
type EdgeStore interface {
	EdgeExists(ctx context.Context, sourceID, targetID, relation string) (bool, error)
	CreateEdge(ctx context.Context, e *Edge) error
	EdgesOf(ctx context.Context, entityID string) ([]*Edge, error)
	DeleteEdge(ctx context.Context, id string) error
}

// Store is the full graph collaborator used by the executor.
type Store interface {
	ProjectStore
	EntityStore
	EdgeStore
}
