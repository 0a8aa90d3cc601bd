package graph

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store. Entities live in an arena keyed by id;
// edges are a separate table keyed by id with a uniqueness index.
// Thread-safe; every create is a single check-then-insert under the write lock.
type MemoryStore struct {
	projects  map[string]*Project
	entities  map[string]*Entity
	tags      map[string]string // projectID + "\x00" + tag -> entity id
	edges     map[string]*Edge
	edgeIndex map[EdgeKey]string
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]*Project),
		entities:  make(map[string]*Entity),
		tags:      make(map[string]string),
		edges:     make(map[string]*Edge),
		edgeIndex: make(map[EdgeKey]string),
	}
}

func tagKey(projectID, tag string) string {
	return projectID + "\x00" + tag
}

// PutProject adds or replaces a project.
func (s *MemoryStore) PutProject(p *Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
}

// CreateProject adds a project, failing if the id is taken.
func (s *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s: %w", p.ID, ErrAlreadyExists)
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

// GetProject retrieves a project by ID.
func (s *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// GetEntity retrieves a copy of an entity by ID.
func (s *MemoryStore) GetEntity(_ context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

// FindByTag retrieves the entity with the given tag in a project.
func (s *MemoryStore) FindByTag(_ context.Context, projectID, tag string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tags[tagKey(projectID, tag)]
	if !ok {
		return nil, fmt.Errorf("entity %s in project %s: %w", tag, projectID, ErrNotFound)
	}
	return s.entities[id].Clone(), nil
}

// ListByProject returns every entity of a project ordered by tag.
func (s *MemoryStore) ListByProject(_ context.Context, projectID string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entity
	for _, e := range s.entities {
		if e.ProjectID == projectID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateEntity inserts an entity, assigning an ID and timestamps when unset.
// Returns ErrAlreadyExists if the tag is taken within the project.
func (s *MemoryStore) CreateEntity(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.entities[e.ID]; exists {
		return fmt.Errorf("entity %s: %w", e.ID, ErrAlreadyExists)
	}
	if e.Tag != "" {
		if _, exists := s.tags[tagKey(e.ProjectID, e.Tag)]; exists {
			return fmt.Errorf("entity %s in project %s: %w", e.Tag, e.ProjectID, ErrAlreadyExists)
		}
	}

	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	s.entities[e.ID] = e.Clone()
	if e.Tag != "" {
		s.tags[tagKey(e.ProjectID, e.Tag)] = e.ID
	}
	return nil
}

// SetProperties merges props into the stored entity's properties.
func (s *MemoryStore) SetProperties(_ context.Context, id string, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	updated := existing.Clone()
	if updated.Properties == nil {
		updated.Properties = make(map[string]any, len(props))
	}
	maps.Copy(updated.Properties, props)
	updated.UpdatedAt = time.Now()
	s.entities[id] = updated
	return nil
}

// DeleteEntity removes an entity. Edges are not cascaded; callers remove
// dependent edges first.
func (s *MemoryStore) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	delete(s.tags, tagKey(e.ProjectID, e.Tag))
	delete(s.entities, id)
	return nil
}

// EdgeExists reports whether the (source, target, relation) edge exists.
func (s *MemoryStore) EdgeExists(_ context.Context, sourceID, targetID, relation string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.edgeIndex[EdgeKey{SourceID: sourceID, TargetID: targetID, RelationType: relation}]
	return ok, nil
}

// CreateEdge inserts an edge. Both endpoints must exist.
// Returns ErrAlreadyExists if the triple is already linked.
func (s *MemoryStore) CreateEdge(_ context.Context, e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.SourceID]; !ok {
		return fmt.Errorf("edge source %s: %w", e.SourceID, ErrNotFound)
	}
	if _, ok := s.entities[e.TargetID]; !ok {
		return fmt.Errorf("edge target %s: %w", e.TargetID, ErrNotFound)
	}
	if _, exists := s.edgeIndex[e.Key()]; exists {
		return fmt.Errorf("edge %s -[%s]-> %s: %w", e.SourceID, e.RelationType, e.TargetID, ErrAlreadyExists)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	cp.Properties = maps.Clone(e.Properties)
	s.edges[e.ID] = &cp
	s.edgeIndex[e.Key()] = e.ID
	return nil
}

// EdgesOf returns every edge with the entity as source or target, ordered by ID.
func (s *MemoryStore) EdgesOf(_ context.Context, entityID string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Edge
	for _, e := range s.edges {
		if e.SourceID == entityID || e.TargetID == entityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteEdge removes an edge by ID.
func (s *MemoryStore) DeleteEdge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	delete(s.edgeIndex, e.Key())
	delete(s.edges, id)
	return nil
}

// Counts returns the number of entities and edges held.
func (s *MemoryStore) Counts() (entities, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.edges)
}
