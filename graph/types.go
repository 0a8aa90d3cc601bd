// Package graph holds the asset graph the rule engine evaluates: entities
// keyed by id and a separate list of directed edges between entity ids.
package graph

import (
	"maps"
	"time"
)

// Project is the scope rules are loaded for.
type Project struct {
	ID          string
	Name        string
	ClientID    string
	CountryCode string
}

// Entity is an asset or node in a project's graph.
type Entity struct {
	ID         string
	Tag        string
	Type       string
	ProjectID  string
	Area       string
	System     string
	Discipline string
	Properties map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a copy whose property map can be mutated independently.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Properties = maps.Clone(e.Properties)
	if c.Properties == nil {
		c.Properties = map[string]any{}
	}
	return &c
}

// Property returns a property value and whether it is present.
func (e *Entity) Property(key string) (any, bool) {
	if e == nil || e.Properties == nil {
		return nil, false
	}
	v, ok := e.Properties[key]
	return v, ok
}

// Edge is a directed relationship between two entities.
type Edge struct {
	ID           string
	SourceID     string
	TargetID     string
	RelationType string
	Properties   map[string]any
	CreatedAt    time.Time
}

// EdgeKey identifies an edge by its uniqueness triple.
type EdgeKey struct {
	SourceID     string
	TargetID     string
	RelationType string
}

// Key returns the uniqueness triple of the edge.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{SourceID: e.SourceID, TargetID: e.TargetID, RelationType: e.RelationType}
}
