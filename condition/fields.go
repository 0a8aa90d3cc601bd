package condition

import (
	"strings"

	"github.com/liamcoop/assetrules/graph"
)

const propertyPrefix = "properties."

// canonicalField maps the field spellings accepted in rule data onto one
// name per entity attribute: "type" for the entity type, the built-in
// attribute name, or "properties.<key>" for everything else.
func canonicalField(field string) string {
	f := strings.TrimSpace(field)
	switch strings.ToLower(f) {
	case "type", "asset_type", "node_type", "entity_type":
		return "type"
	case "tag", "id", "project_id", "area", "system", "discipline":
		return strings.ToLower(f)
	}
	if strings.HasPrefix(f, propertyPrefix) {
		return f
	}
	return propertyPrefix + f
}

// lookup resolves a field against an entity. The second result is false
// when the entity has no such attribute or property; an empty built-in
// attribute counts as absent.
func lookup(e *graph.Entity, field string) (any, bool) {
	if e == nil {
		return nil, false
	}
	name := canonicalField(field)
	if key, ok := strings.CutPrefix(name, propertyPrefix); ok {
		return e.Property(key)
	}

	var v string
	switch name {
	case "type":
		v = e.Type
	case "tag":
		v = e.Tag
	case "id":
		v = e.ID
	case "project_id":
		v = e.ProjectID
	case "area":
		v = e.Area
	case "system":
		v = e.System
	case "discipline":
		v = e.Discipline
	}
	if v == "" {
		return nil, false
	}
	return v, true
}

// entityFacts is the value bound to the "entity" variable in CEL conditions.
func entityFacts(e *graph.Entity) map[string]any {
	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	return map[string]any{
		"id":         e.ID,
		"tag":        e.Tag,
		"type":       e.Type,
		"project_id": e.ProjectID,
		"area":       e.Area,
		"system":     e.System,
		"discipline": e.Discipline,
		"properties": props,
	}
}
