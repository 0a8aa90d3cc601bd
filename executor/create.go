package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/cablesizing"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/rules"
)

const (
	// CableType is the entity type of cables created by CREATE_CABLE.
	CableType = "CABLE"

	// FeedsRelation links a created cable to the entity it supplies.
	FeedsRelation = "feeds"

	codeStandard = "CEC-2021"
)

func (x *Executor) createCable(ctx context.Context, rule *rules.Rule, a rules.CreateCableAction, entity *graph.Entity, rec *audit.Record) error {
	tmpl := a.CableTag
	if tmpl == "" {
		tmpl = rules.DefaultCableTag
	}
	tag, err := Render(tmpl, entityVars(entity))
	if err != nil {
		return err
	}

	existing, err := x.findByTag(ctx, entity.ProjectID, tag)
	if err != nil {
		return err
	}
	if existing != nil {
		rec.Outcome = audit.OutcomeSkipped
		rec.Message = fmt.Sprintf("cable %s already exists", tag)
		rec.Detail = map[string]any{"cable_tag": tag, "existing_id": existing.ID}
		return nil
	}

	props, err := x.cableProperties(rule, a, entity)
	if err != nil {
		return err
	}
	cable := &graph.Entity{
		Tag:        tag,
		Type:       CableType,
		ProjectID:  entity.ProjectID,
		Area:       entity.Area,
		System:     entity.System,
		Discipline: entity.Discipline,
		Properties: props,
	}
	if err := x.entities.CreateEntity(ctx, cable); err != nil {
		if errors.Is(err, graph.ErrAlreadyExists) {
			rec.Outcome = audit.OutcomeSkipped
			rec.Message = fmt.Sprintf("cable %s already exists", tag)
			rec.Detail = map[string]any{"cable_tag": tag}
			return nil
		}
		return fmt.Errorf("failed to create cable: %w", err)
	}

	edge := &graph.Edge{SourceID: cable.ID, TargetID: entity.ID, RelationType: FeedsRelation}
	if err := x.edges.CreateEdge(ctx, edge); err != nil {
		x.discard(ctx, cable.ID)
		return fmt.Errorf("failed to link cable %s: %w", tag, err)
	}

	rec.Outcome = audit.OutcomeCreated
	rec.Message = fmt.Sprintf("created cable %s", tag)
	if size, ok := props["conductor_size"]; ok {
		rec.Message += fmt.Sprintf(" (%v)", size)
	}
	rec.CreatedEntityID = cable.ID
	rec.CreatedEntityType = CableType
	rec.CreatedEdgeID = edge.ID
	rec.Detail = map[string]any{"cable_tag": tag, "properties": maps.Clone(props)}
	return nil
}

// cableProperties builds the properties of a new cable: payload properties,
// then the sizing result, then the fields recorded for every cable.
func (x *Executor) cableProperties(rule *rules.Rule, a rules.CreateCableAction, entity *graph.Entity) (map[string]any, error) {
	props := maps.Clone(a.Properties)
	if props == nil {
		props = map[string]any{}
	}

	method := a.SizingMethod
	if method == "" {
		method = rules.SizingAuto
	}
	maxVd := a.VoltageDropLimit
	if maxVd <= 0 {
		maxVd = x.maxVoltageDrop
	}

	switch method {
	case rules.SizingAuto:
		hp := 0.0
		if v, ok := entity.Property("hp"); ok && v != nil {
			f, ok := graph.Float(v)
			if !ok {
				return nil, fmt.Errorf("hp %q of %s is not numeric", graph.String(v), entity.Tag)
			}
			hp = f
		}
		result, err := cablesizing.SizeCable(hp, a.LengthMeters, a.Voltage, maxVd)
		if err != nil {
			return nil, fmt.Errorf("cable sizing failed: %w", err)
		}
		maps.Copy(props, result.Properties())
		props["hp"] = hp
	case rules.SizingManual:
		if a.ConductorSize != "" {
			props["conductor_size"] = a.ConductorSize
		}
	}

	insulation := a.Insulation
	if insulation == "" {
		insulation = rules.DefaultInsulation
	}
	props["cable_type"] = a.CableType
	props["sizing_method"] = method
	props["voltage"] = a.Voltage
	props["length_meters"] = a.LengthMeters
	props["insulation"] = insulation
	props["voltage_drop_limit"] = maxVd
	props["code_standard"] = codeStandard
	props["created_by_rule_id"] = rule.ID
	props["to_entity_id"] = entity.ID
	return props, nil
}

func (x *Executor) createChild(ctx context.Context, rule *rules.Rule, a rules.CreateChildAction, parent *graph.Entity, rec *audit.Record) error {
	naming := a.Naming
	if naming == "" {
		naming = rules.DefaultChildNaming
	}
	relation := a.Relation
	if relation == "" {
		relation = rules.DefaultChildRelation
	}

	vars := entityVars(parent)
	vars["parent_tag"] = parent.Tag
	first, _ := utf8.DecodeRuneInString(a.ChildType)
	vars["type"] = strings.ToUpper(string(first))
	tag, err := Render(naming, vars)
	if err != nil {
		return err
	}

	existing, err := x.findByTag(ctx, parent.ProjectID, tag)
	if err != nil {
		return err
	}
	if existing != nil {
		edge := &graph.Edge{SourceID: existing.ID, TargetID: parent.ID, RelationType: relation}
		linked, err := x.link(ctx, edge)
		if err != nil {
			return err
		}
		rec.Detail = map[string]any{"child_tag": tag, "child_id": existing.ID}
		if !linked {
			rec.Outcome = audit.OutcomeSkipped
			rec.Message = fmt.Sprintf("child %s already exists", tag)
			return nil
		}
		rec.Outcome = audit.OutcomeLinked
		rec.Message = fmt.Sprintf("linked existing child %s", tag)
		rec.CreatedEdgeID = edge.ID
		return nil
	}

	props := map[string]any{}
	var inherited []string
	for _, k := range a.InheritProperties {
		if v, ok := parent.Property(k); ok {
			props[k] = v
			inherited = append(inherited, k)
		}
	}
	maps.Copy(props, a.Properties)
	props["parent_id"] = parent.ID
	props["created_by_rule_id"] = rule.ID

	discipline := a.Discipline
	if discipline == "" {
		discipline = parent.Discipline
	}
	child := &graph.Entity{
		Tag:        tag,
		Type:       a.ChildType,
		ProjectID:  parent.ProjectID,
		Area:       parent.Area,
		System:     parent.System,
		Discipline: discipline,
		Properties: props,
	}
	if err := x.entities.CreateEntity(ctx, child); err != nil {
		if errors.Is(err, graph.ErrAlreadyExists) {
			rec.Outcome = audit.OutcomeSkipped
			rec.Message = fmt.Sprintf("child %s already exists", tag)
			rec.Detail = map[string]any{"child_tag": tag}
			return nil
		}
		return fmt.Errorf("failed to create child: %w", err)
	}

	edge := &graph.Edge{SourceID: child.ID, TargetID: parent.ID, RelationType: relation}
	if err := x.edges.CreateEdge(ctx, edge); err != nil {
		x.discard(ctx, child.ID)
		return fmt.Errorf("failed to link child %s: %w", tag, err)
	}

	rec.Outcome = audit.OutcomeCreated
	rec.Message = fmt.Sprintf("created %s %s", a.ChildType, tag)
	rec.CreatedEntityID = child.ID
	rec.CreatedEntityType = a.ChildType
	rec.CreatedEdgeID = edge.ID
	rec.Detail = map[string]any{"child_tag": tag, "relation": relation, "inherited": inherited}
	return nil
}
