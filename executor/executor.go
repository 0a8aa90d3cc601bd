// Package executor applies one rule to one entity and records the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/condition"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/logger"
	"github.com/liamcoop/assetrules/rules"
)

// Executor evaluates a rule's condition against an entity and dispatches to
// the handler of its action type. Handlers never return errors to the
// caller: every failure becomes an ERROR record.
type Executor struct {
	entities       graph.EntityStore
	edges          graph.EdgeStore
	matcher        *condition.Matcher
	maxVoltageDrop float64
	now            func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxVoltageDrop sets the voltage drop ceiling used when a CREATE_CABLE
// payload has no voltage_drop_limit.
func WithMaxVoltageDrop(percent float64) Option {
	return func(x *Executor) {
		if percent > 0 {
			x.maxVoltageDrop = percent
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.now = now }
}

// New creates an executor over the given stores.
func New(entities graph.EntityStore, edges graph.EdgeStore, matcher *condition.Matcher, opts ...Option) *Executor {
	x := &Executor{
		entities:       entities,
		edges:          edges,
		matcher:        matcher,
		maxVoltageDrop: 3.0,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute applies the rule to the entity. SET_PROPERTY writes only the keys
// it changes to the store and mirrors them onto entity so that later rules
// on the same entity see them. The returned record is never nil.
func (x *Executor) Execute(ctx context.Context, rule *rules.Rule, entity *graph.Entity) *audit.Record {
	start := time.Now()
	rec := &audit.Record{
		ProjectID:  entity.ProjectID,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		EntityID:   entity.ID,
		EntityTag:  entity.Tag,
		ActionType: string(rule.ActionType),
		Timestamp:  x.now(),
	}
	defer func() { rec.Duration = time.Since(start) }()

	matched, err := x.matcher.Evaluate(rule.Condition, entity)
	if err != nil {
		logger.ConditionError("condition evaluation failed",
			"rule_id", rule.ID,
			"entity_id", entity.ID,
			"error", err)
		rec.Outcome = audit.OutcomeSkipped
		rec.Message = "condition not met"
		rec.Detail = map[string]any{"condition_error": err.Error()}
		return rec
	}
	if !matched {
		rec.Outcome = audit.OutcomeSkipped
		rec.Message = "condition not met"
		return rec
	}

	if err := x.dispatch(ctx, rule, entity, rec); err != nil {
		dispatchErr := &ActionDispatchError{
			RuleID:     rule.ID,
			EntityID:   entity.ID,
			ActionType: string(rule.ActionType),
			Err:        err,
		}
		rec.Outcome = audit.OutcomeError
		rec.Message = err.Error()
		rec.Error = dispatchErr.Error()
		logger.RuleError("rule action failed",
			"rule_id", rule.ID,
			"entity_id", entity.ID,
			"action_type", rule.ActionType,
			"error", err)
	}
	return rec
}

func (x *Executor) dispatch(ctx context.Context, rule *rules.Rule, entity *graph.Entity, rec *audit.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic in action handler", "rule_id", rule.ID, "stack", string(debug.Stack()))
			err = fmt.Errorf("action handler panicked: %v", p)
		}
	}()

	switch a := rule.Action.(type) {
	case rules.SetPropertyAction:
		return x.setProperty(ctx, a, entity, rec)
	case rules.CreateCableAction:
		return x.createCable(ctx, rule, a, entity, rec)
	case rules.CreateRelationshipAction:
		return x.createRelationship(ctx, a, entity, rec)
	case rules.CreateChildAction:
		return x.createChild(ctx, rule, a, entity, rec)
	case rules.ValidateAction:
		return x.validate(a, entity, rec)
	case nil:
		return errors.New("rule has no action")
	default:
		return fmt.Errorf("unsupported action type %s", rule.ActionType)
	}
}

func (x *Executor) setProperty(ctx context.Context, a rules.SetPropertyAction, entity *graph.Entity, rec *audit.Record) error {
	values := make(map[string]any, len(a.Values))
	changes := make(map[string]any, len(a.Values))
	for _, k := range a.Keys() {
		old, had := entity.Properties[k]
		v := a.Values[k]
		if had && graph.Equal(old, v) {
			continue
		}
		changes[k] = map[string]any{"old": old, "new": v}
		values[k] = v
	}

	rec.Outcome = audit.OutcomeUpdated
	rec.Detail = map[string]any{"changes": changes}
	if len(changes) == 0 {
		rec.Message = "properties already set"
		return nil
	}
	if err := x.entities.SetProperties(ctx, entity.ID, values); err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	props := maps.Clone(entity.Properties)
	if props == nil {
		props = make(map[string]any, len(values))
	}
	maps.Copy(props, values)
	entity.Properties = props
	rec.Message = fmt.Sprintf("set %d properties", len(changes))
	return nil
}

// findByTag returns the entity with the tag, or nil if there is none.
func (x *Executor) findByTag(ctx context.Context, projectID, tag string) (*graph.Entity, error) {
	e, err := x.entities.FindByTag(ctx, projectID, tag)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", tag, err)
	}
	return e, nil
}

func (x *Executor) createRelationship(ctx context.Context, a rules.CreateRelationshipAction, entity *graph.Entity, rec *audit.Record) error {
	targetTag, err := Render(a.TargetTag, entityVars(entity))
	if err != nil {
		return err
	}
	target, err := x.findByTag(ctx, entity.ProjectID, targetTag)
	if err != nil {
		return err
	}
	if target == nil {
		return &TargetResolutionError{ProjectID: entity.ProjectID, Tag: targetTag}
	}

	edge := &graph.Edge{SourceID: entity.ID, TargetID: target.ID, RelationType: a.Relation}
	if a.Direction == rules.DirectionIncoming {
		edge.SourceID, edge.TargetID = target.ID, entity.ID
	}
	rec.Detail = map[string]any{
		"relation":  a.Relation,
		"source_id": edge.SourceID,
		"target_id": edge.TargetID,
	}

	linked, err := x.link(ctx, edge)
	if err != nil {
		return err
	}
	if !linked {
		rec.Outcome = audit.OutcomeSkipped
		rec.Message = fmt.Sprintf("already linked to %s", targetTag)
		return nil
	}
	rec.Outcome = audit.OutcomeLinked
	rec.Message = fmt.Sprintf("linked %s %s %s", entity.Tag, a.Relation, targetTag)
	rec.CreatedEdgeID = edge.ID
	return nil
}

// link creates the edge unless the triple already exists. The existence
// check is advisory; the store's uniqueness constraint is authoritative.
func (x *Executor) link(ctx context.Context, edge *graph.Edge) (bool, error) {
	exists, err := x.edges.EdgeExists(ctx, edge.SourceID, edge.TargetID, edge.RelationType)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := x.edges.CreateEdge(ctx, edge); err != nil {
		if errors.Is(err, graph.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create edge: %w", err)
	}
	return true, nil
}

// discard removes an entity created earlier in a handler that then failed.
func (x *Executor) discard(ctx context.Context, id string) {
	if err := x.entities.DeleteEntity(ctx, id); err != nil {
		logger.Error("failed to remove partially created entity", "entity_id", id, "error", err)
	}
}
