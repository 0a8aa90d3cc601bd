// Package engine composes rule loading, conflict resolution and execution
// into the entry points used by the API layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/condition"
	"github.com/liamcoop/assetrules/executor"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/logger"
	"github.com/liamcoop/assetrules/internal/metrics"
	"github.com/liamcoop/assetrules/rules"
)

const tracerName = "github.com/liamcoop/assetrules/engine"

// Engine runs the resolved rule set of a project against its entities.
// It holds no per-run state; concurrent calls are safe as long as the
// stores are.
type Engine struct {
	loader  *rules.Loader
	graph   graph.Store
	records audit.Store
	exec    *executor.Executor

	workers int
	metrics *metrics.Registry
	tracer  trace.Tracer

	maxVoltageDrop float64
	clock          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds how many entities are evaluated in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMetrics records executions in the registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithMaxVoltageDrop sets the default CREATE_CABLE voltage drop ceiling.
func WithMaxVoltageDrop(percent float64) Option {
	return func(e *Engine) { e.maxVoltageDrop = percent }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// New creates an engine.
func New(loader *rules.Loader, g graph.Store, records audit.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		loader:  loader,
		graph:   g,
		records: records,
		workers: 4,
		tracer:  otel.Tracer(tracerName),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	matcher, err := condition.NewMatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition matcher: %w", err)
	}
	e.exec = executor.New(g, g, matcher,
		executor.WithMaxVoltageDrop(e.maxVoltageDrop),
		executor.WithClock(e.clock))
	return e, nil
}

// Loader returns the rule loader, for rule administration.
func (e *Engine) Loader() *rules.Loader {
	return e.loader
}

// Records returns the audit store.
func (e *Engine) Records() audit.Store {
	return e.records
}

// LoadAndResolve loads the project's rules and resolves conflicts between
// them. Enforcement violations are logged and returned; they never prevent
// execution.
func (e *Engine) LoadAndResolve(ctx context.Context, projectID string) (*rules.Resolution, error) {
	ctx, span := e.tracer.Start(ctx, "engine.LoadAndResolve",
		trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	loaded, err := e.loader.Load(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}
	res := rules.Resolve(loaded)

	for _, v := range res.Violations {
		logger.EnforcementViolation("enforced rule overridden",
			"project_id", projectID,
			"overridden_rule_id", v.OverriddenRuleID,
			"overriding_rule_id", v.OverridingRuleID,
			"group", v.GroupKey)
	}
	span.SetAttributes(
		attribute.Int("rules.loaded", len(loaded)),
		attribute.Int("rules.active", len(res.ActiveRules)),
		attribute.Int("rules.violations", len(res.Violations)))
	if e.metrics != nil {
		e.metrics.RecordResolution(len(loaded), len(res.ActiveRules), len(res.Violations))
	}
	logger.Debug("rules resolved",
		"project_id", projectID,
		"loaded", len(loaded),
		"active", len(res.ActiveRules),
		"violations", len(res.Violations))
	return res, nil
}

// ExecuteAll evaluates every active rule of the project against the given
// entities. Rules run serially per entity in resolution order; entities run
// in parallel. An entity listed more than once is evaluated once. Records
// are returned in entity order.
//
// Cancellation is checked between entities. A cancelled run returns the
// records of the entities that completed together with the context error.
func (e *Engine) ExecuteAll(ctx context.Context, projectID string, entities []*graph.Entity) ([]*audit.Record, error) {
	res, err := e.LoadAndResolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, projectID, uuid.NewString(), res.ActiveRules, entities)
}

func (e *Engine) execute(ctx context.Context, projectID, runID string, active []*rules.Rule, entities []*graph.Entity) ([]*audit.Record, error) {
	entities = uniqueEntities(runID, entities)
	ctx, span := e.tracer.Start(ctx, "engine.ExecuteAll", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("run_id", runID),
		attribute.Int("entities", len(entities)),
		attribute.Int("rules", len(active))))
	defer span.End()

	perEntity := make([][]*audit.Record, len(entities))
	appendErrs := make([]error, len(entities))

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, ent := range entities {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if ent.ProjectID != projectID {
				logger.Warn("entity belongs to another project, skipping",
					"project_id", projectID,
					"entity_id", ent.ID,
					"entity_project_id", ent.ProjectID)
				return nil
			}
			perEntity[i], appendErrs[i] = e.executeEntity(ctx, runID, active, ent)
			return nil
		})
	}
	_ = g.Wait()

	var records []*audit.Record
	for _, recs := range perEntity {
		records = append(records, recs...)
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	if err := ctx.Err(); err != nil {
		logger.Warn("run cancelled", "project_id", projectID, "run_id", runID, "records", len(records))
		span.SetStatus(codes.Error, "cancelled")
		return records, err
	}
	if err := errors.Join(appendErrs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append failed")
		return records, err
	}
	return records, nil
}

// uniqueEntities drops repeated entity ids, keeping the first occurrence,
// so that one entity is never evaluated by two workers at once.
func uniqueEntities(runID string, entities []*graph.Entity) []*graph.Entity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]*graph.Entity, 0, len(entities))
	for _, ent := range entities {
		if _, dup := seen[ent.ID]; dup {
			logger.Debug("duplicate entity in run, skipping", "run_id", runID, "entity_id", ent.ID)
			continue
		}
		seen[ent.ID] = struct{}{}
		out = append(out, ent)
	}
	return out
}

// executeEntity runs the rules against a working copy of one entity and
// appends the records. The append uses a context detached from cancellation
// so that executed actions are always recorded.
func (e *Engine) executeEntity(ctx context.Context, runID string, active []*rules.Rule, ent *graph.Entity) ([]*audit.Record, error) {
	ctx, span := e.tracer.Start(ctx, "engine.executeEntity", trace.WithAttributes(
		attribute.String("entity_id", ent.ID),
		attribute.String("entity_tag", ent.Tag)))
	defer span.End()

	working := ent.Clone()
	records := make([]*audit.Record, 0, len(active))
	for _, rule := range active {
		rec := e.exec.Execute(ctx, rule, working)
		rec.RunID = runID
		e.observe(rec)
		records = append(records, rec)
	}

	if err := e.records.Append(context.WithoutCancel(ctx), records...); err != nil {
		logger.Error("failed to append execution records",
			"run_id", runID,
			"entity_id", ent.ID,
			"error", err)
		span.RecordError(err)
		return records, fmt.Errorf("failed to record executions of %s: %w", ent.Tag, err)
	}
	return records, nil
}

// ExecuteOne evaluates a single rule against a single entity outside of
// conflict resolution and records the outcome.
func (e *Engine) ExecuteOne(ctx context.Context, rule *rules.Rule, entity *graph.Entity) (*audit.Record, error) {
	rec := e.exec.Execute(ctx, rule, entity.Clone())
	rec.RunID = uuid.NewString()
	e.observe(rec)
	if err := e.records.Append(ctx, rec); err != nil {
		return rec, fmt.Errorf("failed to record execution: %w", err)
	}
	return rec, nil
}

// ValidateEntity runs only the VALIDATE rules of the project's resolved
// rule set against one entity.
func (e *Engine) ValidateEntity(ctx context.Context, entityID, projectID string) ([]*audit.Record, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ValidateEntity", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("entity_id", entityID)))
	defer span.End()

	ent, err := e.graph.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", entityID, err)
	}
	if ent.ProjectID != projectID {
		return nil, fmt.Errorf("entity %s in project %s: %w", entityID, projectID, graph.ErrNotFound)
	}

	res, err := e.LoadAndResolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var validators []*rules.Rule
	for _, r := range res.ActiveRules {
		if r.ActionType == rules.ActionValidate {
			validators = append(validators, r)
		}
	}
	return e.executeEntity(ctx, uuid.NewString(), validators, ent)
}

func (e *Engine) observe(rec *audit.Record) {
	logger.Trace("rule executed",
		"rule_id", rec.RuleID,
		"entity_id", rec.EntityID,
		"outcome", rec.Outcome)
	if e.metrics == nil {
		return
	}
	e.metrics.RecordExecution(rec.ActionType, string(rec.Outcome), rec.Duration)
	if rec.Outcome == audit.OutcomeCreated && rec.CreatedEntityType == executor.CableType {
		if props, ok := rec.Detail["properties"].(map[string]any); ok && props["is_upsized"] == true {
			e.metrics.CablesUpsizedTotal.Inc()
		}
	}
}
