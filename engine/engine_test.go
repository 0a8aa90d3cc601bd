package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/metrics"
	"github.com/liamcoop/assetrules/rules"
)

const projectID = "proj-1"

type harness struct {
	graph   *graph.MemoryStore
	records *audit.MemoryStore
	metrics *metrics.Registry
	spans   *tracetest.SpanRecorder
	engine  *Engine
}

func newHarness(t *testing.T, defs []rules.Definition, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	g := graph.NewMemoryStore()
	g.PutProject(&graph.Project{ID: projectID, Name: "Mill", ClientID: "acme", CountryCode: "CA"})

	store := rules.NewInMemoryRuleStore()
	for _, d := range defs {
		r, err := d.Rule()
		require.NoError(t, err, "rule %s", d.ID)
		require.NoError(t, store.Add(ctx, r))
	}

	h := &harness{
		graph:   g,
		records: audit.NewMemoryStore(),
		metrics: metrics.NewRegistry(),
		spans:   tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	opts = append([]Option{WithMetrics(h.metrics), WithTracerProvider(tp)}, opts...)

	eng, err := New(rules.NewLoader(store, g, nil), g, h.records, opts...)
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *harness) entity(t *testing.T, tag, typ string, props map[string]any) *graph.Entity {
	t.Helper()
	e := &graph.Entity{Tag: tag, Type: typ, ProjectID: projectID, Area: "A1", Properties: props}
	require.NoError(t, h.graph.CreateEntity(context.Background(), e))
	return e
}

func (h *harness) reload(t *testing.T, e *graph.Entity) *graph.Entity {
	t.Helper()
	got, err := h.graph.GetEntity(context.Background(), e.ID)
	require.NoError(t, err)
	return got
}

func def(id, assetType, actionType string, action map[string]any) rules.Definition {
	return rules.Definition{
		ID:         id,
		Name:       "rule " + id,
		Source:     "FIRM",
		Condition:  map[string]any{"asset_type": assetType},
		ActionType: actionType,
		Action:     action,
	}
}

func motorRules() []rules.Definition {
	return []rules.Definition{
		def("cable", "MOTOR", "CREATE_CABLE", map[string]any{"create_cable": map[string]any{
			"cable_tag": "{tag}-PWR", "cable_type": "POWER", "sizing_method": "Auto",
			"voltage": "600V", "length_meters": 50,
		}}),
		def("feed", "MOTOR", "CREATE_RELATIONSHIP", map[string]any{"create_relationship": map[string]any{
			"relation": "fed_from", "target_tag": "MCC-1", "direction": "outgoing",
		}}),
		def("voltage", "MOTOR", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"voltage": "600V"}}),
	}
}

func find(t *testing.T, records []*audit.Record, entityID, ruleID string) *audit.Record {
	t.Helper()
	for _, r := range records {
		if r.EntityID == entityID && r.RuleID == ruleID {
			return r
		}
	}
	t.Fatalf("no record for entity %s rule %s", entityID, ruleID)
	return nil
}

func TestExecuteAllKeepsPropertiesWrittenAfterSnapshot(t *testing.T) {
	h := newHarness(t, []rules.Definition{
		def("voltage", "MOTOR", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"voltage": "600V"}}),
		def("phases", "MOTOR", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"phases": 3}}),
	})
	ctx := context.Background()
	motor := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})
	snapshot := motor.Clone()

	require.NoError(t, h.graph.SetProperties(ctx, motor.ID, map[string]any{"efficiency": 92}))

	records, err := h.engine.ExecuteAll(ctx, projectID, []*graph.Entity{snapshot, snapshot.Clone()})
	require.NoError(t, err)
	assert.Len(t, records, 2, "a repeated entity is evaluated once")

	stored := h.reload(t, motor)
	assert.Equal(t, map[string]any{"hp": 10, "efficiency": 92, "voltage": "600V", "phases": 3}, stored.Properties)
}

func TestExecuteAllIsIdempotent(t *testing.T) {
	h := newHarness(t, motorRules())
	ctx := context.Background()
	motor := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})
	mcc := h.entity(t, "MCC-1", "MCC", nil)

	first, err := h.engine.ExecuteAll(ctx, projectID, []*graph.Entity{motor, mcc})
	require.NoError(t, err)
	require.Len(t, first, 6)
	assert.Equal(t, audit.OutcomeCreated, find(t, first, motor.ID, "cable").Outcome)
	assert.Equal(t, audit.OutcomeLinked, find(t, first, motor.ID, "feed").Outcome)
	assert.Equal(t, audit.OutcomeUpdated, find(t, first, motor.ID, "voltage").Outcome)
	assert.Equal(t, audit.OutcomeSkipped, find(t, first, mcc.ID, "cable").Outcome)

	cable, err := h.graph.FindByTag(ctx, projectID, "M-101-PWR")
	require.NoError(t, err)
	assert.Equal(t, "14 AWG", cable.Properties["conductor_size"])
	entities, edges := h.graph.Counts()
	assert.Equal(t, 3, entities)
	assert.Equal(t, 2, edges)

	second, err := h.engine.ExecuteAll(ctx, projectID, []*graph.Entity{h.reload(t, motor), mcc})
	require.NoError(t, err)
	assert.Equal(t, audit.OutcomeSkipped, find(t, second, motor.ID, "cable").Outcome)
	assert.Equal(t, audit.OutcomeSkipped, find(t, second, motor.ID, "feed").Outcome)
	voltage := find(t, second, motor.ID, "voltage")
	assert.Equal(t, audit.OutcomeUpdated, voltage.Outcome)
	assert.Equal(t, "properties already set", voltage.Message)

	entities, edges = h.graph.Counts()
	assert.Equal(t, 3, entities, "no duplicate entities")
	assert.Equal(t, 2, edges, "no duplicate edges")

	assert.Equal(t, 12, h.records.Len())
	assert.NotEqual(t, first[0].RunID, second[0].RunID)
	for _, r := range first {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, first[0].RunID, r.RunID)
	}
}

func TestExecuteAllIsolatesFailures(t *testing.T) {
	defs := []rules.Definition{
		def("feed", "MOTOR", "CREATE_RELATIONSHIP", map[string]any{"create_relationship": map[string]any{
			"relation": "fed_from", "target_tag": "{area}-MCC", "direction": "outgoing",
		}}),
		def("voltage", "MOTOR", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"voltage": "600V"}}),
		def("hp", "MOTOR", "VALIDATE", map[string]any{"validate": map[string]any{
			"assertion": "property_in_range", "property": "hp", "min": 1, "max": 500,
		}}),
	}
	h := newHarness(t, defs)
	m1 := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})
	m2 := h.entity(t, "M-102", "MOTOR", map[string]any{"hp": 20})

	records, err := h.engine.ExecuteAll(context.Background(), projectID, []*graph.Entity{m1, m2})
	require.NoError(t, err)
	require.Len(t, records, 6)

	for _, m := range []*graph.Entity{m1, m2} {
		failed := find(t, records, m.ID, "feed")
		assert.Equal(t, audit.OutcomeError, failed.Outcome)
		assert.Contains(t, failed.Message, "A1-MCC")
		assert.Equal(t, audit.OutcomeUpdated, find(t, records, m.ID, "voltage").Outcome)
		assert.Equal(t, audit.OutcomeValidationPass, find(t, records, m.ID, "hp").Outcome)
		assert.Equal(t, "600V", h.reload(t, m).Properties["voltage"])
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RuleExecutionsTotal.WithLabelValues("CREATE_RELATIONSHIP", "ERROR")))
}

func TestExecuteAllParallelKeepsEntityOrder(t *testing.T) {
	h := newHarness(t, motorRules(), WithWorkers(8))
	h.entity(t, "MCC-1", "MCC", nil)

	var motors []*graph.Entity
	for i := range 20 {
		motors = append(motors, h.entity(t, fmt.Sprintf("M-%03d", i), "MOTOR", map[string]any{"hp": 5 + i}))
	}

	records, err := h.engine.ExecuteAll(context.Background(), projectID, motors)
	require.NoError(t, err)
	require.Len(t, records, 60)
	for i, m := range motors {
		for j := range 3 {
			assert.Equal(t, m.ID, records[3*i+j].EntityID)
		}
	}
	entities, edges := h.graph.Counts()
	assert.Equal(t, 41, entities)
	assert.Equal(t, 40, edges)
	assert.Equal(t, 20.0, testutil.ToFloat64(h.metrics.RuleExecutionsTotal.WithLabelValues("CREATE_CABLE", "CREATED")))
}

func TestExecuteAllCancelled(t *testing.T) {
	h := newHarness(t, motorRules())
	motor := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := h.engine.ExecuteAll(ctx, projectID, []*graph.Entity{motor})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
	assert.Equal(t, 0, h.records.Len())
	entities, _ := h.graph.Counts()
	assert.Equal(t, 1, entities)
}

func TestExecuteAllSkipsForeignEntities(t *testing.T) {
	h := newHarness(t, motorRules())
	foreign := &graph.Entity{ID: "x", Tag: "M-900", Type: "MOTOR", ProjectID: "proj-2"}

	records, err := h.engine.ExecuteAll(context.Background(), projectID, []*graph.Entity{foreign})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExecuteAllScopeNotFound(t *testing.T) {
	h := newHarness(t, motorRules())
	_, err := h.engine.ExecuteAll(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, rules.ErrScopeNotFound)
}

func TestLoadAndResolveReportsViolations(t *testing.T) {
	firm := def("firm-voltage", "MOTOR", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"voltage": "480V"}})
	firm.Enforced = true
	country := def("ca-voltage", "MOTOR", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"voltage": "600V"}})
	country.Source, country.SourceID = "COUNTRY", "CA"

	h := newHarness(t, []rules.Definition{firm, country})
	res, err := h.engine.LoadAndResolve(context.Background(), projectID)
	require.NoError(t, err)
	require.Len(t, res.ActiveRules, 1)
	assert.Equal(t, "ca-voltage", res.ActiveRules[0].ID)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "firm-voltage", res.Violations[0].OverriddenRuleID)
	assert.Equal(t, "ca-voltage", res.Violations[0].OverridingRuleID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EnforcementViolations))

	// The violation does not block execution.
	motor := h.entity(t, "M-101", "MOTOR", nil)
	_, err = h.engine.ExecuteAll(context.Background(), projectID, []*graph.Entity{motor})
	require.NoError(t, err)
	assert.Equal(t, "600V", h.reload(t, motor).Properties["voltage"])
}

func TestExecuteOne(t *testing.T) {
	h := newHarness(t, nil)
	motor := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})
	rule, err := def("voltage", "MOTOR", "SET_PROPERTY",
		map[string]any{"set_property": map[string]any{"voltage": "600V"}}).Rule()
	require.NoError(t, err)

	rec, err := h.engine.ExecuteOne(context.Background(), rule, motor)
	require.NoError(t, err)
	assert.Equal(t, audit.OutcomeUpdated, rec.Outcome)
	assert.NotEmpty(t, rec.RunID)
	assert.Equal(t, 1, h.records.Len())
	assert.NotContains(t, motor.Properties, "voltage", "caller's entity is not mutated")
	assert.Equal(t, "600V", h.reload(t, motor).Properties["voltage"])
}

func TestValidateEntity(t *testing.T) {
	defs := []rules.Definition{
		def("efficiency", "PUMP", "VALIDATE", map[string]any{"validate": map[string]any{
			"assertion": "property_in_range", "property": "efficiency", "min": 80, "max": 95,
		}}),
		def("pump-type", "PUMP", "VALIDATE", map[string]any{"validate": map[string]any{
			"assertion": "property_equals", "property": "pump_type", "value": "centrifugal",
		}}),
		def("seal", "PUMP", "SET_PROPERTY", map[string]any{"set_property": map[string]any{"seal": "mechanical"}}),
	}
	h := newHarness(t, defs)
	pump := h.entity(t, "P-101", "PUMP", map[string]any{"efficiency": "75", "pump_type": "centrifugal"})

	records, err := h.engine.ValidateEntity(context.Background(), pump.ID, projectID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	eff := find(t, records, pump.ID, "efficiency")
	assert.Equal(t, audit.OutcomeValidationWarn, eff.Outcome)
	assert.True(t, strings.Contains(eff.Message, "75"), eff.Message)
	assert.Equal(t, audit.OutcomeValidationPass, find(t, records, pump.ID, "pump-type").Outcome)
	assert.NotContains(t, h.reload(t, pump).Properties, "seal")

	report, err := h.engine.Validation(context.Background(), projectID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.Warnings)
	assert.Equal(t, 1, report.Summary.Passed)
	assert.Equal(t, 1, report.Summary.TotalIssues)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "P-101", report.Issues[0].EntityTag)
	assert.Equal(t, "rule efficiency", report.Issues[0].RuleName)
}

func TestValidateEntityWrongProject(t *testing.T) {
	h := newHarness(t, nil)
	pump := h.entity(t, "P-101", "PUMP", nil)

	_, err := h.engine.ValidateEntity(context.Background(), pump.ID, "proj-2")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = h.engine.ValidateEntity(context.Background(), "nope", projectID)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestRunSummaryAndRollback(t *testing.T) {
	h := newHarness(t, motorRules())
	ctx := context.Background()
	h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})
	h.entity(t, "MCC-1", "MCC", nil)

	summary, err := h.engine.Run(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rules)
	assert.Equal(t, 2, summary.Entities)
	assert.Equal(t, 6, summary.Executions)
	assert.Equal(t, 3, summary.ActionsTaken)
	assert.Equal(t, 3, summary.Skipped)
	assert.Zero(t, summary.Errors)
	assert.NotNil(t, summary.Violations)
	assert.False(t, summary.Cancelled)

	// The cable created by the first run is evaluated by the second.
	again, err := h.engine.Run(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Entities)
	assert.Equal(t, 9, again.Executions)
	assert.Equal(t, 1, again.ActionsTaken)

	n, err := h.engine.RollbackRun(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	entities, edges := h.graph.Counts()
	assert.Equal(t, 2, entities)
	assert.Zero(t, edges)

	_, err = h.engine.RollbackRun(ctx, "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRollbackRecord(t *testing.T) {
	h := newHarness(t, motorRules())
	ctx := context.Background()
	motor := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})
	h.entity(t, "MCC-1", "MCC", nil)

	records, err := h.engine.ExecuteAll(ctx, projectID, []*graph.Entity{motor})
	require.NoError(t, err)
	created := find(t, records, motor.ID, "cable")

	rec, err := h.engine.FindRecord(ctx, projectID, created.ID)
	require.NoError(t, err)
	require.NoError(t, h.engine.Rollback(ctx, rec))

	_, err = h.graph.FindByTag(ctx, projectID, "M-101-PWR")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, edges := h.graph.Counts()
	assert.Equal(t, 1, edges, "only the fed_from link remains")

	_, err = h.engine.FindRecord(ctx, projectID, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestExecuteAllTraces(t *testing.T) {
	h := newHarness(t, motorRules())
	motor := h.entity(t, "M-101", "MOTOR", map[string]any{"hp": 10})

	_, err := h.engine.ExecuteAll(context.Background(), projectID, []*graph.Entity{motor})
	require.NoError(t, err)

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "engine.LoadAndResolve")
	assert.Contains(t, names, "engine.ExecuteAll")
	assert.Contains(t, names, "engine.executeEntity")
}
