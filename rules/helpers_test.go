package rules

import (
	"testing"
	"time"

	"github.com/liamcoop/assetrules/condition"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ruleOpt adjusts a test rule before validation.
type ruleOpt func(*Rule)

func enforced() ruleOpt { return func(r *Rule) { r.Enforced = true } }

func overrides(id string) ruleOpt { return func(r *Rule) { r.OverridesRuleID = id } }

func conflictsWith(ids ...string) ruleOpt { return func(r *Rule) { r.ConflictsWith = ids } }

func createdAt(minutes int) ruleOpt {
	return func(r *Rule) { r.CreatedAt = epoch.Add(time.Duration(minutes) * time.Minute) }
}

func inactive() ruleOpt { return func(r *Rule) { r.Active = false } }

func scoped(src Source, id string) ruleOpt {
	return func(r *Rule) { r.Source, r.SourceID = src, id }
}

func discipline(d string) ruleOpt { return func(r *Rule) { r.Discipline = d } }

// setPropertyRule builds a FIRM SET_PROPERTY rule on MOTOR entities.
func setPropertyRule(t *testing.T, id string, priority int, values map[string]any, opts ...ruleOpt) *Rule {
	t.Helper()
	return newRule(t, id, priority, ActionSetProperty, map[string]any{"set_property": values}, opts...)
}

func newRule(t *testing.T, id string, priority int, at ActionType, action map[string]any, opts ...ruleOpt) *Rule {
	t.Helper()
	a, err := ParseAction(at, action)
	if err != nil {
		t.Fatalf("ParseAction(%s) failed: %v", at, err)
	}
	r := &Rule{
		ID:         id,
		Name:       "rule " + id,
		Source:     SourceFirm,
		Priority:   priority,
		Active:     true,
		Condition:  condition.Eq("asset_type", "MOTOR"),
		ActionType: at,
		Action:     a,
		CreatedAt:  epoch,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := ValidateRule(r); err != nil {
		t.Fatalf("ValidateRule(%s) failed: %v", id, err)
	}
	return r
}

func ids(rs []*Rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
