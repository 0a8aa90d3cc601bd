// Package rules holds rule definitions, their stores, the scope-aware loader
// and the conflict resolver that decides which rules run.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/assetrules/condition"
)

// Source is the scope level a rule is published at.
type Source string

const (
	SourceFirm    Source = "FIRM"
	SourceCountry Source = "COUNTRY"
	SourceProject Source = "PROJECT"
	SourceClient  Source = "CLIENT"
)

// Sources lists every scope level from broadest to narrowest.
var Sources = []Source{SourceFirm, SourceCountry, SourceProject, SourceClient}

// DefaultPriority is the conventional priority band of a source. Rule.Priority
// is authoritative; this is only used when a definition omits it.
func (s Source) DefaultPriority() int {
	switch s {
	case SourceFirm:
		return 10
	case SourceCountry:
		return 30
	case SourceProject:
		return 50
	case SourceClient:
		return 100
	}
	return 0
}

// ParseSource normalizes a source name.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Sources {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown rule source %q", s)
}

// ActionType selects the action handler a rule dispatches to.
type ActionType string

const (
	ActionSetProperty        ActionType = "SET_PROPERTY"
	ActionCreateCable        ActionType = "CREATE_CABLE"
	ActionCreateRelationship ActionType = "CREATE_RELATIONSHIP"
	ActionCreateChild        ActionType = "CREATE_CHILD"
	ActionValidate           ActionType = "VALIDATE"
)

// ActionTypes lists every supported action type.
var ActionTypes = []ActionType{
	ActionSetProperty, ActionCreateCable, ActionCreateRelationship, ActionCreateChild, ActionValidate,
}

// ParseActionType normalizes an action type name.
func ParseActionType(s string) (ActionType, error) {
	at := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ActionTypes {
		if at == known {
			return at, nil
		}
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// payloadKey is the envelope key of the action payload, e.g. "set_property".
func (a ActionType) payloadKey() string {
	return strings.ToLower(string(a))
}

// Rule is a published rule definition. Rules are read-only to the engine.
type Rule struct {
	ID          string
	Name        string
	Description string
	Source      Source
	SourceID    string // empty for FIRM rules
	Priority    int
	Category    string
	Discipline  string
	Active      bool
	Enforced    bool

	// OverridesRuleID names a rule this one intentionally supersedes.
	OverridesRuleID string
	// ConflictsWith lists rules known to compete with this one.
	ConflictsWith []string

	Condition  *condition.Condition
	ActionType ActionType
	Action     Action

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupKey identifies the rules that compete with this one: the same
// condition signature, action type and action target.
func (r *Rule) GroupKey() string {
	target := ""
	if r.Action != nil {
		target = r.Action.Target()
	}
	return r.Condition.Signature() + "|" + string(r.ActionType) + "|" + target
}

// Clone returns a shallow copy with its own ConflictsWith slice. Condition and
// Action are immutable after parsing and are shared.
func (r *Rule) Clone() *Rule {
	c := *r
	c.ConflictsWith = append([]string(nil), r.ConflictsWith...)
	return &c
}

// before reports whether r sorts ahead of o in resolution order: higher
// priority first, then earlier creation, then lower id.
func (r *Rule) before(o *Rule) bool {
	if r.Priority != o.Priority {
		return r.Priority > o.Priority
	}
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.Before(o.CreatedAt)
	}
	return r.ID < o.ID
}

// EnforcementViolation reports an enforced rule that lost conflict resolution
// to a rule that does not explicitly override it. It is a finding, not an error.
type EnforcementViolation struct {
	OverriddenRuleID   string `json:"overridden_rule_id"`
	OverriddenRuleName string `json:"overridden_rule_name"`
	OverridingRuleID   string `json:"overriding_rule_id"`
	OverridingRuleName string `json:"overriding_rule_name"`
	GroupKey           string `json:"group_key"`
	Message            string `json:"message"`
}
