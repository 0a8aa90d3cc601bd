package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/liamcoop/assetrules/condition"
)

// Definition is the serialized form of a rule used by rule files, the HTTP
// API and the JSONB columns of the Postgres store. Condition and action are
// kept as decoded data until Rule() parses them into their tagged variants.
type Definition struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Description     string         `json:"description,omitempty" yaml:"description"`
	Source          string         `json:"source" yaml:"source"`
	SourceID        string         `json:"source_id,omitempty" yaml:"source_id"`
	Priority        *int           `json:"priority,omitempty" yaml:"priority"`
	Category        string         `json:"category,omitempty" yaml:"category"`
	Discipline      string         `json:"discipline,omitempty" yaml:"discipline"`
	Active          *bool          `json:"is_active,omitempty" yaml:"is_active"`
	Enforced        bool           `json:"is_enforced" yaml:"is_enforced"`
	OverridesRuleID string         `json:"overrides_rule_id,omitempty" yaml:"overrides_rule_id"`
	ConflictsWith   []string       `json:"conflicts_with,omitempty" yaml:"conflicts_with"`
	Condition       map[string]any `json:"condition" yaml:"condition"`
	ActionType      string         `json:"action_type" yaml:"action_type"`
	Action          map[string]any `json:"action" yaml:"action"`
	Version         int            `json:"version,omitempty" yaml:"version"`
	CreatedAt       time.Time      `json:"created_at,omitempty" yaml:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at,omitempty" yaml:"updated_at"`
}

// Rule parses and validates the definition. Priority defaults to the
// source's band and Active defaults to true.
func (d Definition) Rule() (*Rule, error) {
	src, err := ParseSource(d.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, d.ID, err)
	}
	at, err := ParseActionType(d.ActionType)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, d.ID, err)
	}

	var raw any
	if d.Condition != nil {
		raw = d.Condition
	}
	cond, err := condition.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, d.ID, err)
	}
	action, err := ParseAction(at, d.Action)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", d.ID, err)
	}

	r := &Rule{
		ID:              d.ID,
		Name:            d.Name,
		Description:     d.Description,
		Source:          src,
		SourceID:        d.SourceID,
		Priority:        src.DefaultPriority(),
		Category:        d.Category,
		Discipline:      d.Discipline,
		Active:          true,
		Enforced:        d.Enforced,
		OverridesRuleID: d.OverridesRuleID,
		ConflictsWith:   append([]string(nil), d.ConflictsWith...),
		Condition:       cond,
		ActionType:      at,
		Action:          action,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.Priority != nil {
		r.Priority = *d.Priority
	}
	if d.Active != nil {
		r.Active = *d.Active
	}
	if err := ValidateRule(r); err != nil {
		return nil, err
	}
	return r, nil
}

// DefinitionOf renders a rule in its serialized form.
func DefinitionOf(r *Rule) (Definition, error) {
	cond, err := toMap(r.Condition)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to encode condition of rule %s: %w", r.ID, err)
	}
	actionJSON, err := MarshalAction(r.Action)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to encode action of rule %s: %w", r.ID, err)
	}
	var action map[string]any
	if err := json.Unmarshal(actionJSON, &action); err != nil {
		return Definition{}, fmt.Errorf("failed to encode action of rule %s: %w", r.ID, err)
	}

	priority := r.Priority
	active := r.Active
	return Definition{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Source:          string(r.Source),
		SourceID:        r.SourceID,
		Priority:        &priority,
		Category:        r.Category,
		Discipline:      r.Discipline,
		Active:          &active,
		Enforced:        r.Enforced,
		OverridesRuleID: r.OverridesRuleID,
		ConflictsWith:   append([]string(nil), r.ConflictsWith...),
		Condition:       cond,
		ActionType:      string(r.ActionType),
		Action:          action,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func toMap(c *condition.Condition) (map[string]any, error) {
	if c == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalJSON encodes the rule as its Definition.
func (r *Rule) MarshalJSON() ([]byte, error) {
	d, err := DefinitionOf(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// UnmarshalJSON decodes and validates a Definition.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	parsed, err := d.Rule()
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
