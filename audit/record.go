// Package audit holds the append-only record of every (rule, entity)
// evaluation and the sinks that persist it.
package audit

import "time"

// Outcome is the result of executing one rule against one entity.
type Outcome string

const (
	OutcomeCreated        Outcome = "CREATED"
	OutcomeUpdated        Outcome = "UPDATED"
	OutcomeLinked         Outcome = "LINKED"
	OutcomeSkipped        Outcome = "SKIPPED"
	OutcomeValidationPass Outcome = "VALIDATION_PASS"
	OutcomeValidationWarn Outcome = "VALIDATION_WARN"
	OutcomeValidationFail Outcome = "VALIDATION_FAIL"
	OutcomeError          Outcome = "ERROR"
)

// IsValidation reports whether the outcome came from a VALIDATE action.
func (o Outcome) IsValidation() bool {
	return o == OutcomeValidationPass || o == OutcomeValidationWarn || o == OutcomeValidationFail
}

// Changed reports whether the outcome changed the graph.
func (o Outcome) Changed() bool {
	return o == OutcomeCreated || o == OutcomeUpdated || o == OutcomeLinked
}

// Record is the audit entry of one rule evaluated against one entity. Records
// are never mutated once appended.
type Record struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id,omitempty"`
	ProjectID  string         `json:"project_id"`
	RuleID     string         `json:"rule_id"`
	RuleName   string         `json:"rule_name,omitempty"`
	EntityID   string         `json:"entity_id"`
	EntityTag  string         `json:"entity_tag,omitempty"`
	ActionType string         `json:"action_type"`
	Outcome    Outcome        `json:"outcome"`
	Message    string         `json:"message"`
	Detail     map[string]any `json:"detail,omitempty"`

	// Set when the action created something, for rollback.
	CreatedEntityID   string `json:"created_entity_id,omitempty"`
	CreatedEntityType string `json:"created_entity_type,omitempty"`
	CreatedEdgeID     string `json:"created_edge_id,omitempty"`

	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}
