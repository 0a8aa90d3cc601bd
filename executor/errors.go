package executor

import (
	"errors"
	"fmt"
)

// ErrNotReversible is returned by Rollback for records that did not create anything.
var ErrNotReversible = errors.New("execution record is not reversible")

// ActionDispatchError wraps any failure inside an action handler. It is
// converted to an ERROR record and never aborts a run.
type ActionDispatchError struct {
	RuleID     string
	EntityID   string
	ActionType string
	Err        error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("rule %s on entity %s (%s): %v", e.RuleID, e.EntityID, e.ActionType, e.Err)
}

func (e *ActionDispatchError) Unwrap() error {
	return e.Err
}

// TargetResolutionError is returned when CREATE_RELATIONSHIP cannot find the
// entity its target tag names.
type TargetResolutionError struct {
	ProjectID string
	Tag       string
}

func (e *TargetResolutionError) Error() string {
	return fmt.Sprintf("target not found: no entity tagged %q in project %s", e.Tag, e.ProjectID)
}

// TemplateError is returned when a template placeholder has no value.
type TemplateError struct {
	Template    string
	Placeholder string
}

func (e *TemplateError) Error() string {
	if e.Placeholder == "" {
		return fmt.Sprintf("malformed template %q", e.Template)
	}
	return fmt.Sprintf("unresolved placeholder {%s} in template %q", e.Placeholder, e.Template)
}
