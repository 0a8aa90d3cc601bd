package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidRule is wrapped by every rule definition validation failure.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRuleNotFound is returned when a rule ID does not exist in the store.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists is returned when adding a rule whose ID is taken.
	ErrRuleExists = errors.New("rule already exists")

	// ErrScopeNotFound is matched by ScopeNotFoundError via errors.Is.
	ErrScopeNotFound = errors.New("scope not found")
)

// ScopeNotFoundError is returned by the loader when the project a load is
// scoped to does not exist.
type ScopeNotFoundError struct {
	ProjectID string
	Err       error
}

func (e *ScopeNotFoundError) Error() string {
	return fmt.Sprintf("project %s not found", e.ProjectID)
}

func (e *ScopeNotFoundError) Is(target error) bool {
	return target == ErrScopeNotFound
}

func (e *ScopeNotFoundError) Unwrap() error {
	return e.Err
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateRule checks a rule definition before it is stored or loaded.
// Condition and action payloads are already validated by their parsers;
// this checks the definition around them.
func ValidateRule(r *Rule) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule %s: name cannot be empty", ErrInvalidRule, r.ID)
	}
	if _, err := ParseSource(string(r.Source)); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}
	switch {
	case r.Source == SourceFirm && r.SourceID != "":
		return fmt.Errorf("%w: rule %s: FIRM rules cannot have a source id", ErrInvalidRule, r.ID)
	case r.Source != SourceFirm && r.SourceID == "":
		return fmt.Errorf("%w: rule %s: %s rules need a source id", ErrInvalidRule, r.ID, r.Source)
	}
	if r.Priority < 0 {
		return fmt.Errorf("%w: rule %s: priority %d is negative", ErrInvalidRule, r.ID, r.Priority)
	}
	if _, err := ParseActionType(string(r.ActionType)); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}
	if r.Action == nil {
		return fmt.Errorf("%w: rule %s: action payload is missing", ErrInvalidRule, r.ID)
	}
	if r.Action.Type() != r.ActionType {
		return fmt.Errorf("%w: rule %s: action type %s does not match %s payload",
			ErrInvalidRule, r.ID, r.ActionType, r.Action.Type())
	}
	if r.Condition == nil {
		return fmt.Errorf("%w: rule %s: condition is missing", ErrInvalidRule, r.ID)
	}
	if r.OverridesRuleID == r.ID {
		return fmt.Errorf("%w: rule %s cannot override itself", ErrInvalidRule, r.ID)
	}
	for _, id := range r.ConflictsWith {
		if id == r.ID {
			return fmt.Errorf("%w: rule %s cannot conflict with itself", ErrInvalidRule, r.ID)
		}
	}
	return nil
}

// validatePropertyName checks a property name written or read by an action.
// Property names are exposed to CEL conditions as entity.properties.<name>,
// so they follow CEL identifier rules.
func validatePropertyName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

var reservedKeywords = map[string]bool{
	"true": true, "false": true, "null": true,
	"if": true, "else": true, "for": true, "while": true, "break": true, "continue": true, "return": true,
	"var": true, "let": true, "const": true, "function": true,
	"in": true, "as": true, "import": true, "package": true, "namespace": true, "loop": true, "void": true,
}

func isReservedKeyword(name string) bool {
	return reservedKeywords[name]
}
