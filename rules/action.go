package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/liamcoop/assetrules/graph"
)

// Action is the payload of a rule, one variant per ActionType.
type Action interface {
	Type() ActionType
	// Target names what the action writes to; rules with the same condition,
	// action type and target compete in conflict resolution.
	Target() string
	isAction()
}

// SetPropertyAction writes the given property values onto the entity.
type SetPropertyAction struct {
	Values map[string]any `validate:"required,min=1"`
}

// Sizing methods for CreateCableAction.
const (
	SizingAuto   = "Auto"
	SizingManual = "Manual"
)

// Directions for CreateRelationshipAction.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// CreateCableAction creates a CABLE entity feeding the source entity.
type CreateCableAction struct {
	CableTag         string  `json:"cable_tag"`
	CableType        string  `json:"cable_type" validate:"required"`
	SizingMethod     string  `json:"sizing_method" validate:"omitempty,oneof=Auto Manual"`
	Voltage          string  `json:"voltage"`
	LengthMeters     float64 `json:"length_meters" validate:"gte=0"`
	Insulation       string  `json:"insulation"`
	VoltageDropLimit float64 `json:"voltage_drop_limit" validate:"gte=0,lte=100"`
	// ConductorSize is used as-is by Manual sizing.
	ConductorSize string `json:"conductor_size"`
	// Properties are copied onto the created cable.
	Properties map[string]any `json:"properties"`
}

// CreateRelationshipAction links the source entity to another entity found by tag.
type CreateRelationshipAction struct {
	Relation  string `json:"relation" validate:"required"`
	TargetTag string `json:"target_tag" validate:"required"`
	Direction string `json:"direction" validate:"omitempty,oneof=outgoing incoming"`
}

// CreateChildAction creates an entity beneath the source entity.
type CreateChildAction struct {
	ChildType         string         `json:"type" validate:"required"`
	Naming            string         `json:"naming"`
	Relation          string         `json:"relation"`
	InheritProperties []string       `json:"inherit_properties" validate:"dive,required"`
	Properties        map[string]any `json:"properties"`
	Discipline        string         `json:"discipline"`
}

// Assertions for ValidateAction.
const (
	AssertInRange = "property_in_range"
	AssertEquals  = "property_equals"
)

// Severities for ValidateAction.
const (
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// ValidateAction checks a property value without changing anything.
type ValidateAction struct {
	Assertion string   `json:"assertion" validate:"required,oneof=property_in_range property_equals"`
	Property  string   `json:"property" validate:"required"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Value     any      `json:"value,omitempty"`
	// Severity overrides the outcome of a present but failing value.
	Severity string `json:"severity,omitempty" validate:"omitempty,oneof=WARNING ERROR"`
	// Message is an optional template with {tag} and {<property>} placeholders.
	Message string `json:"message,omitempty"`
}

func (SetPropertyAction) Type() ActionType        { return ActionSetProperty }
func (CreateCableAction) Type() ActionType        { return ActionCreateCable }
func (CreateRelationshipAction) Type() ActionType { return ActionCreateRelationship }
func (CreateChildAction) Type() ActionType        { return ActionCreateChild }
func (ValidateAction) Type() ActionType           { return ActionValidate }

func (SetPropertyAction) isAction()        {}
func (CreateCableAction) isAction()        {}
func (CreateRelationshipAction) isAction() {}
func (CreateChildAction) isAction()        {}
func (ValidateAction) isAction()           {}

func (a SetPropertyAction) Target() string {
	return strings.Join(a.Keys(), ",")
}

// Keys returns the property names written, sorted.
func (a SetPropertyAction) Keys() []string {
	keys := make([]string, 0, len(a.Values))
	for k := range a.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a CreateCableAction) Target() string { return a.CableType }

func (a CreateRelationshipAction) Target() string { return a.Relation + "->" + a.TargetTag }

func (a CreateChildAction) Target() string { return a.ChildType }

func (a ValidateAction) Target() string { return a.Assertion + ":" + a.Property }

// Defaults applied by the executor when a payload leaves them empty.
const (
	DefaultCableTag      = "{tag}-CBL"
	DefaultInsulation    = "RW90 XLPE"
	DefaultChildNaming   = "{parent_tag}-{type}"
	DefaultChildRelation = "related_to"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateAssertion, ValidateAction{})
	return v
}

// validateAssertion checks the fields each assertion needs.
func validateAssertion(sl validator.StructLevel) {
	a := sl.Current().Interface().(ValidateAction)
	switch a.Assertion {
	case AssertInRange:
		if a.Min == nil && a.Max == nil {
			sl.ReportError(a.Min, "Min", "min", "required_without", "Max")
		}
		if a.Min != nil && a.Max != nil && *a.Min > *a.Max {
			sl.ReportError(a.Min, "Min", "min", "ltefield", "Max")
		}
	case AssertEquals:
		if a.Value == nil {
			sl.ReportError(a.Value, "Value", "value", "required", "")
		}
	}
}

// ParseAction decodes and validates the payload of a rule. The payload is
// either wrapped in its envelope ({"set_property": {...}}) or given bare.
func ParseAction(actionType ActionType, raw map[string]any) (Action, error) {
	payload := raw
	if inner, ok := raw[actionType.payloadKey()]; ok {
		if len(raw) != 1 {
			return nil, fmt.Errorf("%w: %s envelope has extra keys", ErrInvalidRule, actionType.payloadKey())
		}
		m, ok := inner.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s payload must be an object", ErrInvalidRule, actionType.payloadKey())
		}
		payload = m
	} else {
		for _, other := range ActionTypes {
			if _, ok := raw[other.payloadKey()]; ok {
				return nil, fmt.Errorf("%w: action type %s has a %s payload", ErrInvalidRule, actionType, other.payloadKey())
			}
		}
	}

	var action Action
	switch actionType {
	case ActionSetProperty:
		a := SetPropertyAction{Values: make(map[string]any, len(payload))}
		for k, v := range payload {
			a.Values[k] = v
		}
		action = a
	case ActionCreateCable:
		normalized := make(map[string]any, len(payload))
		for k, v := range payload {
			normalized[k] = v
		}
		// Voltage may be written as 600 or "600V".
		if v, ok := normalized["voltage"]; ok && v != nil {
			normalized["voltage"] = graph.String(v)
		}
		var a CreateCableAction
		if err := decodePayload(normalized, &a); err != nil {
			return nil, err
		}
		action = a
	case ActionCreateRelationship:
		var a CreateRelationshipAction
		if err := decodePayload(payload, &a); err != nil {
			return nil, err
		}
		action = a
	case ActionCreateChild:
		var a CreateChildAction
		if err := decodePayload(payload, &a); err != nil {
			return nil, err
		}
		action = a
	case ActionValidate:
		var a ValidateAction
		if err := decodePayload(payload, &a); err != nil {
			return nil, err
		}
		action = a
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, actionType)
	}

	if err := validateAction(action); err != nil {
		return nil, err
	}
	return action, nil
}

func decodePayload(payload map[string]any, dst any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid action payload: %v", ErrInvalidRule, err)
	}
	return nil
}

// validateAction runs struct-tag validation plus the property name checks
// shared by every variant.
func validateAction(a Action) error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidRule, a.Type().payloadKey(), err)
	}

	var names []string
	switch v := a.(type) {
	case SetPropertyAction:
		names = v.Keys()
	case CreateCableAction:
		for k := range v.Properties {
			names = append(names, k)
		}
	case CreateChildAction:
		names = append(names, v.InheritProperties...)
		for k := range v.Properties {
			names = append(names, k)
		}
	case ValidateAction:
		names = []string{v.Property}
	}
	for _, n := range names {
		if err := validatePropertyName(n); err != nil {
			return fmt.Errorf("%w: property %q: %v", ErrInvalidRule, n, err)
		}
	}
	return nil
}

// MarshalAction encodes an action in its envelope form.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	var payload any = a
	if sp, ok := a.(SetPropertyAction); ok {
		payload = sp.Values
	}
	return json.Marshal(map[string]any{a.Type().payloadKey(): payload})
}
