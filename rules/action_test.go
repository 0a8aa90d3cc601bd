package rules

import (
	"errors"
	"strings"
	"testing"
)

func TestParseActionVariants(t *testing.T) {
	tests := []struct {
		at     ActionType
		raw    map[string]any
		target string
	}{
		{ActionSetProperty, map[string]any{"set_property": map[string]any{"voltage": "600V", "phases": 3}}, "phases,voltage"},
		{ActionCreateCable, map[string]any{"create_cable": map[string]any{
			"cable_tag": "{tag}-PWR", "cable_type": "POWER", "sizing_method": "Auto",
			"voltage": 600, "length_meters": 75.0,
		}}, "POWER"},
		{ActionCreateRelationship, map[string]any{"create_relationship": map[string]any{
			"relation": "fed_from", "target_tag": "MCC-1", "direction": "outgoing",
		}}, "fed_from->MCC-1"},
		{ActionCreateChild, map[string]any{"create_child": map[string]any{
			"type": "MOTOR", "inherit_properties": []any{"hp"},
		}}, "MOTOR"},
		{ActionValidate, map[string]any{"validate": map[string]any{
			"assertion": "property_in_range", "property": "efficiency", "min": 80, "max": 95,
		}}, "property_in_range:efficiency"},
		// Bare payload without the envelope.
		{ActionValidate, map[string]any{"assertion": "property_equals", "property": "pump_type", "value": "centrifugal"},
			"property_equals:pump_type"},
	}

	for _, tt := range tests {
		a, err := ParseAction(tt.at, tt.raw)
		if err != nil {
			t.Errorf("ParseAction(%s) failed: %v", tt.at, err)
			continue
		}
		if a.Type() != tt.at {
			t.Errorf("Type() = %s, want %s", a.Type(), tt.at)
		}
		if a.Target() != tt.target {
			t.Errorf("Target() = %q, want %q", a.Target(), tt.target)
		}
	}
}

func TestParseActionNormalizesVoltage(t *testing.T) {
	a, err := ParseAction(ActionCreateCable, map[string]any{"create_cable": map[string]any{
		"cable_type": "POWER", "voltage": 600,
	}})
	if err != nil {
		t.Fatalf("ParseAction() failed: %v", err)
	}
	if v := a.(CreateCableAction).Voltage; v != "600" {
		t.Errorf("Voltage = %q, want \"600\"", v)
	}
}

func TestParseActionRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		at   ActionType
		raw  map[string]any
		msg  string
	}{
		{"empty set_property", ActionSetProperty, map[string]any{"set_property": map[string]any{}}, "Values"},
		{"bad property name", ActionSetProperty, map[string]any{"set_property": map[string]any{"rated-voltage": 1}}, "rated-voltage"},
		{"reserved property name", ActionSetProperty, map[string]any{"set_property": map[string]any{"in": 1}}, "reserved"},
		{"cable without type", ActionCreateCable, map[string]any{"create_cable": map[string]any{"cable_tag": "{tag}"}}, "CableType"},
		{"bad sizing method", ActionCreateCable, map[string]any{"create_cable": map[string]any{
			"cable_type": "POWER", "sizing_method": "Guess"}}, "SizingMethod"},
		{"negative length", ActionCreateCable, map[string]any{"create_cable": map[string]any{
			"cable_type": "POWER", "length_meters": -5}}, "LengthMeters"},
		{"unknown payload field", ActionCreateCable, map[string]any{"create_cable": map[string]any{
			"cable_type": "POWER", "colour": "red"}}, "colour"},
		{"bad direction", ActionCreateRelationship, map[string]any{"create_relationship": map[string]any{
			"relation": "fed_from", "target_tag": "MCC-1", "direction": "sideways"}}, "Direction"},
		{"range without bounds", ActionValidate, map[string]any{"validate": map[string]any{
			"assertion": "property_in_range", "property": "efficiency"}}, "Min"},
		{"inverted range", ActionValidate, map[string]any{"validate": map[string]any{
			"assertion": "property_in_range", "property": "efficiency", "min": 95, "max": 80}}, "Min"},
		{"equals without value", ActionValidate, map[string]any{"validate": map[string]any{
			"assertion": "property_equals", "property": "pump_type"}}, "Value"},
		{"unknown assertion", ActionValidate, map[string]any{"validate": map[string]any{
			"assertion": "property_matches", "property": "pump_type"}}, "Assertion"},
		{"mismatched envelope", ActionValidate, map[string]any{"set_property": map[string]any{"a": 1}}, "set_property"},
		{"envelope with extra keys", ActionSetProperty, map[string]any{"set_property": map[string]any{"a": 1}, "b": 2}, "extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAction(tt.at, tt.raw)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("error should wrap ErrInvalidRule: %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q should mention %q", err, tt.msg)
			}
		})
	}
}

func TestMarshalActionEnvelope(t *testing.T) {
	a, _ := ParseAction(ActionSetProperty, map[string]any{"voltage": "600V"})
	data, err := MarshalAction(a)
	if err != nil {
		t.Fatalf("MarshalAction() failed: %v", err)
	}
	if string(data) != `{"set_property":{"voltage":"600V"}}` {
		t.Errorf("MarshalAction() = %s", data)
	}
}

func TestValidateRule(t *testing.T) {
	valid := func() *Rule {
		return setPropertyRule(t, "r1", 10, map[string]any{"voltage": "600V"})
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
		msg    string
	}{
		{"empty id", func(r *Rule) { r.ID = " " }, "id"},
		{"empty name", func(r *Rule) { r.Name = "" }, "name"},
		{"unknown source", func(r *Rule) { r.Source = "REGION" }, "REGION"},
		{"firm with source id", func(r *Rule) { r.SourceID = "CA" }, "FIRM"},
		{"project without source id", func(r *Rule) { r.Source = SourceProject }, "source id"},
		{"negative priority", func(r *Rule) { r.Priority = -1 }, "negative"},
		{"action type mismatch", func(r *Rule) { r.ActionType = ActionValidate }, "does not match"},
		{"missing action", func(r *Rule) { r.Action = nil }, "missing"},
		{"missing condition", func(r *Rule) { r.Condition = nil }, "condition"},
		{"self override", func(r *Rule) { r.OverridesRuleID = "r1" }, "itself"},
		{"self conflict", func(r *Rule) { r.ConflictsWith = []string{"r1"} }, "itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := ValidateRule(r)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("error should wrap ErrInvalidRule: %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q should mention %q", err, tt.msg)
			}
		})
	}
}
