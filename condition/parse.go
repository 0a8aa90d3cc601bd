package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/liamcoop/assetrules/graph"
)

// ErrInvalidCondition is wrapped by every parse failure.
var ErrInvalidCondition = errors.New("invalid condition")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCondition, fmt.Sprintf(format, args...))
}

// ParseJSON parses a JSON-encoded condition. Empty input and "null" yield a
// condition that always matches.
func ParseJSON(data []byte) (*Condition, error) {
	if len(data) == 0 {
		return Always(), nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return Parse(raw)
}

// Parse builds a predicate tree from decoded rule data. Three shapes are
// accepted:
//
//	{"asset_type": "PUMP", "property_filters": [{"key": "hp", "op": ">", "value": 50}]}
//	{"all": [{"field": "type", "op": "eq", "value": "PUMP"}, {"field": "hp", "range": {"min": 5}}]}
//	{"cel": "entity.type == 'PUMP'"}
//
// CEL expressions are compiled here so that a malformed rule is rejected
// when it is loaded rather than when it is first evaluated.
func Parse(raw any) (*Condition, error) {
	if raw == nil {
		return Always(), nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid("expected an object, got %T", raw)
	}
	return parseObject(m)
}

func parseObject(m map[string]any) (*Condition, error) {
	if len(m) == 0 {
		return Always(), nil
	}

	for _, key := range []string{"cel", "all", "any", "not"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		if len(m) != 1 {
			return nil, invalid("%q must be the only key of its object", key)
		}
		switch key {
		case "cel":
			expr, ok := v.(string)
			if !ok || expr == "" {
				return nil, invalid("cel must be a non-empty string")
			}
			if err := CheckExpression(expr); err != nil {
				return nil, err
			}
			return &Condition{Kind: KindCEL, Expression: expr}, nil
		case "all", "any":
			children, err := parseList(key, v)
			if err != nil {
				return nil, err
			}
			return &Condition{Kind: Kind(key), Children: children}, nil
		case "not":
			inner, ok := v.(map[string]any)
			if !ok {
				return nil, invalid("not expects an object, got %T", v)
			}
			child, err := parseObject(inner)
			if err != nil {
				return nil, err
			}
			return &Condition{Kind: KindNot, Children: []*Condition{child}}, nil
		}
	}

	if _, ok := m["field"]; ok {
		return parseFieldNode(m)
	}
	return parseLegacy(m)
}

func parseList(key string, v any) ([]*Condition, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, invalid("%s expects a list, got %T", key, v)
	}
	children := make([]*Condition, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, invalid("%s[%d] must be an object", key, i)
		}
		child, err := parseObject(obj)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		children = append(children, child)
	}
	return children, nil
}

// parseFieldNode handles {field, op, value}, {field, in: [...]} and
// {field, range: {min, max}}.
func parseFieldNode(m map[string]any) (*Condition, error) {
	field, ok := m["field"].(string)
	if !ok || field == "" {
		return nil, invalid("field must be a non-empty string")
	}
	if v, ok := m["in"]; ok {
		return membership(field, v)
	}
	if v, ok := m["range"]; ok {
		r, ok := v.(map[string]any)
		if !ok {
			return nil, invalid("range on %q expects an object", field)
		}
		return numericRange(field, r["min"], r["max"])
	}

	op, _ := m["op"].(string)
	if op == "" {
		op, _ = m["operator"].(string)
	}
	if op == "" {
		op = "eq"
	}
	value, ok := m["value"]
	if !ok {
		return nil, invalid("comparison on %q has no value", field)
	}
	return comparison(field, op, value)
}

// parseLegacy handles the flat dictionary form: type selectors, a list of
// property filters, and any other key as an equality (or membership when the
// value is a list) on that attribute.
func parseLegacy(m map[string]any) (*Condition, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var children []*Condition
	for _, key := range keys {
		v := m[key]
		if key == "property_filters" {
			filters, err := parsePropertyFilters(v)
			if err != nil {
				return nil, err
			}
			children = append(children, filters...)
			continue
		}

		switch val := v.(type) {
		case []any:
			c, err := membership(key, val)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		case map[string]any:
			c, err := parseShorthand(key, val)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		case nil:
			return nil, invalid("%q has a null value", key)
		default:
			children = append(children, Eq(key, val))
		}
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return All(children...), nil
}

// parseShorthand handles {"hp": {"op": ">", "value": 50}} and
// {"hp": {"min": 5, "max": 50}}.
func parseShorthand(field string, m map[string]any) (*Condition, error) {
	_, hasMin := m["min"]
	_, hasMax := m["max"]
	if hasMin || hasMax {
		return numericRange(field, m["min"], m["max"])
	}
	if v, ok := m["in"]; ok {
		return membership(field, v)
	}
	op, _ := m["op"].(string)
	if op == "" {
		return nil, invalid("%q: expected op/value, min/max or in", field)
	}
	return comparison(field, op, m["value"])
}

func parsePropertyFilters(v any) ([]*Condition, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, invalid("property_filters expects a list, got %T", v)
	}
	out := make([]*Condition, 0, len(items))
	for i, item := range items {
		f, ok := item.(map[string]any)
		if !ok {
			return nil, invalid("property_filters[%d] must be an object", i)
		}
		key, _ := f["key"].(string)
		if key == "" {
			key, _ = f["property"].(string)
		}
		if key == "" {
			return nil, invalid("property_filters[%d] has no key", i)
		}
		op, _ := f["op"].(string)
		if op == "" {
			op, _ = f["operator"].(string)
		}
		if op == "" {
			op = "=="
		}
		c, err := comparison(propertyPrefix+key, op, f["value"])
		if err != nil {
			return nil, fmt.Errorf("property_filters[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func comparison(field, op string, value any) (*Condition, error) {
	if op == "in" {
		return membership(field, value)
	}
	o, err := ParseOperator(op)
	if err != nil {
		return nil, invalid("%q: %v", field, err)
	}
	if value == nil {
		return nil, invalid("comparison on %q has a null value", field)
	}
	if _, isList := value.([]any); isList && o != OpEq && o != OpNe {
		return nil, invalid("operator %s on %q does not take a list", o, field)
	}
	return &Condition{Kind: KindCompare, Field: field, Op: o, Value: value}, nil
}

func membership(field string, v any) (*Condition, error) {
	vals, ok := v.([]any)
	if !ok {
		return nil, invalid("in on %q expects a list, got %T", field, v)
	}
	if len(vals) == 0 {
		return nil, invalid("in on %q has an empty list", field)
	}
	return &Condition{Kind: KindIn, Field: field, Values: vals}, nil
}

func numericRange(field string, lo, hi any) (*Condition, error) {
	c := &Condition{Kind: KindRange, Field: field}
	if lo != nil {
		f, ok := graph.Float(lo)
		if !ok {
			return nil, invalid("range min on %q is not a number", field)
		}
		c.Min = &f
	}
	if hi != nil {
		f, ok := graph.Float(hi)
		if !ok {
			return nil, invalid("range max on %q is not a number", field)
		}
		c.Max = &f
	}
	if c.Min == nil && c.Max == nil {
		return nil, invalid("range on %q needs min or max", field)
	}
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return nil, invalid("range on %q has min greater than max", field)
	}
	return c, nil
}

// MarshalJSON renders the condition in tree form. ParseJSON reads it back.
func (c *Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.tree())
}

// UnmarshalJSON implements json.Unmarshaler using ParseJSON.
func (c *Condition) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

func (c *Condition) tree() map[string]any {
	if c.IsAlways() {
		return map[string]any{}
	}
	switch c.Kind {
	case KindAll, KindAny:
		children := make([]any, len(c.Children))
		for i, ch := range c.Children {
			children[i] = ch.tree()
		}
		return map[string]any{string(c.Kind): children}
	case KindNot:
		return map[string]any{"not": c.Children[0].tree()}
	case KindCompare:
		return map[string]any{"field": c.Field, "op": string(c.Op), "value": c.Value}
	case KindIn:
		return map[string]any{"field": c.Field, "in": c.Values}
	case KindRange:
		r := map[string]any{}
		if c.Min != nil {
			r["min"] = *c.Min
		}
		if c.Max != nil {
			r["max"] = *c.Max
		}
		return map[string]any{"field": c.Field, "range": r}
	case KindCEL:
		return map[string]any{"cel": c.Expression}
	}
	return map[string]any{}
}
