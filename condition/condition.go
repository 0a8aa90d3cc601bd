// Package condition models rule conditions as a small predicate tree and
// evaluates them against graph entities.
package condition

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/liamcoop/assetrules/graph"
)

// Kind tags a node of the predicate tree.
type Kind string

const (
	KindAll     Kind = "all"
	KindAny     Kind = "any"
	KindNot     Kind = "not"
	KindCompare Kind = "compare"
	KindIn      Kind = "in"
	KindRange   Kind = "range"
	KindCEL     Kind = "cel"
)

// Operator is a comparison used by KindCompare nodes.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

var operatorAliases = map[string]Operator{
	"==": OpEq, "=": OpEq, "eq": OpEq, "equals": OpEq,
	"!=": OpNe, "ne": OpNe, "not_equals": OpNe,
	">": OpGt, "gt": OpGt,
	">=": OpGte, "gte": OpGte,
	"<": OpLt, "lt": OpLt,
	"<=": OpLte, "lte": OpLte,
	"contains": OpContains,
}

// ParseOperator normalizes symbolic and named operators.
func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// Condition is one node of a predicate tree. Which fields are meaningful
// depends on Kind:
//
//	all, any   Children
//	not        Children[0]
//	compare    Field, Op, Value
//	in         Field, Values
//	range      Field, Min and/or Max
//	cel        Expression
//
// An all node without children matches every entity.
type Condition struct {
	Kind       Kind
	Field      string
	Op         Operator
	Value      any
	Values     []any
	Min        *float64
	Max        *float64
	Expression string
	Children   []*Condition
}

// Always returns a condition that matches every entity.
func Always() *Condition {
	return &Condition{Kind: KindAll}
}

// Eq returns a field equality condition.
func Eq(field string, value any) *Condition {
	return &Condition{Kind: KindCompare, Field: field, Op: OpEq, Value: value}
}

// All combines conditions conjunctively.
func All(children ...*Condition) *Condition {
	return &Condition{Kind: KindAll, Children: children}
}

// Any combines conditions disjunctively.
func Any(children ...*Condition) *Condition {
	return &Condition{Kind: KindAny, Children: children}
}

// IsAlways reports whether the condition trivially matches everything.
func (c *Condition) IsAlways() bool {
	return c == nil || (c.Kind == KindAll && len(c.Children) == 0)
}

// Signature returns a canonical rendering of the condition. Two conditions
// with the same signature select the same entities; child order inside
// all/any and value order inside in do not affect it.
func (c *Condition) Signature() string {
	if c.IsAlways() {
		return "*"
	}
	switch c.Kind {
	case KindAll, KindAny:
		parts := make([]string, len(c.Children))
		for i, ch := range c.Children {
			parts[i] = ch.Signature()
		}
		sort.Strings(parts)
		return string(c.Kind) + "(" + strings.Join(parts, ",") + ")"
	case KindNot:
		return "not(" + c.Children[0].Signature() + ")"
	case KindCompare:
		return fmt.Sprintf("%s %s %s", canonicalField(c.Field), c.Op, strconv.Quote(graph.String(c.Value)))
	case KindIn:
		vals := make([]string, len(c.Values))
		for i, v := range c.Values {
			vals[i] = strconv.Quote(graph.String(v))
		}
		sort.Strings(vals)
		return canonicalField(c.Field) + " in [" + strings.Join(vals, ",") + "]"
	case KindRange:
		return fmt.Sprintf("%s in range[%s,%s]", canonicalField(c.Field), bound(c.Min), bound(c.Max))
	case KindCEL:
		return "cel(" + strings.TrimSpace(c.Expression) + ")"
	default:
		return string(c.Kind)
	}
}

func bound(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// String implements fmt.Stringer.
func (c *Condition) String() string {
	return c.Signature()
}

// EvaluationError reports a condition that could not be evaluated, such as
// an ordering comparison between a number and a non-numeric string. Callers
// treat it as a non-match.
type EvaluationError struct {
	Field    string
	Operator string
	Message  string
	Err      error
}

func (e *EvaluationError) Error() string {
	msg := "condition evaluation failed"
	if e.Field != "" {
		msg += fmt.Sprintf(" on field %q", e.Field)
	}
	if e.Operator != "" {
		msg += fmt.Sprintf(" with operator %s", e.Operator)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
