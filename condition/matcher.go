package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/logger"
)

// celCostLimit bounds the work a single CEL condition may do.
const celCostLimit = 1000000

var sharedEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("entity", cel.DynType))
})

// CheckExpression compiles a CEL condition without evaluating it.
func CheckExpression(expr string) error {
	env, err := sharedEnv()
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if _, issues := env.Compile(expr); issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w: cel compile error: %v", ErrInvalidCondition, issues.Err())
	}
	return nil
}

// Matcher evaluates conditions against entities. Compiled CEL programs are
// cached by expression text. Safe for concurrent use.
type Matcher struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewMatcher creates a matcher with the CEL environment used by every condition.
func NewMatcher() (*Matcher, error) {
	env, err := sharedEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Matcher{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Matches reports whether the entity satisfies the condition. Evaluation
// errors are logged and count as a non-match.
func (m *Matcher) Matches(c *Condition, e *graph.Entity) bool {
	ok, err := m.Evaluate(c, e)
	if err != nil {
		logger.ConditionError("condition evaluation failed",
			"entity_id", e.ID,
			"condition", c.Signature(),
			"error", err)
		return false
	}
	return ok
}

// Evaluate reports whether the entity satisfies the condition. A field the
// entity does not have yields false with no error, also under not; an
// *EvaluationError is returned when the condition cannot be evaluated at all.
func (m *Matcher) Evaluate(c *Condition, e *graph.Entity) (bool, error) {
	t, err := m.eval(c, e)
	if err != nil {
		return false, err
	}
	return t == truthYes, nil
}

// truth is the result of evaluating a predicate. truthAbsent marks a subtree
// that depends on a field the entity does not have. It combines like SQL
// NULL: a false child decides all, a true child decides any, and negation
// keeps it absent.
type truth int

const (
	truthNo truth = iota
	truthYes
	truthAbsent
)

func truthOf(ok bool) truth {
	if ok {
		return truthYes
	}
	return truthNo
}

func (m *Matcher) eval(c *Condition, e *graph.Entity) (truth, error) {
	if c.IsAlways() {
		return truthYes, nil
	}
	switch c.Kind {
	case KindAll:
		result := truthYes
		for _, ch := range c.Children {
			t, err := m.eval(ch, e)
			if err != nil {
				return truthNo, err
			}
			if t == truthNo {
				return truthNo, nil
			}
			if t == truthAbsent {
				result = truthAbsent
			}
		}
		return result, nil
	case KindAny:
		result := truthNo
		for _, ch := range c.Children {
			t, err := m.eval(ch, e)
			if err != nil {
				return truthNo, err
			}
			if t == truthYes {
				return truthYes, nil
			}
			if t == truthAbsent {
				result = truthAbsent
			}
		}
		return result, nil
	case KindNot:
		t, err := m.eval(c.Children[0], e)
		if err != nil {
			return truthNo, err
		}
		switch t {
		case truthYes:
			return truthNo, nil
		case truthNo:
			return truthYes, nil
		}
		return truthAbsent, nil
	case KindCompare:
		actual, present := lookup(e, c.Field)
		if !present {
			return truthAbsent, nil
		}
		ok, err := compare(c.Field, c.Op, actual, c.Value)
		return truthOf(ok), err
	case KindIn:
		actual, present := lookup(e, c.Field)
		if !present {
			return truthAbsent, nil
		}
		for _, v := range c.Values {
			if graph.Equal(actual, v) {
				return truthYes, nil
			}
		}
		return truthNo, nil
	case KindRange:
		actual, present := lookup(e, c.Field)
		if !present {
			return truthAbsent, nil
		}
		f, ok := graph.Float(actual)
		if !ok {
			return truthNo, &EvaluationError{Field: c.Field, Operator: "range",
				Message: fmt.Sprintf("value %q is not numeric", graph.String(actual))}
		}
		if c.Min != nil && f < *c.Min {
			return truthNo, nil
		}
		if c.Max != nil && f > *c.Max {
			return truthNo, nil
		}
		return truthYes, nil
	case KindCEL:
		ok, err := m.evalCEL(c.Expression, e)
		return truthOf(ok), err
	default:
		return truthNo, &EvaluationError{Message: fmt.Sprintf("unknown condition kind %q", c.Kind)}
	}
}

func compare(field string, op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEq:
		return graph.Equal(actual, expected), nil
	case OpNe:
		return !graph.Equal(actual, expected), nil
	case OpContains:
		switch a := actual.(type) {
		case string:
			return strings.Contains(a, graph.String(expected)), nil
		case []any:
			for _, item := range a {
				if graph.Equal(item, expected) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, &EvaluationError{Field: field, Operator: string(op),
				Message: fmt.Sprintf("cannot search a %T", actual)}
		}
	case OpGt, OpGte, OpLt, OpLte:
		cmp, err := order(actual, expected)
		if err != nil {
			return false, &EvaluationError{Field: field, Operator: string(op), Err: err}
		}
		switch op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	}
	return false, &EvaluationError{Field: field, Operator: string(op), Message: "unsupported operator"}
}

// order compares numerically when both sides are numbers (or numeric
// strings) and lexically when both are non-numeric strings.
func order(a, b any) (int, error) {
	fa, okA := graph.Float(a)
	fb, okB := graph.Float(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("cannot order %q against %q", graph.String(a), graph.String(b))
}

func (m *Matcher) evalCEL(expr string, e *graph.Entity) (bool, error) {
	prog, err := m.program(expr)
	if err != nil {
		return false, &EvaluationError{Operator: "cel", Err: err}
	}
	out, _, err := prog.Eval(map[string]any{"entity": entityFacts(e)})
	if err != nil {
		return false, &EvaluationError{Operator: "cel", Message: expr, Err: err}
	}
	// Non-boolean results are a non-match.
	matched, _ := out.Value().(bool)
	return matched, nil
}

func (m *Matcher) program(expr string) (cel.Program, error) {
	m.mu.RLock()
	prog, ok := m.programs[expr]
	m.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := m.env.Program(ast,
		cel.CostLimit(celCostLimit),
		cel.EvalOptions(cel.OptTrackState),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	m.mu.Lock()
	m.programs[expr] = prog
	m.mu.Unlock()
	return prog, nil
}

// Compiled returns the number of cached CEL programs.
func (m *Matcher) Compiled() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.programs)
}
