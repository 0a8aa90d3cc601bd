package executor

import (
	"fmt"
	"strconv"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/rules"
)

// validate applies an assertion to one property. A missing value always
// fails; a present value outside the assertion warns for ranges and fails
// for equality unless the payload sets a severity.
func (x *Executor) validate(a rules.ValidateAction, entity *graph.Entity, rec *audit.Record) error {
	value, present := entity.Property(a.Property)
	if present && (value == nil || graph.String(value) == "") {
		present = false
	}
	detail := map[string]any{
		"assertion": a.Assertion,
		"property":  a.Property,
		"actual":    value,
	}
	rec.Detail = detail

	var passed bool
	var failure audit.Outcome
	var msg string
	switch a.Assertion {
	case rules.AssertInRange:
		detail["min"], detail["max"] = deref(a.Min), deref(a.Max)
		failure = audit.OutcomeValidationWarn
		if !present {
			break
		}
		f, ok := graph.Float(value)
		if !ok {
			// A value that is not a number cannot be in range.
			failure = audit.OutcomeValidationFail
			msg = fmt.Sprintf("%s = %s is not numeric", a.Property, graph.String(value))
			break
		}
		passed = (a.Min == nil || f >= *a.Min) && (a.Max == nil || f <= *a.Max)
		if passed {
			msg = fmt.Sprintf("%s = %s is within %s", a.Property, graph.String(value), rangeText(a.Min, a.Max))
		} else {
			msg = fmt.Sprintf("%s = %s is outside %s", a.Property, graph.String(value), rangeText(a.Min, a.Max))
		}
	case rules.AssertEquals:
		detail["expected"] = a.Value
		failure = audit.OutcomeValidationFail
		if !present {
			break
		}
		passed = graph.Equal(value, a.Value)
		if passed {
			msg = fmt.Sprintf("%s = %s", a.Property, graph.String(value))
		} else {
			msg = fmt.Sprintf("%s = %s, expected %s", a.Property, graph.String(value), graph.String(a.Value))
		}
	default:
		return fmt.Errorf("unknown assertion %q", a.Assertion)
	}

	switch {
	case !present:
		rec.Outcome = audit.OutcomeValidationFail
		msg = fmt.Sprintf("%s is missing", a.Property)
	case passed:
		rec.Outcome = audit.OutcomeValidationPass
	case a.Severity == rules.SeverityError:
		rec.Outcome = audit.OutcomeValidationFail
	case a.Severity == rules.SeverityWarning:
		rec.Outcome = audit.OutcomeValidationWarn
	default:
		rec.Outcome = failure
	}

	switch rec.Outcome {
	case audit.OutcomeValidationFail:
		detail["severity"] = rules.SeverityError
	case audit.OutcomeValidationWarn:
		detail["severity"] = rules.SeverityWarning
	}

	rec.Message = msg
	if a.Message != "" && rec.Outcome != audit.OutcomeValidationPass {
		custom, err := Render(a.Message, entityVars(entity))
		if err != nil {
			return err
		}
		rec.Message = custom + " (" + msg + ")"
	}
	return nil
}

func deref(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func rangeText(lo, hi *float64) string {
	bound := func(f *float64, open string) string {
		if f == nil {
			return open
		}
		return strconv.FormatFloat(*f, 'f', -1, 64)
	}
	return "[" + bound(lo, "-inf") + ", " + bound(hi, "+inf") + "]"
}
