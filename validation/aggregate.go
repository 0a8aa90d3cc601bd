// Package validation aggregates VALIDATE execution records into summaries
// and issue lists.
package validation

import (
	"sort"
	"time"

	"github.com/liamcoop/assetrules/audit"
)

// Severity of a reported issue.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Fallbacks used when a record does not carry the entity tag or rule name.
const (
	UnknownEntity = "Unknown"
	UnknownRule   = "Unknown Rule"
)

// Summary counts validation outcomes. Records from other action types are ignored.
type Summary struct {
	Errors      int `json:"errors"`
	Warnings    int `json:"warnings"`
	Passed      int `json:"passed"`
	TotalIssues int `json:"total_issues"`
}

// IssueView is one failed or warning validation, ready for display.
type IssueView struct {
	RecordID  string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	EntityID  string    `json:"entity_id"`
	EntityTag string    `json:"entity_tag"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Property  string    `json:"property,omitempty"`
	Actual    any       `json:"actual,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Summarize counts errors, warnings and passes.
func Summarize(records []*audit.Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Outcome {
		case audit.OutcomeValidationFail:
			s.Errors++
		case audit.OutcomeValidationWarn:
			s.Warnings++
		case audit.OutcomeValidationPass:
			s.Passed++
		}
	}
	s.TotalIssues = s.Errors + s.Warnings
	return s
}

// Details lists the issues, newest first. Records with equal timestamps keep
// their input order.
func Details(records []*audit.Record) []IssueView {
	out := make([]IssueView, 0)
	for _, r := range records {
		var sev Severity
		switch r.Outcome {
		case audit.OutcomeValidationFail:
			sev = SeverityError
		case audit.OutcomeValidationWarn:
			sev = SeverityWarning
		default:
			continue
		}
		v := IssueView{
			RecordID:  r.ID,
			RuleID:    r.RuleID,
			RuleName:  fallback(r.RuleName, UnknownRule),
			EntityID:  r.EntityID,
			EntityTag: fallback(r.EntityTag, UnknownEntity),
			Severity:  sev,
			Message:   r.Message,
			Timestamp: r.Timestamp,
		}
		if p, ok := r.Detail["property"].(string); ok {
			v.Property = p
		}
		v.Actual = r.Detail["actual"]
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// OnlyValidations returns the records produced by VALIDATE actions.
func OnlyValidations(records []*audit.Record) []*audit.Record {
	var out []*audit.Record
	for _, r := range records {
		if r.Outcome.IsValidation() {
			out = append(out, r)
		}
	}
	return out
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
