package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/assetrules/audit"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRecords() []*audit.Record {
	return []*audit.Record{
		{ID: "1", RuleID: "eff", RuleName: "Pump efficiency", EntityID: "e1", EntityTag: "P-101",
			Outcome: audit.OutcomeValidationWarn, Message: "efficiency = 75 is outside [80, 95]",
			Detail: map[string]any{"property": "efficiency", "actual": "75"}, Timestamp: base},
		{ID: "2", RuleID: "type", EntityID: "e2",
			Outcome: audit.OutcomeValidationFail, Message: "pump_type is missing", Timestamp: base.Add(time.Minute)},
		{ID: "3", RuleID: "type", RuleName: "Pump type", EntityID: "e1", EntityTag: "P-101",
			Outcome: audit.OutcomeValidationPass, Timestamp: base.Add(2 * time.Minute)},
		{ID: "4", RuleID: "cable", EntityID: "e1", Outcome: audit.OutcomeCreated, Timestamp: base.Add(3 * time.Minute)},
		{ID: "5", RuleID: "link", EntityID: "e1", Outcome: audit.OutcomeError, Timestamp: base.Add(4 * time.Minute)},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRecords())
	assert.Equal(t, Summary{Errors: 1, Warnings: 1, Passed: 1, TotalIssues: 2}, s)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestDetails(t *testing.T) {
	issues := Details(sampleRecords())
	require.Len(t, issues, 2)

	// Newest first.
	assert.Equal(t, "2", issues[0].RecordID)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, UnknownEntity, issues[0].EntityTag)
	assert.Equal(t, UnknownRule, issues[0].RuleName)

	assert.Equal(t, "1", issues[1].RecordID)
	assert.Equal(t, SeverityWarning, issues[1].Severity)
	assert.Equal(t, "P-101", issues[1].EntityTag)
	assert.Equal(t, "Pump efficiency", issues[1].RuleName)
	assert.Equal(t, "efficiency", issues[1].Property)
	assert.Equal(t, "75", issues[1].Actual)
	assert.Contains(t, issues[1].Message, "75")
}

func TestDetailsEmpty(t *testing.T) {
	issues := Details(nil)
	assert.NotNil(t, issues)
	assert.Empty(t, issues)
}

func TestOnlyValidations(t *testing.T) {
	got := OnlyValidations(sampleRecords())
	require.Len(t, got, 3)
	for _, r := range got {
		assert.True(t, r.Outcome.IsValidation(), "unexpected outcome %s", r.Outcome)
	}
}
