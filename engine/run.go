package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/executor"
	"github.com/liamcoop/assetrules/internal/logger"
	"github.com/liamcoop/assetrules/rules"
	"github.com/liamcoop/assetrules/validation"
)

// RunSummary describes one full project run.
type RunSummary struct {
	RunID            string                       `json:"run_id"`
	ProjectID        string                       `json:"project_id"`
	Rules            int                          `json:"rules"`
	Entities         int                          `json:"entities"`
	Executions       int                          `json:"executions"`
	ActionsTaken     int                          `json:"actions_taken"`
	Skipped          int                          `json:"skipped"`
	Errors           int                          `json:"errors"`
	ValidationIssues int                          `json:"validation_issues"`
	Violations       []rules.EnforcementViolation `json:"violations"`
	Duration         time.Duration                `json:"duration_ns"`
	Cancelled        bool                         `json:"cancelled,omitempty"`
}

// Run executes the project's rules against every entity that exists when
// the run starts. Entities created by the run are not evaluated by it.
func (e *Engine) Run(ctx context.Context, projectID string) (*RunSummary, error) {
	start := time.Now()
	res, err := e.LoadAndResolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	entities, err := e.graph.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities of %s: %w", projectID, err)
	}

	runID := uuid.NewString()
	logger.Info("run started",
		"project_id", projectID,
		"run_id", runID,
		"rules", len(res.ActiveRules),
		"entities", len(entities))

	records, execErr := e.execute(ctx, projectID, runID, res.ActiveRules, entities)

	summary := &RunSummary{
		RunID:      runID,
		ProjectID:  projectID,
		Rules:      len(res.ActiveRules),
		Entities:   len(entities),
		Executions: len(records),
		Violations: res.Violations,
		Cancelled:  errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded),
	}
	if summary.Violations == nil {
		summary.Violations = []rules.EnforcementViolation{}
	}
	for _, rec := range records {
		switch {
		case rec.Outcome.Changed():
			summary.ActionsTaken++
		case rec.Outcome == audit.OutcomeSkipped:
			summary.Skipped++
		case rec.Outcome == audit.OutcomeError:
			summary.Errors++
		}
	}
	v := validation.Summarize(records)
	summary.ValidationIssues = v.TotalIssues
	summary.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.RunDuration.Observe(summary.Duration.Seconds())
	}

	logger.Info("run finished",
		"project_id", projectID,
		"run_id", runID,
		"executions", summary.Executions,
		"actions_taken", summary.ActionsTaken,
		"errors", summary.Errors,
		"validation_issues", summary.ValidationIssues,
		"duration_ms", summary.Duration.Milliseconds())
	return summary, execErr
}

// Rollback undoes a CREATED or LINKED record.
func (e *Engine) Rollback(ctx context.Context, rec *audit.Record) error {
	return e.exec.Rollback(ctx, rec)
}

// RollbackRun undoes every reversible record of a run, most recent first,
// and returns how many were rolled back. Records that cannot be reversed
// are left alone.
func (e *Engine) RollbackRun(ctx context.Context, runID string) (int, error) {
	records, err := e.records.ListByRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to list records of run %s: %w", runID, err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	n := 0
	for _, rec := range slices.Backward(records) {
		if err := e.exec.Rollback(ctx, rec); err != nil {
			if errors.Is(err, executor.ErrNotReversible) {
				continue
			}
			return n, err
		}
		n++
	}
	logger.Info("run rolled back", "run_id", runID, "records", n)
	return n, nil
}

// FindRecord looks up a persisted record of a project by id.
func (e *Engine) FindRecord(ctx context.Context, projectID, recordID string) (*audit.Record, error) {
	records, err := e.records.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", projectID, err)
	}
	for _, rec := range records {
		if rec.ID == recordID {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record %s: %w", recordID, ErrRecordNotFound)
}

// ValidationReport is the validation summary and detail of a project.
type ValidationReport struct {
	Summary validation.Summary     `json:"summary"`
	Issues  []validation.IssueView `json:"issues"`
}

// Validation aggregates every persisted validation record of a project.
func (e *Engine) Validation(ctx context.Context, projectID string) (*ValidationReport, error) {
	records, err := e.records.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", projectID, err)
	}
	return &ValidationReport{
		Summary: validation.Summarize(records),
		Issues:  validation.Details(records),
	}, nil
}
