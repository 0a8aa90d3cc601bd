package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestOutcomeClassification(t *testing.T) {
	tests := []struct {
		outcome    Outcome
		validation bool
		changed    bool
	}{
		{OutcomeCreated, false, true},
		{OutcomeUpdated, false, true},
		{OutcomeLinked, false, true},
		{OutcomeSkipped, false, false},
		{OutcomeError, false, false},
		{OutcomeValidationPass, true, false},
		{OutcomeValidationWarn, true, false},
		{OutcomeValidationFail, true, false},
	}
	for _, tt := range tests {
		if got := tt.outcome.IsValidation(); got != tt.validation {
			t.Errorf("%s.IsValidation() = %v, want %v", tt.outcome, got, tt.validation)
		}
		if got := tt.outcome.Changed(); got != tt.changed {
			t.Errorf("%s.Changed() = %v, want %v", tt.outcome, got, tt.changed)
		}
	}
}

func TestMemoryStoreAppendAndList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &Record{ProjectID: "p1", RunID: "run-1", RuleID: "r1", Outcome: OutcomeCreated, Timestamp: base}
	second := &Record{ProjectID: "p1", RunID: "run-1", RuleID: "r2", Outcome: OutcomeSkipped, Timestamp: base.Add(time.Second)}
	other := &Record{ProjectID: "p2", RunID: "run-2", RuleID: "r3", Outcome: OutcomeError, Timestamp: base}

	if err := store.Append(ctx, first, second, other); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("Append() should assign distinct ids, got %q and %q", first.ID, second.ID)
	}

	byProject, err := store.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByProject() failed: %v", err)
	}
	if len(byProject) != 2 || byProject[0].RuleID != "r2" || byProject[1].RuleID != "r1" {
		t.Errorf("ListByProject() should return newest first, got %+v", byProject)
	}

	byRun, _ := store.ListByRun(ctx, "run-1")
	if len(byRun) != 2 || byRun[0].RuleID != "r1" {
		t.Errorf("ListByRun() should keep append order, got %+v", byRun)
	}

	// Stored records are copies.
	first.Outcome = OutcomeError
	byRun, _ = store.ListByRun(ctx, "run-1")
	if byRun[0].Outcome != OutcomeCreated {
		t.Error("mutating an appended record should not change the store")
	}
}

func TestMemoryStoreConcurrentAppend(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Append(ctx, &Record{ProjectID: "p", Outcome: OutcomeSkipped})
		}()
	}
	wg.Wait()

	if store.Len() != 50 {
		t.Errorf("expected 50 records, got %d", store.Len())
	}
}
