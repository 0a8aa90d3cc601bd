package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/assetrules/audit"
	"github.com/liamcoop/assetrules/graph"
	"github.com/liamcoop/assetrules/internal/logger"
)

// Rollback undoes what a record created. For CREATED records every edge
// touching the created entity is deleted before the entity itself; for
// LINKED records the edge is deleted. Rolling back twice is not an error.
func (x *Executor) Rollback(ctx context.Context, rec *audit.Record) error {
	switch {
	case rec.Outcome == audit.OutcomeCreated && rec.CreatedEntityID != "":
		edges, err := x.edges.EdgesOf(ctx, rec.CreatedEntityID)
		if err != nil {
			return fmt.Errorf("failed to list edges of %s: %w", rec.CreatedEntityID, err)
		}
		for _, e := range edges {
			if err := x.edges.DeleteEdge(ctx, e.ID); err != nil && !errors.Is(err, graph.ErrNotFound) {
				return fmt.Errorf("failed to delete edge %s: %w", e.ID, err)
			}
		}
		if err := x.entities.DeleteEntity(ctx, rec.CreatedEntityID); err != nil && !errors.Is(err, graph.ErrNotFound) {
			return fmt.Errorf("failed to delete entity %s: %w", rec.CreatedEntityID, err)
		}
		logger.Info("rolled back created entity",
			"rule_id", rec.RuleID,
			"entity_id", rec.CreatedEntityID,
			"edges", len(edges))
		return nil

	case rec.Outcome == audit.OutcomeLinked && rec.CreatedEdgeID != "":
		if err := x.edges.DeleteEdge(ctx, rec.CreatedEdgeID); err != nil && !errors.Is(err, graph.ErrNotFound) {
			return fmt.Errorf("failed to delete edge %s: %w", rec.CreatedEdgeID, err)
		}
		logger.Info("rolled back link", "rule_id", rec.RuleID, "edge_id", rec.CreatedEdgeID)
		return nil
	}
	return fmt.Errorf("%w: %s record %s", ErrNotReversible, rec.Outcome, rec.ID)
}
