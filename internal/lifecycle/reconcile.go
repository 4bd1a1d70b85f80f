package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const reconcileBatch = 100

// ReconcileStats counts the writes replayed by one Reconcile pass.
type ReconcileStats struct {
	Approvals int
	Matured   int
}

// Reconcile replays lifecycle writes that a crash or failed request left behind:
// approved submissions without fruit, and leaves past the maturation threshold
// without fruit. Every replay is idempotent.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var st ReconcileStats

	approved, err := e.db.ApprovedSubmissionsWithoutFruit(ctx, reconcileBatch)
	if err != nil {
		return st, err
	}
	for i := range approved {
		leaf := &approved[i]
		ok, err := e.replayApproval(ctx, leaf)
		if err != nil {
			return st, fmt.Errorf("replay approval %s: %w", leaf.ID, err)
		}
		if ok {
			st.Approvals++
		}
	}

	ready, err := e.db.LeavesReadyToMature(ctx, e.MaturationThreshold(), reconcileBatch)
	if err != nil {
		return st, err
	}
	for i := range ready {
		fruit, err := e.mature(ctx, &ready[i])
		if err != nil {
			return st, fmt.Errorf("replay maturation %s: %w", ready[i].ID, err)
		}
		if fruit != nil {
			st.Matured++
		}
	}

	e.metrics.ReconcileReplayed("approval", st.Approvals)
	e.metrics.ReconcileReplayed("maturation", st.Matured)
	return st, nil
}

func (e *Engine) replayApproval(ctx context.Context, leaf *storage.Leaf) (bool, error) {
	title := leaf.Title
	if leaf.TreeID != "" {
		tree, err := e.db.GetTree(ctx, leaf.TreeID)
		if err != nil && !storage.IsNotFound(err) {
			return false, err
		}
		if tree != nil {
			title = tree.Title
		}
	}
	fruit := &storage.Fruit{
		ID:        uuid.NewString(),
		LeafID:    leaf.ID,
		TreeID:    leaf.TreeID,
		TerrainID: leaf.TerrainID,
		AgentID:   leaf.AgentID,
		Type:      storage.FruitSolution,
		Title:     leaf.Title,
		Content:   "Approved submission for: " + title,
		CreatedAt: *leaf.ApprovedAt,
	}
	grown, err := e.db.MatureLeaf(ctx, fruit, agent.CredibilityDelta(agent.EventFruitGrown))
	if grown {
		e.metrics.FruitGrown(fruit.Type)
	}
	return grown, err
}
