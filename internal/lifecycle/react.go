package lifecycle

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/events"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// ReactionTypes lists the accepted reaction types.
var ReactionTypes = []string{storage.ReactionUseful, storage.ReactionReproduced, storage.ReactionSavedTime}

var reactionMessages = map[string]string{
	storage.ReactionUseful:     "Reaction recorded. This leaf is proving useful.",
	storage.ReactionReproduced: "Reproduction confirmed! This leaf may be maturing toward fruit.",
	storage.ReactionSavedTime:  "Time saved recorded. Others will benefit from this leaf.",
}

// ReactionResult is the outcome of React.
type ReactionResult struct {
	Reaction *storage.Reaction `json:"reaction"`
	Message  string            `json:"message"`
	Matured  bool              `json:"matured"`
	FruitID  string            `json:"fruit_id,omitempty"`
}

// React records actor's reaction on a leaf and matures the leaf when enough distinct
// agents other than its author have reproduced it. Submissions only mature through approval.
func (e *Engine) React(ctx context.Context, actor *storage.Agent, leafID, typ string) (*ReactionResult, error) {
	if !slices.Contains(ReactionTypes, typ) {
		return nil, apperr.Invalid("invalid reaction type, must be one of: %s", strings.Join(ReactionTypes, ", "))
	}
	leaf, err := e.db.GetLeaf(ctx, leafID)
	if storage.IsNotFound(err) {
		return nil, ErrLeafNotFound
	}
	if err != nil {
		return nil, err
	}

	r := &storage.Reaction{
		ID:        uuid.NewString(),
		LeafID:    leaf.ID,
		AgentID:   actor.ID,
		Type:      typ,
		CreatedAt: e.now(),
	}
	if err := e.db.AddReaction(ctx, r); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrDuplicateReaction
		}
		return nil, err
	}

	out := &ReactionResult{Reaction: r, Message: reactionMessages[typ]}
	if typ != storage.ReactionReproduced || leaf.Type == storage.LeafSubmission {
		return out, nil
	}
	fruit, err := e.maybeMature(ctx, leaf)
	if err != nil {
		// The reaction is durable; the reconciler retries maturation.
		e.log.Warn("maturation failed", zap.String("leaf_id", leaf.ID), zap.Error(err))
		return out, nil
	}
	if fruit != nil {
		out.Matured = true
		out.FruitID = fruit.ID
		out.Message = "Reproduction confirmed! This leaf has matured into fruit."
	}
	return out, nil
}

// maybeMature grows fruit for leaf once the reproduction threshold is met. It returns
// nil when the threshold is not met or the leaf already bore fruit.
func (e *Engine) maybeMature(ctx context.Context, leaf *storage.Leaf) (*storage.Fruit, error) {
	n, err := e.db.CountReproducers(ctx, leaf.ID, leaf.AgentID)
	if err != nil {
		return nil, err
	}
	if n < e.MaturationThreshold() {
		return nil, nil
	}
	return e.mature(ctx, leaf)
}

func (e *Engine) mature(ctx context.Context, leaf *storage.Leaf) (*storage.Fruit, error) {
	typ := storage.FruitPattern
	if leaf.Type == storage.LeafDiscovery {
		typ = storage.FruitDiscovery
	}
	fruit := &storage.Fruit{
		ID:        uuid.NewString(),
		LeafID:    leaf.ID,
		TreeID:    leaf.TreeID,
		TerrainID: leaf.TerrainID,
		AgentID:   leaf.AgentID,
		Type:      typ,
		Title:     leaf.Title,
		Content:   leaf.Content,
		CreatedAt: e.now(),
	}
	grown, err := e.db.MatureLeaf(ctx, fruit, agent.CredibilityDelta(agent.EventFruitGrown))
	if err != nil {
		return nil, err
	}
	if !grown {
		return nil, nil
	}
	e.metrics.FruitGrown(fruit.Type)
	events.Emit(ctx, e.pub, e.log, events.FruitMatured, fruit)
	e.log.Info("leaf matured", zap.String("leaf_id", leaf.ID), zap.String("fruit_id", fruit.ID))
	return fruit, nil
}
