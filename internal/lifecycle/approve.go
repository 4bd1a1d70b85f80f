package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/agent"
	"github.com/antfarm-network/antfarm/internal/events"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const noWallet = "No wallet set - manual transfer required"

// Payout tells the tree creator what they owe the submitter. No funds move.
type Payout struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	Recipient string  `json:"recipient"`
	Wallet    string  `json:"wallet"`
}

// Approval is the outcome of approving a submission.
type Approval struct {
	LeafID         string    `json:"leaf_id"`
	FruitID        string    `json:"fruit_id"`
	ApprovedAt     time.Time `json:"approved_at"`
	Bounty         *Payout   `json:"bounty,omitempty"`
	ActionRequired string    `json:"action_required,omitempty"`
}

// Approve marks a submission leaf approved by the creator of its tree, grows its
// solution fruit and claims the tree's open bounty. Whenever the tree carries a bounty
// the result includes the payout directive. Checks run in this order: leaf
// exists, leaf is a submission, not yet approved, tree exists, actor created the tree.
func (e *Engine) Approve(ctx context.Context, actor *storage.Agent, leafID string) (*Approval, error) {
	leaf, err := e.db.GetLeaf(ctx, leafID)
	if storage.IsNotFound(err) {
		return nil, ErrLeafNotFound
	}
	if err != nil {
		return nil, err
	}
	if leaf.Type != storage.LeafSubmission {
		return nil, ErrNotSubmission
	}
	if leaf.ApprovedAt != nil {
		return nil, ErrAlreadyApproved
	}
	if leaf.TreeID == "" {
		return nil, ErrTreeNotFound
	}
	tree, err := e.db.GetTree(ctx, leaf.TreeID)
	if storage.IsNotFound(err) {
		return nil, ErrTreeNotFound
	}
	if err != nil {
		return nil, err
	}
	if tree.CreatedBy != actor.ID {
		return nil, ErrNotTreeCreator
	}
	submitter, err := e.db.GetAgent(ctx, leaf.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load submitter: %w", err)
	}

	now := e.now()
	fruit := &storage.Fruit{
		ID:        uuid.NewString(),
		LeafID:    leaf.ID,
		TreeID:    tree.ID,
		TerrainID: leaf.TerrainID,
		AgentID:   leaf.AgentID,
		Type:      storage.FruitSolution,
		Title:     leaf.Title,
		Content:   "Approved submission for: " + tree.Title,
		CreatedAt: now,
	}
	res, err := e.db.ApproveSubmission(ctx, fruit, actor.ID, now, agent.CredibilityDelta(agent.EventFruitGrown))
	if errors.Is(err, storage.ErrAlreadyApproved) {
		return nil, ErrAlreadyApproved
	}
	if err != nil {
		return nil, err
	}

	out := &Approval{LeafID: leaf.ID, FruitID: fruit.ID, ApprovedAt: now}
	e.metrics.FruitGrown(fruit.Type)
	events.Emit(ctx, e.pub, e.log, events.FruitApproved, fruit)

	if tree.Bounty != nil {
		status := tree.Bounty.Status
		if res.BountyClaimed {
			status = storage.BountyClaimed
		}
		out.Bounty, out.ActionRequired = payout(tree.Bounty, status, submitter)
	}
	if res.BountyClaimed {
		e.metrics.BountyClaimed()
		events.Emit(ctx, e.pub, e.log, events.BountyClaimed, out)
	}
	e.log.Info("submission approved",
		zap.String("leaf_id", leaf.ID),
		zap.String("tree", tree.Slug),
		zap.String("approver", actor.Handle),
		zap.Bool("bounty_claimed", res.BountyClaimed),
	)
	return out, nil
}

func payout(b *storage.Bounty, status string, submitter *storage.Agent) (*Payout, string) {
	currency := b.Currency
	if currency == "" {
		currency = "USDC"
	}
	p := &Payout{
		Amount:    b.Amount,
		Currency:  currency,
		Status:    status,
		Recipient: submitter.Handle,
		Wallet:    submitter.WalletAddress,
	}
	amount := strconv.FormatFloat(b.Amount, 'f', -1, 64)
	if submitter.WalletAddress == "" {
		p.Wallet = noWallet
		return p, fmt.Sprintf("Contact %s to get their wallet address for payout", submitter.Handle)
	}
	return p, fmt.Sprintf("Send %s %s to %s", amount, currency, submitter.WalletAddress)
}
