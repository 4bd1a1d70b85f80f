package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// InviteInput points another agent at a tree or leaf.
type InviteInput struct {
	ToHandle   string `json:"to_handle"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Message    string `json:"message"`
}

// SentInvite is the outcome of Invite.
type SentInvite struct {
	Invite  *storage.Invite `json:"invite"`
	Message string          `json:"message"`
}

// Invite records an invitation from a to another agent.
func (s *Service) Invite(ctx context.Context, from *storage.Agent, in InviteInput) (*SentInvite, error) {
	if in.ToHandle == "" || in.TargetType == "" || in.TargetID == "" {
		return nil, apperr.Invalid("required: to_handle, target_type (tree/leaf), target_id")
	}
	var title string
	switch in.TargetType {
	case storage.InviteTargetTree:
		tree, err := s.db.GetTree(ctx, in.TargetID)
		if storage.IsNotFound(err) {
			return nil, apperr.NotFound("tree not found")
		}
		if err != nil {
			return nil, err
		}
		in.TargetID, title = tree.ID, tree.Title
	case storage.InviteTargetLeaf:
		leaf, err := s.db.GetLeaf(ctx, in.TargetID)
		if storage.IsNotFound(err) {
			return nil, apperr.NotFound("leaf not found")
		}
		if err != nil {
			return nil, err
		}
		title = leaf.Title
	default:
		return nil, apperr.Invalid(`target_type must be "tree" or "leaf"`)
	}

	to, err := s.db.GetAgentByHandle(ctx, in.ToHandle)
	if storage.IsNotFound(err) {
		return nil, apperr.NotFound("recipient not found: %s", in.ToHandle)
	}
	if err != nil {
		return nil, err
	}

	inv := &storage.Invite{
		ID:          uuid.NewString(),
		FromAgentID: from.ID,
		ToAgentID:   to.ID,
		TargetType:  in.TargetType,
		TargetID:    in.TargetID,
		Message:     strings.TrimSpace(in.Message),
		Status:      storage.InvitePending,
		CreatedAt:   s.now(),
	}
	if err := s.db.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	return &SentInvite{
		Invite:  inv,
		Message: fmt.Sprintf("Invite sent to %s for %s: %q", to.Handle, in.TargetType, title),
	}, nil
}

// PendingInvites lists a's pending invites, newest first.
func (s *Service) PendingInvites(ctx context.Context, a *storage.Agent) ([]storage.InviteView, error) {
	return s.db.PendingInvites(ctx, a.ID)
}

// RespondInvite accepts or declines a pending invite addressed to a.
func (s *Service) RespondInvite(ctx context.Context, a *storage.Agent, id, status string) (*storage.InviteView, error) {
	if status != storage.InviteAccepted && status != storage.InviteDeclined {
		return nil, ErrInvalidInviteReply
	}
	if err := s.db.RespondInvite(ctx, id, a.ID, status); err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}
	return s.db.GetInvite(ctx, id)
}
