package groups

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
)

// Directory answers membership and voting-configuration questions.
type Directory interface {
	GetVotingConfig(ctx context.Context, groupID uuid.UUID) (VotingConfig, error)
	Membership(ctx context.Context, groupID, userID uuid.UUID) (*Membership, error)
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

type directory struct {
	repo *Repository
}

// NewDirectory wires the group directory.
func NewDirectory(repo *Repository) (Directory, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "groups repository required")
	}
	return &directory{repo: repo}, nil
}

func (d *directory) GetVotingConfig(ctx context.Context, groupID uuid.UUID) (VotingConfig, error) {
	group, err := d.repo.GetGroup(ctx, groupID)
	if err != nil {
		if db.IsNotFound(err) {
			return VotingConfig{}, pkgerrors.New(pkgerrors.CodeNotFound, "group not found")
		}
		return VotingConfig{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load group")
	}
	threshold := group.VotingThreshold
	if !threshold.IsValid() {
		return VotingConfig{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid voting threshold").WithDetails(map[string]any{
			"group_id":         groupID.String(),
			"voting_threshold": string(threshold),
		})
	}

	count, err := d.repo.CountMembers(ctx, groupID)
	if err != nil {
		return VotingConfig{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count group members")
	}
	return VotingConfig{GroupID: group.ID, Threshold: threshold, MemberCount: count}, nil
}

// Membership returns nil without error when the user is not in the group.
func (d *directory) Membership(ctx context.Context, groupID, userID uuid.UUID) (*Membership, error) {
	if groupID == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	member, err := d.repo.GetMembership(ctx, groupID, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load membership")
	}
	return &Membership{GroupID: member.GroupID, UserID: member.UserID, Role: member.Role}, nil
}

func (d *directory) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	member, err := d.Membership(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}

func (d *directory) ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := d.repo.ListMemberIDs(ctx, groupID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list group members")
	}
	return ids, nil
}
