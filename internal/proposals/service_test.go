package proposals

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/internal/consensus"
	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/internal/votes"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
)

type stack struct {
	db        *gorm.DB
	repo      *Repository
	outbox    *outbox.Repository
	proposals Service
	votes     votes.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.Nop()

	repo := NewRepository(conn)
	voteRepo := votes.NewRepository(conn)
	directory, err := groups.NewDirectory(groups.NewRepository(conn))
	require.NoError(t, err)
	outboxRepo := outbox.NewRepository(conn)
	events := outbox.NewService(outboxRepo, logg)

	evaluator, err := consensus.NewEvaluator(consensus.EvaluatorParams{
		Proposals: repo,
		Votes:     voteRepo,
		Configs:   directory,
		Events:    events,
		Logger:    logg,
	})
	require.NoError(t, err)

	voteSvc, err := votes.NewService(votes.ServiceParams{
		Repo:      voteRepo,
		Proposals: repo,
		Configs:   directory,
		Evaluator: evaluator,
		Logger:    logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Votes:     voteSvc,
		Directory: directory,
		Events:    events,
		Logger:    logg,
	})
	require.NoError(t, err)

	return &stack{db: conn, repo: repo, outbox: outboxRepo, proposals: svc, votes: voteSvc}
}

func strPtr(v string) *string { return &v }

func TestProposeCreatesVotingProposal(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(2)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdHalf, members...)

	created, err := s.proposals.Propose(context.Background(), ProposeInput{
		GroupID:    group.ID,
		ProposerID: members[0],
		Name:       "  Kayak  ",
		Price:      decimal.RequireFromString("199.999"),
		ImageURL:   strPtr("images/kayak.png"),
		Discount:   strPtr("   "),
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "Kayak", created.Name)
	assert.Equal(t, enums.ProposalStatusVoting, created.Status)
	assert.True(t, created.Price.Equal(decimal.RequireFromString("200.00")))
	require.NotNil(t, created.ImageURL)
	assert.Nil(t, created.Discount)

	stored, err := s.repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, stored.GroupID)
	assert.True(t, stored.Price.Equal(created.Price))
}

func TestProposeValidation(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(1)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdHalf, members...)
	ctx := context.Background()

	cases := map[string]ProposeInput{
		"blank name":     {GroupID: group.ID, ProposerID: members[0], Name: "   ", Price: decimal.NewFromInt(1)},
		"negative price": {GroupID: group.ID, ProposerID: members[0], Name: "Tent", Price: decimal.NewFromInt(-1)},
		"missing group":  {ProposerID: members[0], Name: "Tent", Price: decimal.NewFromInt(1)},
		"huge price":     {GroupID: group.ID, ProposerID: members[0], Name: "Tent", Price: decimal.RequireFromString("10000000000")},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.proposals.Propose(ctx, input)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}

	_, err := s.proposals.Propose(ctx, ProposeInput{GroupID: uuid.New(), ProposerID: members[0], Name: "Tent", Price: decimal.Zero})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestProposeRejectsMalformedThreshold(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(1)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdHalf, members...)
	dbtest.ForceThreshold(t, s.db, group.ID, "most")

	_, err := s.proposals.Propose(context.Background(), ProposeInput{GroupID: group.ID, ProposerID: members[0], Name: "Tent", Price: decimal.NewFromInt(80)})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)

	var rows int64
	require.NoError(t, s.db.Model(&models.Proposal{}).Where("group_id = ?", group.ID).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestListByGroupIncludesTallies(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(4)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdUnanimous, members...)
	other := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdHalf, dbtest.Members(1)...)
	ctx := context.Background()

	first := dbtest.MustCreateProposal(t, s.db, group.ID, members[0])
	second := dbtest.MustCreateProposal(t, s.db, group.ID, members[1])
	dbtest.MustCreateProposal(t, s.db, other.ID, members[0])

	_, err := s.votes.CastVote(ctx, first.ID, members[0], true)
	require.NoError(t, err)
	_, err = s.votes.CastVote(ctx, first.ID, members[1], true)
	require.NoError(t, err)
	_, err = s.votes.CastVote(ctx, first.ID, members[2], false)
	require.NoError(t, err)

	list, err := s.proposals.ListByGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byID := map[uuid.UUID]ProposalSummary{}
	for _, item := range list {
		byID[item.ID] = item
		assert.EqualValues(t, 4, item.MemberCount)
	}
	assert.EqualValues(t, 2, byID[first.ID].ApproveCount)
	assert.EqualValues(t, 0, byID[second.ID].ApproveCount)
}

func TestGetReturnsDetailWithVotes(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(3)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdUnanimous, members...)
	proposal := dbtest.MustCreateProposal(t, s.db, group.ID, members[0])
	ctx := context.Background()

	_, err := s.votes.CastVote(ctx, proposal.ID, members[0], true)
	require.NoError(t, err)
	_, err = s.votes.CastVote(ctx, proposal.ID, members[1], false)
	require.NoError(t, err)

	detail, err := s.proposals.Get(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.VotingThresholdUnanimous, detail.Threshold)
	assert.Len(t, detail.Votes, 2)
	assert.EqualValues(t, 1, detail.ApproveCount)
	assert.EqualValues(t, 1, detail.RejectCount)
	assert.EqualValues(t, 3, detail.MemberCount)

	_, err = s.proposals.Get(ctx, uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestTransitionStatusIsCompareAndSet(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(1)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdHalf, members...)
	proposal := dbtest.MustCreateProposal(t, s.db, group.ID, members[0])
	ctx := context.Background()

	_, err := s.proposals.TransitionStatus(ctx, proposal.ID, enums.ProposalStatusVoting)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	first, err := s.proposals.TransitionStatus(ctx, proposal.ID, enums.ProposalStatusRejected)
	require.NoError(t, err)
	assert.True(t, first.Transitioned)
	assert.Equal(t, enums.ProposalStatusRejected, first.Proposal.Status)

	second, err := s.proposals.TransitionStatus(ctx, proposal.ID, enums.ProposalStatusApproved)
	require.NoError(t, err)
	assert.False(t, second.Transitioned)
	assert.Equal(t, enums.ProposalStatusRejected, second.Proposal.Status)

	_, err = s.proposals.TransitionStatus(ctx, uuid.New(), enums.ProposalStatusApproved)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestRejectAuthorizationAndEvent(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(3)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdUnanimous, members...)
	proposal := dbtest.MustCreateProposal(t, s.db, group.ID, members[1])
	ctx := context.Background()

	_, err := s.proposals.Reject(ctx, proposal.ID, members[2])
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	result, err := s.proposals.Reject(ctx, proposal.ID, members[0])
	require.NoError(t, err)
	assert.True(t, result.Transitioned)
	assert.Equal(t, enums.ProposalStatusRejected, result.Proposal.Status)

	again, err := s.proposals.Reject(ctx, proposal.ID, members[1])
	require.NoError(t, err)
	assert.False(t, again.Transitioned)

	events, err := s.outbox.ListForAggregate(enums.AggregateProposal, proposal.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventProposalRejected, events[0].EventType)

	vote, err := s.votes.CastVote(ctx, proposal.ID, members[0], true)
	require.NoError(t, err)
	assert.Equal(t, enums.ProposalStatusRejected, vote.Status)
	assert.False(t, vote.Transitioned)
}

func TestDeleteCascadesVotesAndMessages(t *testing.T) {
	s := newStack(t)
	members := dbtest.Members(2)
	group := dbtest.MustCreateGroup(t, s.db, enums.VotingThresholdUnanimous, members...)
	proposal := dbtest.MustCreateProposal(t, s.db, group.ID, members[1])
	ctx := context.Background()

	_, err := s.votes.CastVote(ctx, proposal.ID, members[1], true)
	require.NoError(t, err)
	require.NoError(t, s.db.Create(&models.Message{ProposalID: proposal.ID, AuthorID: members[1], Content: "hi"}).Error)

	require.NoError(t, s.proposals.Delete(ctx, proposal.ID, members[1]))

	var voteCount, messageCount int64
	require.NoError(t, s.db.Model(&models.Vote{}).Where("proposal_id = ?", proposal.ID).Count(&voteCount).Error)
	require.NoError(t, s.db.Model(&models.Message{}).Where("proposal_id = ?", proposal.ID).Count(&messageCount).Error)
	assert.Zero(t, voteCount)
	assert.Zero(t, messageCount)

	err = s.proposals.Delete(ctx, proposal.ID, members[1])
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
