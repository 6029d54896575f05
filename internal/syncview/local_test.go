package syncview

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pricecircle-backend/internal/consensus"
	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	"github.com/angelmondragon/pricecircle-backend/internal/votes"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
)

func TestLocalSourceEndToEnd(t *testing.T) {
	conn := dbtest.Open(t)
	logg := logger.Nop()
	ctx := context.Background()

	proposalRepo := proposals.NewRepository(conn)
	voteRepo := votes.NewRepository(conn)
	directory, err := groups.NewDirectory(groups.NewRepository(conn))
	require.NoError(t, err)
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	evaluator, err := consensus.NewEvaluator(consensus.EvaluatorParams{
		Proposals: proposalRepo, Votes: voteRepo, Configs: directory, Events: events, Logger: logg,
	})
	require.NoError(t, err)
	voteSvc, err := votes.NewService(votes.ServiceParams{
		Repo: voteRepo, Proposals: proposalRepo, Configs: directory, Evaluator: evaluator, Logger: logg,
	})
	require.NoError(t, err)
	proposalSvc, err := proposals.NewService(proposals.ServiceParams{
		Repo: proposalRepo, Votes: voteSvc, Directory: directory, Events: events, Logger: logg,
	})
	require.NoError(t, err)
	hub, err := discussion.NewHub(discussion.HubParams{Broker: discussion.NewMemoryBroker(16), Logger: logg})
	require.NoError(t, err)
	defer hub.Close()
	discussionSvc, err := discussion.NewService(discussion.ServiceParams{
		Repo: discussion.NewRepository(conn), Proposals: proposalRepo, Directory: directory, Hub: hub, Logger: logg,
	})
	require.NoError(t, err)

	members := dbtest.Members(2)
	group := dbtest.MustCreateGroup(t, conn, enums.VotingThresholdHalf, members...)
	proposal := dbtest.MustCreateProposal(t, conn, group.ID, members[0])

	_, err = discussionSvc.PostMessage(ctx, proposal.ID, members[0], "history")
	require.NoError(t, err)

	view, err := New(Params{Source: NewLocalSource(proposalSvc, discussionSvc), ProposalID: proposal.ID, Logger: logg})
	require.NoError(t, err)
	defer view.Close()
	require.NoError(t, view.Start(ctx))

	detail, ok := view.Proposal()
	require.True(t, ok)
	assert.Equal(t, enums.ProposalStatusVoting, detail.Status)
	assert.Equal(t, int64(2), detail.MemberCount)

	_, err = discussionSvc.PostMessage(ctx, proposal.ID, members[1], "live")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(view.Messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"history", "live"}, contents(view.Messages()))

	result, err := voteSvc.CastVote(ctx, proposal.ID, members[1], true)
	require.NoError(t, err)
	require.True(t, result.Transitioned)

	require.NoError(t, view.Refresh(ctx))
	detail, _ = view.Proposal()
	assert.Equal(t, enums.ProposalStatusApproved, detail.Status)
	assert.Equal(t, int64(1), detail.ApproveCount)
}
