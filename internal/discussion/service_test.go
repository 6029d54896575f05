package discussion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
)

type fixture struct {
	db       *gorm.DB
	broker   Broker
	hub      *Hub
	svc      *service
	members  []uuid.UUID
	proposal *models.Proposal
}

func newFixture(t *testing.T, broker Broker) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.Nop()
	if broker == nil {
		broker = NewMemoryBroker(16)
	}

	hub, err := NewHub(HubParams{Broker: broker, SubscriberBuffer: 16, Logger: logg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })

	directory, err := groups.NewDirectory(groups.NewRepository(conn))
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(conn),
		Proposals: proposals.NewRepository(conn),
		Directory: directory,
		Hub:       hub,
		Logger:    logg,
	})
	require.NoError(t, err)

	members := dbtest.Members(3)
	group := dbtest.MustCreateGroup(t, conn, enums.VotingThresholdHalf, members...)
	proposal := dbtest.MustCreateProposal(t, conn, group.ID, members[1])

	return &fixture{db: conn, broker: broker, hub: hub, svc: svc.(*service), members: members, proposal: proposal}
}

type collector struct {
	mu   sync.Mutex
	msgs []MessageDTO
	got  chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) handle(msg MessageDTO) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []MessageDTO {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]MessageDTO(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestPostThenListContainsMessageOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	posted, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], "  Found it cheaper at the outlet  ")
	require.NoError(t, err)
	assert.Equal(t, "Found it cheaper at the outlet", posted.Content)

	page, err := f.svc.ListMessages(ctx, f.proposal.ID, pagination.Params{})
	require.NoError(t, err)
	matches := 0
	for _, m := range page.Items {
		if m.ID == posted.ID {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
	assert.Empty(t, page.Cursor)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.maxLength = 10
	ctx := context.Background()

	for _, content := range []string{"", "   \n\t", "<b></b>", "<script>alert(1)</script>"} {
		_, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], content)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "content %q: %v", content, err)
	}

	_, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], strings.Repeat("x", 11))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.PostMessage(ctx, uuid.New(), f.members[0], "hello")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	page, err := f.svc.ListMessages(ctx, f.proposal.ID, pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestPostMessageStripsMarkup(t *testing.T) {
	f := newFixture(t, nil)
	posted, err := f.svc.PostMessage(context.Background(), f.proposal.ID, f.members[0], `<b>Tom's</b> deal & <a href="x">link</a>`)
	require.NoError(t, err)
	assert.Equal(t, "Tom's deal & link", posted.Content)
}

func TestCreatedAtNeverGoesBackwards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(-time.Hour), base.Add(time.Second)}
	var posted []*MessageDTO
	for i, at := range clock {
		at := at
		f.svc.now = func() time.Time { return at }
		msg, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		posted = append(posted, msg)
	}
	for i := 1; i < len(posted); i++ {
		assert.False(t, posted[i].CreatedAt.Before(posted[i-1].CreatedAt), "message %d went backwards", i)
	}

	page, err := f.svc.ListMessages(ctx, f.proposal.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 4)
	for i := 1; i < len(page.Items); i++ {
		prev, cur := page.Items[i-1], page.Items[i]
		assert.True(t, pagination.Less(prev.CreatedAt, prev.ID, cur.CreatedAt, cur.ID), "history not ordered at %d", i)
	}
	assert.Equal(t, "message 3", page.Items[3].Content)
}

func TestListMessagesPaginates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return at }
	for i := 0; i < 5; i++ {
		_, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[i%3], fmt.Sprintf("same instant %d", i))
		require.NoError(t, err)
	}

	var all []MessageDTO
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := f.svc.ListMessages(ctx, f.proposal.ID, pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		all = append(all, page.Items...)
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	require.Len(t, all, 5)
	seen := map[uuid.UUID]bool{}
	for i, m := range all {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.True(t, pagination.Less(all[i-1].CreatedAt, all[i-1].ID, m.CreatedAt, m.ID))
		}
	}

	_, err := f.svc.ListMessages(ctx, f.proposal.ID, pagination.Params{Cursor: "not-a-cursor"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestSubscribeReceivesOnlyNewMessages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], "before")
	require.NoError(t, err)

	c := newCollector()
	sub, err := f.svc.Subscribe(ctx, f.proposal.ID, c.handle)
	require.NoError(t, err)
	defer sub.Close()

	posted, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[1], "after")
	require.NoError(t, err)

	got := c.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, posted.ID, got[0].ID)
	assert.Equal(t, "after", got[0].Content)
}

func TestSubscriptionsAreIndependent(t *testing.T) {
	broker := NewMemoryBroker(16)
	f := newFixture(t, broker)
	ctx := context.Background()
	channel := f.hub.ChannelName(f.proposal.ID)

	a, b := newCollector(), newCollector()
	subA, err := f.svc.Subscribe(ctx, f.proposal.ID, a.handle)
	require.NoError(t, err)
	subB, err := f.svc.Subscribe(ctx, f.proposal.ID, b.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, f.hub.Subscribers(f.proposal.ID))
	assert.Equal(t, 1, broker.Subscribers(channel))

	_, err = f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], "one")
	require.NoError(t, err)
	a.wait(t, 1)
	b.wait(t, 1)

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close())
	<-subA.Done()

	_, err = f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], "two")
	require.NoError(t, err)
	got := b.wait(t, 2)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, 1, a.count())

	require.NoError(t, subB.Close())
	assert.Equal(t, 0, f.hub.Subscribers(f.proposal.ID))
	assert.Equal(t, 0, broker.Subscribers(channel))
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.svc.Subscribe(ctx, f.proposal.ID, func(MessageDTO) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end with its context")
	}
	assert.Eventually(t, func() bool { return f.hub.Subscribers(f.proposal.ID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberDoesNotBlockPoster(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	release := make(chan struct{})
	slow, err := f.svc.Subscribe(ctx, f.proposal.ID, func(MessageDTO) { <-release })
	require.NoError(t, err)
	defer func() {
		close(release)
		_ = slow.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			_, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], fmt.Sprintf("burst %d", i))
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poster blocked on a slow subscriber")
	}
}

type failingBroker struct {
	*MemoryBroker
}

func (failingBroker) Publish(context.Context, string, []byte) error {
	return errors.New("broker down")
}

func TestPublishFailureDoesNotFailPost(t *testing.T) {
	f := newFixture(t, failingBroker{NewMemoryBroker(4)})
	ctx := context.Background()

	posted, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[0], "still stored")
	require.NoError(t, err)

	page, err := f.svc.ListMessages(ctx, f.proposal.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, posted.ID, page.Items[0].ID)
}

func TestDeleteMessageAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	msg, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[1], "mine")
	require.NoError(t, err)

	err = f.svc.DeleteMessage(ctx, msg.ID, f.members[2])
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	require.NoError(t, f.svc.DeleteMessage(ctx, msg.ID, f.members[0]))
	err = f.svc.DeleteMessage(ctx, msg.ID, f.members[0])
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	own, err := f.svc.PostMessage(ctx, f.proposal.ID, f.members[2], "oops")
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMessage(ctx, own.ID, f.members[2]))
}
