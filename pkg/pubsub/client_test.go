package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/pricecircle-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "circle-prod"}

	assert.Equal(t, "projects/circle-prod/topics/pc-proposal-events", c.resourceName(kindTopic, "pc-proposal-events"))
	assert.Equal(t, "projects/other/topics/t", c.resourceName(kindTopic, "projects/other/topics/t"))
	assert.Equal(t, "", c.resourceName(kindTopic, "  "))

	assert.Equal(t, "projects/circle-prod/subscriptions/pc-proposal-notifications", c.resourceName(kindSubscription, "pc-proposal-notifications"))
	assert.Equal(t, "projects/x/subscriptions/s", c.resourceName(kindSubscription, "projects/x/subscriptions/s"))

	empty := &Client{}
	assert.Equal(t, "", empty.resourceName(kindTopic, "t"))
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/secrets/sa.json"}), 1)
}

func TestExistenceError(t *testing.T) {
	assert.NoError(t, existenceError(kindTopic, "t", nil))
	assert.EqualError(t, existenceError(kindSubscription, "s", status.Error(codes.NotFound, "gone")), `pubsub subscription "s" does not exist`)

	boom := errors.New("deadline exceeded")
	assert.ErrorIs(t, existenceError(kindTopic, "t", boom), boom)
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("t"))
	assert.Nil(t, c.ProposalPublisher())
	assert.Nil(t, c.Subscription("s"))
	assert.Nil(t, c.NotificationSubscription())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	assert.NoError(t, c.Close())
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "  "}, config.PubSubConfig{}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)
}
