package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// publisherCache keeps one ordered publisher per topic for the life of the
// process. Lookups that yield no publisher are not cached.
type publisherCache struct {
	client        pubSubClient
	proposalTopic string

	mu     sync.Mutex
	topics map[string]*gcppubsub.Publisher
}

func newPublisherCache(client pubSubClient, proposalTopic string) *publisherCache {
	return &publisherCache{
		client:        client,
		proposalTopic: proposalTopic,
		topics:        make(map[string]*gcppubsub.Publisher),
	}
}

func (c *publisherCache) get(topic string) publisher {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.topics[topic]; ok {
		return &gcpPublisher{p}
	}
	var p *gcppubsub.Publisher
	if topic == c.proposalTopic {
		p = c.client.ProposalPublisher()
	} else {
		p = c.client.Publisher(topic)
	}
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	c.topics[topic] = p
	return &gcpPublisher{p}
}

func (c *publisherCache) stopAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, p := range c.topics {
		p.Stop()
		delete(c.topics, topic)
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{
		pub:         g.p,
		orderingKey: msg.OrderingKey,
		result:      g.p.Publish(ctx, msg),
	}
}

// gcpPublishResult resumes the ordering key after a failure; the client
// pauses a key on the first error and rejects later messages for it.
type gcpPublishResult struct {
	pub         *gcppubsub.Publisher
	orderingKey string
	result      *gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r.result == nil {
		return "", errors.New("publish result missing")
	}
	id, err := r.result.Get(ctx)
	if err != nil && r.orderingKey != "" {
		r.pub.ResumePublish(r.orderingKey)
	}
	return id, err
}
