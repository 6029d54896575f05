package discussion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/metrics"
)

const (
	defaultChannelPrefix = "discussion"
	maxAttachAttempts    = 3
)

// Hub keeps the local subscribers of each proposal and holds one broker
// subscription per proposal while at least one local subscriber exists.
type Hub struct {
	broker  Broker
	prefix  string
	buffer  int
	metrics *metrics.DiscussionMetrics
	logg    *logger.Logger

	mu       sync.Mutex
	channels map[uuid.UUID]*hubChannel
	nextID   uint64
}

// hubChannel is one proposal's broker stream. ready closes once the broker
// subscribe finished; stream and err are fixed from then on.
type hubChannel struct {
	proposalID uuid.UUID
	stream     Stream
	subs       map[uint64]*Subscription
	ready      chan struct{}
	err        error
}

func (c *hubChannel) wait(ctx context.Context) error {
	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case <-c.ready:
		return nil
	case <-done:
		return ctx.Err()
	}
}

// HubParams groups hub dependencies.
type HubParams struct {
	Broker           Broker
	ChannelPrefix    string
	SubscriberBuffer int
	Metrics          *metrics.DiscussionMetrics
	Logger           *logger.Logger
}

// NewHub builds a hub over broker.
func NewHub(params HubParams) (*Hub, error) {
	if params.Broker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "broker required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	prefix := params.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	buffer := params.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &Hub{
		broker:   params.Broker,
		prefix:   prefix,
		buffer:   buffer,
		metrics:  params.Metrics,
		logg:     params.Logger,
		channels: make(map[uuid.UUID]*hubChannel),
	}, nil
}

// ChannelName is the broker channel that carries a proposal's messages.
func (h *Hub) ChannelName(proposalID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", h.prefix, proposalID)
}

// Publish encodes msg and hands it to the broker. Local subscribers receive it
// through the broker like every other process.
func (h *Hub) Publish(ctx context.Context, msg MessageDTO) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return h.broker.Publish(ctx, h.ChannelName(msg.ProposalID), payload)
}

// Subscribe registers onMessage for messages published on the proposal after
// this call returns. The subscription ends when Close is called, when ctx is
// done, or when the broker stream fails.
func (h *Hub) Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(MessageDTO)) (*Subscription, error) {
	if onMessage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message handler required")
	}

	var sub *Subscription
	for attempt := 1; sub == nil; attempt++ {
		if attempt > maxAttachAttempts {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "discussion stream keeps closing")
		}
		ch, opener := h.channel(proposalID)
		if opener {
			h.open(ctx, ch)
		} else if err := ch.wait(ctx); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to discussion")
		}
		if ch.err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ch.err, "subscribe to discussion")
		}
		// nil when the stream ended between opening and attaching
		sub = h.attach(ch)
	}

	h.metrics.SubscriberAdded()
	go sub.run(onMessage)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				if err := sub.Close(); err != nil {
					h.logg.Warn(h.logg.WithField(context.Background(), "error", err.Error()), "closing discussion stream")
				}
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// channel returns the proposal's channel, registering an opening one when
// none exists. opener reports whether the caller must open it.
func (h *Hub) channel(proposalID uuid.UUID) (ch *hubChannel, opener bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.channels[proposalID]; ok {
		return existing, false
	}
	ch = &hubChannel{
		proposalID: proposalID,
		subs:       make(map[uint64]*Subscription),
		ready:      make(chan struct{}),
	}
	h.channels[proposalID] = ch
	return ch, true
}

// open subscribes to the broker outside h.mu. Callers for other proposals
// never wait on it; callers for the same proposal wait on ch.ready.
func (h *Hub) open(ctx context.Context, ch *hubChannel) {
	stream, err := h.broker.Subscribe(ctx, h.ChannelName(ch.proposalID))

	h.mu.Lock()
	if err != nil {
		ch.err = err
		if h.channels[ch.proposalID] == ch {
			delete(h.channels, ch.proposalID)
		}
	} else {
		ch.stream = stream
		h.metrics.ChannelOpened()
	}
	close(ch.ready)
	h.mu.Unlock()

	if err == nil {
		go h.pump(ch)
	}
}

func (h *Hub) attach(ch *hubChannel) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[ch.proposalID] != ch {
		return nil
	}
	h.nextID++
	sub := &Subscription{
		id:         h.nextID,
		proposalID: ch.proposalID,
		hub:        h,
		inbox:      make(chan MessageDTO, h.buffer),
		done:       make(chan struct{}),
	}
	ch.subs[sub.id] = sub
	return sub
}

// Subscribers reports the local subscriber count for a proposal.
func (h *Hub) Subscribers(proposalID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[proposalID]; ok {
		return len(ch.subs)
	}
	return 0
}

// Close ends every subscription and releases broker streams.
func (h *Hub) Close() error {
	h.mu.Lock()
	var subs []*Subscription
	for _, ch := range h.channels {
		for _, sub := range ch.subs {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()
	var errs error
	for _, sub := range subs {
		errs = multierr.Append(errs, sub.Close())
	}
	return errs
}

func (h *Hub) pump(ch *hubChannel) {
	for payload := range ch.stream.Payloads() {
		var msg MessageDTO
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logg.Warn(h.logg.WithField(context.Background(), "error", err.Error()), "dropping undecodable discussion payload")
			continue
		}
		h.deliver(ch, msg)
	}

	// The stream ended. When that was not caused by the last subscriber
	// leaving, the subscribers are closed so clients reconnect and resync.
	h.mu.Lock()
	var orphaned []*Subscription
	if h.channels[ch.proposalID] == ch {
		delete(h.channels, ch.proposalID)
		for _, sub := range ch.subs {
			orphaned = append(orphaned, sub)
		}
		ch.subs = map[uint64]*Subscription{}
		h.metrics.ChannelClosed()
	}
	h.mu.Unlock()
	for _, sub := range orphaned {
		sub.finish()
	}
	if len(orphaned) > 0 {
		h.logg.Warn(h.logg.WithProposalID(context.Background(), ch.proposalID.String()), "discussion stream ended with active subscribers")
	}
}

func (h *Hub) deliver(ch *hubChannel, msg MessageDTO) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(ch.subs))
	for _, sub := range ch.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.offer(msg) {
			h.metrics.IncDelivered()
		} else {
			h.metrics.IncDropped()
		}
	}
}

// remove detaches sub and closes the broker stream when it was the last
// local subscriber of its proposal.
func (h *Hub) remove(sub *Subscription) error {
	h.mu.Lock()
	ch, ok := h.channels[sub.proposalID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	if _, present := ch.subs[sub.id]; !present {
		h.mu.Unlock()
		return nil
	}
	delete(ch.subs, sub.id)
	var stream Stream
	if len(ch.subs) == 0 {
		delete(h.channels, sub.proposalID)
		stream = ch.stream
	}
	h.mu.Unlock()

	if stream == nil {
		return nil
	}
	h.metrics.ChannelClosed()
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close %s: %w", h.ChannelName(sub.proposalID), err)
	}
	return nil
}

// Subscription is a caller-owned handle on a live proposal stream.
type Subscription struct {
	id         uint64
	proposalID uuid.UUID
	hub        *Hub
	inbox      chan MessageDTO
	done       chan struct{}
	once       sync.Once
}

// ProposalID returns the proposal this subscription listens to.
func (s *Subscription) ProposalID() uuid.UUID {
	return s.proposalID
}

// Done is closed once the subscription has ended for any reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	err := s.hub.remove(s)
	s.finish()
	return err
}

func (s *Subscription) finish() {
	s.once.Do(func() {
		close(s.done)
		s.hub.metrics.SubscriberRemoved()
	})
}

func (s *Subscription) offer(msg MessageDTO) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscription) run(onMessage func(MessageDTO)) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.inbox:
			onMessage(msg)
		}
	}
}
