package discussion

import (
	"context"
	"sync"
)

const defaultStreamBuffer = 64

// MemoryBroker is an in-process broker for single-instance deployments and tests.
type MemoryBroker struct {
	mu      sync.RWMutex
	buffer  int
	streams map[string]map[*memoryStream]struct{}
}

// NewMemoryBroker builds a broker whose streams buffer up to buffer payloads.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &MemoryBroker{
		buffer:  buffer,
		streams: make(map[string]map[*memoryStream]struct{}),
	}
}

// Publish copies payload to every open stream on channel. Full streams drop it.
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for stream := range b.streams[channel] {
		data := make([]byte, len(payload))
		copy(data, payload)
		stream.offer(data)
	}
	return nil
}

// Subscribe opens a stream on channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (Stream, error) {
	stream := &memoryStream{
		broker:  b,
		channel: channel,
		out:     make(chan []byte, b.buffer),
	}
	b.mu.Lock()
	set, ok := b.streams[channel]
	if !ok {
		set = make(map[*memoryStream]struct{})
		b.streams[channel] = set
	}
	set[stream] = struct{}{}
	b.mu.Unlock()
	return stream, nil
}

// Subscribers reports how many streams are open on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams[channel])
}

func (b *MemoryBroker) remove(stream *memoryStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.streams[stream.channel]
	delete(set, stream)
	if len(set) == 0 {
		delete(b.streams, stream.channel)
	}
	close(stream.out)
}

type memoryStream struct {
	broker  *MemoryBroker
	channel string
	out     chan []byte
	once    sync.Once
}

// offer runs under the broker read lock, so out is never closed concurrently.
func (s *memoryStream) offer(payload []byte) {
	select {
	case s.out <- payload:
	default:
	}
}

func (s *memoryStream) Payloads() <-chan []byte {
	return s.out
}

func (s *memoryStream) Close() error {
	s.once.Do(func() {
		s.broker.remove(s)
	})
	return nil
}
