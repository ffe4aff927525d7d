// Package broadcast is the in-process event fabric. Events published to a
// named channel fan out to every subscriber of that channel and of "all".
// Delivery is at-most-once within the process lifetime; a restart loses
// undelivered events.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mgx-dev/mgx/internal/event"
)

// ChannelAll receives every published event in addition to its specific
// channel.
const ChannelAll = "all"

// TaskChannel and RunChannel build the conventional channel names.
func TaskChannel(taskID string) string { return "task:" + taskID }
func RunChannel(runID string) string   { return "run:" + runID }

const DefaultQueueCapacity = 100

// Broadcaster fans out events to per-channel subscribers. Publish never
// blocks: a full subscriber queue drops its oldest event to admit the new
// one. One slow subscriber cannot slow the others.
type Broadcaster struct {
	mu       sync.Mutex
	capacity int
	subs     map[string]map[uint64]*Subscription // channel -> id -> sub
	nextID   uint64
	closed   bool

	// dropped aggregates drops across all subscriptions, surviving their
	// unsubscription. Scraped by the metrics collector.
	dropped atomic.Int64
}

func New(queueCapacity int) *Broadcaster {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	return &Broadcaster{
		capacity: queueCapacity,
		subs:     map[string]map[uint64]*Subscription{},
	}
}

// Subscription is a bounded FIFO over one or more channels. Dropped counts
// events discarded under backpressure.
type Subscription struct {
	b        *Broadcaster
	id       uint64
	channels []string
	ch       chan event.Envelope
	done     chan struct{}

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// Subscribe registers a bounded-queue subscriber on the given channels.
func (b *Broadcaster) Subscribe(channels ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{
		b:        b,
		id:       b.nextID,
		channels: append([]string(nil), channels...),
		ch:       make(chan event.Envelope, b.capacity),
		done:     make(chan struct{}),
	}
	b.nextID++
	if b.closed {
		close(s.done)
		s.closed = true
		return s
	}
	for _, c := range channels {
		if b.subs[c] == nil {
			b.subs[c] = map[uint64]*Subscription{}
		}
		b.subs[c][s.id] = s
	}
	return s
}

// Publish delivers ev to every subscriber of channel and of "all", in
// subscriber-queue FIFO order. Safe for concurrent callers; never blocks.
func (b *Broadcaster) Publish(channel string, ev event.Envelope) {
	b.PublishTo(ev, channel)
}

// PublishTo delivers ev across several channels at once. A subscriber
// listening on more than one of them (or on "all") still receives exactly
// one copy.
func (b *Broadcaster) PublishTo(ev event.Envelope, channels ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	seen := map[uint64]bool{}
	for _, c := range append(channels, ChannelAll) {
		for id, s := range b.subs[c] {
			if seen[id] {
				continue
			}
			seen[id] = true
			s.enqueue(ev)
		}
	}
}

// enqueue admits ev, dropping the oldest queued event if the queue is full.
// The publisher holds the broadcaster mutex, so it is the only writer; a
// concurrent reader draining between the two selects only makes room.
func (s *Subscription) enqueue(ev event.Envelope) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.b.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// Next blocks until an event is available, the subscription is cancelled, or
// ctx is done. The second return is false once the subscription is closed
// and drained.
func (s *Subscription) Next(ctx context.Context) (event.Envelope, bool) {
	select {
	case ev := <-s.ch:
		return ev, true
	default:
	}
	select {
	case ev := <-s.ch:
		return ev, true
	case <-s.done:
		// Drain what was queued before close; deliver it.
		select {
		case ev := <-s.ch:
			return ev, true
		default:
			return event.Envelope{}, false
		}
	case <-ctx.Done():
		return event.Envelope{}, false
	}
}

// TryNext returns the next queued event without blocking.
func (s *Subscription) TryNext() (event.Envelope, bool) {
	select {
	case ev := <-s.ch:
		return ev, true
	default:
		return event.Envelope{}, false
	}
}

// Dropped reports how many events this subscription discarded under
// backpressure.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Unsubscribe detaches the subscription. Idempotent. After it returns no
// further events are delivered; anything still queued is discarded without
// counting as drops.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	for _, c := range s.channels {
		delete(s.b.subs[c], s.id)
		if len(s.b.subs[c]) == 0 {
			delete(s.b.subs, c)
		}
	}
	s.b.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

// TotalDropped reports events discarded under backpressure across every
// subscription, including ones since unsubscribed.
func (b *Broadcaster) TotalDropped() int64 {
	return b.dropped.Load()
}

// Close shuts the broadcaster down; all subscriptions are cancelled.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	seen := map[uint64]bool{}
	for _, m := range b.subs {
		for id, s := range m {
			if !seen[id] {
				seen[id] = true
				all = append(all, s)
			}
		}
	}
	b.subs = map[string]map[uint64]*Subscription{}
	b.mu.Unlock()

	for _, s := range all {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.done)
		}
		s.mu.Unlock()
	}
}
