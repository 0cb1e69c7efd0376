// Package feed is a small in-process publish/subscribe primitive.
//
// A Broadcaster never blocks its publisher. Every subscriber owns a bounded
// queue; when a queue is full the Overflow policy decides which value is
// lost. With the default options (Buffer 1, DropOldest) a slow consumer may
// miss intermediate values but always sees the most recent one.
package feed

import (
	"sync"
	"sync/atomic"
)

type Overflow int

const (
	// DropOldest evicts the oldest queued value to make room for the new one.
	DropOldest Overflow = iota
	// DropNewest discards the value being published.
	DropNewest
)

func (o Overflow) String() string {
	if o == DropNewest {
		return "drop-newest"
	}
	return "drop-oldest"
}

// ParseOverflow maps "drop-oldest" / "drop-newest" to a policy.
func ParseOverflow(s string) (Overflow, bool) {
	switch s {
	case "drop-oldest", "":
		return DropOldest, true
	case "drop-newest":
		return DropNewest, true
	}
	return DropOldest, false
}

type Options struct {
	// Buffer is the per-subscriber queue depth. Values below 1 mean 1.
	Buffer int
	// Replay is how many of the most recent values a new subscriber receives
	// on Subscribe. Zero means none.
	Replay   int
	Overflow Overflow
}

// DefaultOptions is a single-slot, drop-oldest feed with no replay.
func DefaultOptions() Options {
	return Options{Buffer: 1, Overflow: DropOldest}
}

type Broadcaster[T any] struct {
	mu     sync.Mutex
	opts   Options
	subs   map[*Subscription[T]]struct{}
	recent []T
	closed bool
}

func New[T any](opts Options) *Broadcaster[T] {
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}
	if opts.Replay < 0 {
		opts.Replay = 0
	}
	return &Broadcaster[T]{
		opts: opts,
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Publish hands v to every current subscriber. It returns false once the
// broadcaster is closed.
func (b *Broadcaster[T]) Publish(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.opts.Replay > 0 {
		b.recent = append(b.recent, v)
		if len(b.recent) > b.opts.Replay {
			b.recent = b.recent[len(b.recent)-b.opts.Replay:]
		}
	}
	for s := range b.subs {
		s.offer(v, b.opts.Overflow)
	}
	return true
}

// Subscribe registers a new consumer. Subscribing to a closed broadcaster
// yields a subscription whose channel is already closed.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	return b.SubscribeDepth(b.opts.Buffer)
}

// SubscribeDepth is Subscribe with a queue of depth values instead of the
// broadcaster's Buffer. A depth below Buffer means Buffer.
func (b *Broadcaster[T]) SubscribeDepth(depth int) *Subscription[T] {
	if depth < b.opts.Buffer {
		depth = b.opts.Buffer
	}
	s := &Subscription[T]{
		b:  b,
		ch: make(chan T, depth),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.closeChan()
		return s
	}
	for _, v := range b.recent {
		s.offer(v, b.opts.Overflow)
	}
	b.subs[s] = struct{}{}
	return s
}

// Subscribers returns the number of attached subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber and closes their channels. Safe to call
// more than once.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.closeChan()
	}
	b.recent = nil
}

type Subscription[T any] struct {
	b       *Broadcaster[T]
	ch      chan T
	dropped atomic.Uint64
	once    sync.Once
}

// C is closed when the subscription or its broadcaster is closed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped counts values this subscriber lost to the overflow policy.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
	s.closeChan()
}

func (s *Subscription[T]) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// offer must be called with the broadcaster lock held, so the only
// concurrent party is the consumer draining the queue.
func (s *Subscription[T]) offer(v T, policy Overflow) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		if policy == DropNewest {
			s.dropped.Add(1)
			return
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
