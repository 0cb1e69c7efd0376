package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/feed"
	"chatsync/internal/models"
	"chatsync/internal/resource"
)

// Conversation is the ordered message view of one open chat between self and
// peer. It is seeded once from history; after that it only grows, with live
// messages appended in arrival order.
type Conversation struct {
	sync   *Synchronizer
	self   string
	peer   string
	logger zerolog.Logger

	live    *feed.Subscription[resource.Resource[models.Message]]
	updates *feed.Broadcaster[[]models.Message]
	cancel  context.CancelFunc
	ready   chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	view    []models.Message
	pending []models.Message // live arrivals that beat the history read
	claims  claims           // recent history entries whose live copy may still come
	since   int64            // local time the live subscription was taken, ms
	seeded  bool
	seedErr string
}

// OpenConversation starts a view for self and peer. The live subscription is
// taken before the history read is issued, so a message is either in the
// history, or held and appended once the history lands. A message that
// reaches the view both ways is shown once.
//
// The view queues up to Config.ViewBuffer live events. A burst larger than
// that, arriving faster than the view consumes it, loses its oldest events
// for good; the view never re-reads history.
func (s *Synchronizer) OpenConversation(ctx context.Context, self, peer string) (*Conversation, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conversation{
		sync:    s,
		self:    self,
		peer:    peer,
		logger:  s.logger.With().Str("self", self).Str("peer", peer).Logger(),
		live:    s.live.SubscribeDepth(s.cfg.ViewBuffer),
		since:   s.now().UnixMilli(),
		updates: feed.New[[]models.Message](feed.Options{Buffer: 1, Replay: 1, Overflow: feed.DropOldest}),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.consume()
	go c.seed(ctx)
	return c, nil
}

func (c *Conversation) Self() string { return c.self }
func (c *Conversation) Peer() string { return c.peer }

// Ready is closed once the history read has finished, successfully or not.
func (c *Conversation) Ready() <-chan struct{} { return c.ready }

// Err returns the history read error message, or "" if there was none.
// Meaningful after Ready is closed.
func (c *Conversation) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seedErr
}

// Messages returns a copy of the current view.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.view...)
}

// Updates streams view snapshots. A new subscriber receives the latest
// snapshot; a slow one only ever sees the most recent.
func (c *Conversation) Updates() *feed.Subscription[[]models.Message] {
	return c.updates.Subscribe()
}

// Close detaches the view from the live feed. The view's content is dropped
// with the value; nothing is written anywhere.
func (c *Conversation) Close() {
	c.once.Do(func() {
		c.cancel()
		c.live.Close()
		<-c.done
		<-c.ready
		c.updates.Close()
	})
}

func (c *Conversation) seed(ctx context.Context) {
	defer close(c.ready)

	res := resource.Last(c.sync.FetchHistory(ctx, c.self, c.peer))

	c.mu.Lock()
	defer c.mu.Unlock()

	history, ok := res.Value()
	if !ok {
		c.seedErr = res.Err()
		c.logger.Warn().Str("error", c.seedErr).Msg("history unavailable, showing live messages only")
	}
	c.claims = newClaims(history, c.since, c.sync.cfg.DedupWindow)
	c.view = append([]models.Message(nil), history...)
	for _, m := range c.pending {
		if !c.claims.take(m) {
			c.view = append(c.view, m)
		}
	}
	c.pending = nil
	c.seeded = true

	// Published under the lock so snapshots go out in the order they were
	// built. Publish never blocks.
	c.updates.Publish(append([]models.Message(nil), c.view...))
}

func (c *Conversation) consume() {
	defer close(c.done)

	for r := range c.live.C() {
		msg, ok := r.Value()
		if !ok || !msg.Between(c.self, c.peer) {
			continue
		}

		c.mu.Lock()
		if c.seeded {
			if !c.claims.take(msg) {
				c.view = append(c.view, msg)
				c.updates.Publish(append([]models.Message(nil), c.view...))
			}
		} else {
			c.pending = append(c.pending, msg)
		}
		c.mu.Unlock()

		if c.sync.cfg.Persist == PersistOpenConversation && msg.ReceiverID == c.peer {
			c.sync.Persist(context.Background(), msg)
		}
	}
}

// claims matches live messages against history entries that were written
// around the time the view subscribed, so a message is shown once even when
// it reaches the view both ways. Sessions stamp messages on receipt, so the
// two copies agree on sender, receiver and text but their timestamps differ
// by up to the delivery lag.
type claims struct {
	open   []models.Message
	window int64
}

// newClaims keeps the history entries stamped no earlier than window before
// since. Older entries cannot have a live copy still in flight.
func newClaims(history []models.Message, since int64, window time.Duration) claims {
	c := claims{window: window.Milliseconds()}
	for _, h := range history {
		if h.Timestamp >= since-c.window {
			c.open = append(c.open, h)
		}
	}
	return c
}

// take reports whether m is the live copy of an open entry, and if so
// consumes the entry closest in time. Each entry absorbs one message.
func (c *claims) take(m models.Message) bool {
	best, bestGap := -1, int64(0)
	for i, h := range c.open {
		if h.SenderID != m.SenderID || h.ReceiverID != m.ReceiverID || h.Text != m.Text {
			continue
		}
		gap := h.Timestamp - m.Timestamp
		if gap < 0 {
			gap = -gap
		}
		if gap <= c.window && (best < 0 || gap < bestGap) {
			best, bestGap = i, gap
		}
	}
	if best < 0 {
		return false
	}
	c.open = append(c.open[:best], c.open[best+1:]...)
	return true
}
