package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"chatsync/internal/feed"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/resource"
	"chatsync/internal/store"
	"chatsync/internal/transport"
)

// NoMessagesFound is the error text of a latest-message read on an empty
// conversation. It is distinct from any store failure.
const NoMessagesFound = "No messages found"

var (
	ErrClosed          = errors.New("chat: synchronizer closed")
	ErrMissingIdentity = errors.New("chat: own-messages persistence needs an identity")
)

// PersistPolicy decides which live messages get written back to the store.
type PersistPolicy int

const (
	// PersistOwnMessages writes every live message whose sender is the
	// session identity, whether or not a conversation is open.
	PersistOwnMessages PersistPolicy = iota
	// PersistOpenConversation writes live messages addressed to the peer of
	// an open Conversation, and nothing else.
	PersistOpenConversation
)

func (p PersistPolicy) String() string {
	if p == PersistOpenConversation {
		return "open-conversation"
	}
	return "own-messages"
}

func ParsePersistPolicy(s string) (PersistPolicy, bool) {
	switch s {
	case "own-messages", "":
		return PersistOwnMessages, true
	case "open-conversation":
		return PersistOpenConversation, true
	}
	return PersistOwnMessages, false
}

type Config struct {
	// Identity is the local participant, e.g. the signed-in email.
	Identity string
	Feed     feed.Options
	// ViewBuffer is the live queue depth of each Conversation, never less
	// than Feed.Buffer.
	ViewBuffer int
	// DedupWindow is how far apart the timestamps of a held live message
	// and a history entry may be for them to count as the same message.
	// Each session stamps on receipt, so copies differ by delivery lag.
	DedupWindow  time.Duration
	Persist      PersistPolicy
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// DefaultConfig returns a single-slot drop-oldest live feed and a 10s write
// timeout, persisting the identity's own messages.
func DefaultConfig(identity string) Config {
	return Config{
		Identity:     identity,
		Feed:         feed.DefaultOptions(),
		ViewBuffer:   defaultViewBuffer,
		DedupWindow:  defaultDedupWindow,
		Persist:      PersistOwnMessages,
		WriteTimeout: 10 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

const (
	defaultViewBuffer  = 64
	defaultDedupWindow = 10 * time.Second
)

// Synchronizer is the session-scoped core: it owns the live subscription on
// the transport channel, serves one-shot history reads from the store, and
// writes received messages back under both directional keys.
//
// There are no retries anywhere: sends are fire-and-forget and failed
// persistence writes are only logged.
type Synchronizer struct {
	channel  transport.Channel
	store    store.Store
	cfg      Config
	logger   zerolog.Logger
	validate *validator.Validate
	live     *feed.Broadcaster[resource.Resource[models.Message]]
	now      func() time.Time

	mu      sync.Mutex
	opened  bool
	offLive func()
	closed atomic.Bool
	writes sync.WaitGroup
}

func NewSynchronizer(ch transport.Channel, st store.Store, cfg Config) *Synchronizer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ViewBuffer <= 0 {
		cfg.ViewBuffer = defaultViewBuffer
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	return &Synchronizer{
		channel:  ch,
		store:    st,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "synchronizer").Logger(),
		validate: validator.New(),
		live:     feed.New[resource.Resource[models.Message]](cfg.Feed),
		now:      time.Now,
	}
}

// Identity returns the local participant the session was built for.
func (s *Synchronizer) Identity() string { return s.cfg.Identity }

// Open subscribes to inbound "message" events and connects the channel.
// Calling it again while open is a no-op.
func (s *Synchronizer) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if s.opened {
		return nil
	}
	if s.cfg.Persist == PersistOwnMessages && s.cfg.Identity == "" {
		return ErrMissingIdentity
	}

	off := s.channel.On(models.EventMessage, s.handleLiveEvent)
	if err := s.channel.Connect(ctx); err != nil {
		off()
		return fmt.Errorf("connect transport: %w", err)
	}
	s.offLive = off
	s.opened = true
	s.logger.Info().Str("identity", s.cfg.Identity).Msg("session opened")
	return nil
}

// Close stops live delivery, waits for in-flight persistence writes and
// closes every live subscription. It is safe without a prior Open and safe
// to repeat. A closed Synchronizer cannot be reopened.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil
	}
	s.closed.Store(true)
	wasOpen := s.opened
	s.mu.Unlock()

	var err error
	if wasOpen {
		s.offLive()
		err = s.channel.Disconnect()
	}
	s.writes.Wait()
	s.live.Close()

	if wasOpen {
		s.logger.Info().Msg("session closed")
	}
	return err
}

// Subscribe attaches a consumer to the live feed. Each element is either
// Success(message) or Error(reason) for one inbound event.
func (s *Synchronizer) Subscribe() *feed.Subscription[resource.Resource[models.Message]] {
	return s.live.Subscribe()
}

// Send emits a "sendMessage" event. Success only means the local emission
// did not fail; nothing is awaited from the other side.
func (s *Synchronizer) Send(ctx context.Context, sender, receiver, text string) resource.Resource[struct{}] {
	if s.closed.Load() {
		metrics.MessagesSent.WithLabelValues("error").Inc()
		return resource.FromErr[struct{}](ErrClosed)
	}

	payload := models.Payload{SenderID: sender, ReceiverID: receiver, Message: text}
	if err := s.channel.Emit(ctx, models.EventSendMessage, payload); err != nil {
		metrics.MessagesSent.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("receiver", receiver).Msg("send failed")
		return resource.FromErr[struct{}](err)
	}

	metrics.MessagesSent.WithLabelValues("ok").Inc()
	s.logger.Debug().Str("receiver", receiver).Msg("message sent")
	return resource.Success(struct{}{})
}

// handleLiveEvent is registered on the channel for inbound "message" events.
// A payload that fails to decode becomes an Error element; the subscription
// keeps running.
func (s *Synchronizer) handleLiveEvent(raw []byte) {
	if s.closed.Load() {
		return
	}

	msg, err := s.decode(raw)
	if err != nil {
		metrics.LiveEvents.WithLabelValues("decode_error").Inc()
		s.logger.Warn().Err(err).Msg("malformed live event")
		s.live.Publish(resource.FromErr[models.Message](err))
		return
	}

	metrics.LiveEvents.WithLabelValues("ok").Inc()
	s.live.Publish(resource.Success(msg))

	if s.cfg.Persist == PersistOwnMessages && msg.SenderID == s.cfg.Identity {
		s.Persist(context.Background(), msg)
	}
}

func (s *Synchronizer) decode(raw []byte) (models.Message, error) {
	var p models.InboundPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := s.validate.Struct(p); err != nil {
		return models.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return models.Message{
		SenderID:   *p.SenderID,
		ReceiverID: *p.ReceiverID,
		Text:       *p.Message,
		Timestamp:  s.now().UnixMilli(),
	}, nil
}

// FetchHistory reads the conversation between a and b from a's directional
// key. The returned channel yields Loading, then exactly one of
// Success(messages) or Error, then closes.
func (s *Synchronizer) FetchHistory(ctx context.Context, a, b string) <-chan resource.Resource[[]models.Message] {
	out := make(chan resource.Resource[[]models.Message], 2)
	out <- resource.Loading[[]models.Message]()

	go func() {
		defer close(out)

		msgs, err := s.read(ctx, "history", a, b, store.Query{})
		if err != nil {
			out <- resource.FromErr[[]models.Message](err)
			return
		}
		out <- resource.Success(msgs)
	}()
	return out
}

// FetchLatest is FetchHistory limited to the most recent entry. An empty
// conversation ends in Error(NoMessagesFound).
func (s *Synchronizer) FetchLatest(ctx context.Context, a, b string) <-chan resource.Resource[models.Message] {
	out := make(chan resource.Resource[models.Message], 2)
	out <- resource.Loading[models.Message]()

	go func() {
		defer close(out)

		msgs, err := s.read(ctx, "latest", a, b, store.Query{LimitToLast: 1})
		if err != nil {
			out <- resource.FromErr[models.Message](err)
			return
		}
		if len(msgs) == 0 {
			out <- resource.Error[models.Message](NoMessagesFound)
			return
		}
		out <- resource.Success(msgs[len(msgs)-1])
	}()
	return out
}

// read runs one range query on a's directional key and keeps only the
// messages exchanged between a and b, ordered by timestamp.
func (s *Synchronizer) read(ctx context.Context, name, a, b string, q store.Query) ([]models.Message, error) {
	key, _ := DirectionalKeys(a, b)
	path := store.ConversationPath(key)

	start := time.Now()
	msgs, err := s.store.Get(ctx, path, q)
	metrics.StoreReadDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Str("query", name).Msg("failed to read messages")
		return nil, err
	}

	filtered := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Between(a, b) {
			filtered = append(filtered, m)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp < filtered[j].Timestamp
	})
	return filtered, nil
}

// Persist writes msg under both directional keys with one pushed key shared
// by the two copies. It returns immediately; the writes run on their own,
// and a failure of one never stops the other.
func (s *Synchronizer) Persist(ctx context.Context, msg models.Message) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		s.logger.Warn().Msg("persist after close dropped")
		return
	}
	s.writes.Add(1)
	s.mu.Unlock()

	if msg.Timestamp == 0 {
		msg.Timestamp = s.now().UnixMilli()
	}

	go func() {
		defer s.writes.Done()
		s.persist(context.WithoutCancel(ctx), msg)
	}()
}

func (s *Synchronizer) persist(ctx context.Context, msg models.Message) {
	ab, ba := DirectionalKeys(msg.SenderID, msg.ReceiverID)

	key, err := s.store.Push(ctx)
	if err != nil {
		metrics.PersistWrites.WithLabelValues("error").Add(2)
		s.logger.Error().Err(err).Msg("failed to generate message id")
		return
	}

	var wg sync.WaitGroup
	for _, side := range []struct{ role, path string }{
		{"sender", store.ConversationPath(ab)},
		{"receiver", store.ConversationPath(ba)},
	} {
		wg.Add(1)
		go func(role, path string) {
			defer wg.Done()

			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			defer cancel()

			if err := s.store.Set(wctx, path, key, msg); err != nil {
				metrics.PersistWrites.WithLabelValues("error").Inc()
				s.logger.Error().Err(err).Str("path", path).Str("side", role).Msg("failed to save message")
				return
			}
			metrics.PersistWrites.WithLabelValues("ok").Inc()
			s.logger.Debug().Str("path", path).Str("key", key).Str("side", role).Msg("message saved")
		}(side.role, side.path)
	}
	wg.Wait()
}

// WithSession opens s, runs fn, and closes s on every exit path.
func WithSession(ctx context.Context, s *Synchronizer, fn func(ctx context.Context) error) (err error) {
	if err := s.Open(ctx); err != nil {
		return errors.Join(err, s.Close())
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(ctx)
}
