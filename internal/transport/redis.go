package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix is shared with the relay, so Redis clients and
// websocket clients see the same "message" stream.
const DefaultRedisPrefix = "chat"

// Redis uses Redis pub/sub as the relay: event E travels on channel
// "<prefix>:E", and "sendMessage" is published straight to "<prefix>:message".
type Redis struct {
	listeners
	client *redis.Client
	prefix string
	logger zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

type RedisOption func(*Redis)

func WithRedisPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

func WithRedisLogger(l zerolog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultRedisPrefix,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) channelName(event string) string {
	return r.prefix + ":" + event
}

func (r *Redis) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.PSubscribe(ctx, r.channelName("*"))
	// Wait for the subscription confirmation so nothing published after
	// Connect returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	r.pubsub = pubsub
	r.done = make(chan struct{})
	go r.listen(pubsub, r.done)
	return nil
}

func (r *Redis) listen(pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)

	for msg := range pubsub.Channel() {
		event := strings.TrimPrefix(msg.Channel, r.prefix+":")
		r.dispatch(event, []byte(msg.Payload))
	}
}

func (r *Redis) Disconnect() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}

func (r *Redis) Emit(ctx context.Context, event string, payload any) error {
	r.mu.Lock()
	connected := r.pubsub != nil
	r.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := r.client.Publish(ctx, r.channelName(relayedEvent(event)), data).Err(); err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("redis publish failed")
		return err
	}
	return nil
}
