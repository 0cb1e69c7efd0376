package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/transport"
)

// Hub maintains the set of connected clients and broadcasts every relayed
// message to all of them. Only Run touches the clients map.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte           // Frames ready for local fan-out
	Register   chan *Client          // New client joins
	Unregister chan *Client          // Client leaves
	Publish    chan models.Payload   // Client sent "sendMessage"
	redis      *redis.Client         // nil runs a single instance
	channel    string
	logger     zerolog.Logger
	done       chan struct{} // closed when Run returns
}

// NewHub builds a hub. With a Redis client every message goes through the
// shared pub/sub channel so that all relay instances deliver it; without
// one, messages are fanned out locally.
func NewHub(redisClient *redis.Client, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Publish:    make(chan models.Payload),
		redis:      redisClient,
		channel:    transport.DefaultRedisPrefix + ":" + models.EventMessage,
		logger:     logger.With().Str("component", "relay").Logger(),
		done:       make(chan struct{}),
	}
}

// Run is the hub's loop. It returns when ctx is cancelled, after closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			metrics.RelayConnections.Inc()
			h.logger.Debug().Str("email", client.email).Msg("client connected")

		case client := <-h.Unregister:
			h.drop(client)

		case p := <-h.Publish:
			data, err := json.Marshal(p)
			if err != nil {
				h.logger.Error().Err(err).Msg("encode payload")
				continue
			}
			metrics.RelayMessages.WithLabelValues("relayed").Inc()
			h.logger.Info().
				Str("sender", p.SenderID).
				Str("receiver", p.ReceiverID).
				Msg("relaying message")

			if h.redis != nil {
				if err := h.redis.Publish(ctx, h.channel, data).Err(); err != nil {
					h.logger.Error().Err(err).Msg("redis publish failed")
				}
				continue
			}
			h.fanOut(messageFrame(data))

		case frame := <-h.broadcast:
			h.fanOut(frame)

		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.RelayConnections.Dec()
	}
}

func (h *Hub) fanOut(frame []byte) {
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			// Too slow to keep up; cut it loose.
			h.drop(client)
		}
	}
}

// SubscribeToRedis forwards messages published by any relay instance to the
// local clients. It blocks until ctx is cancelled.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.broadcast <- messageFrame([]byte(msg.Payload)):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// messageFrame wraps an encoded payload as a "message" frame.
func messageFrame(data []byte) []byte {
	frame, _ := json.Marshal(models.Frame{Event: models.EventMessage, Data: data})
	return frame
}
