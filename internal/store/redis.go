package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatsync/internal/models"
)

// Redis keeps each conversation path as a sorted set of keys scored by
// timestamp, next to a hash holding the documents.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewRedisFromURL parses a redis:// URL and checks the connection.
func NewRedisFromURL(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{client: client}, nil
}

func docsKey(path string) string {
	return path + ":docs"
}

func (s *Redis) Push(ctx context.Context) (string, error) {
	return NewKey()
}

func (s *Redis) Set(ctx context.Context, path, key string, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, docsKey(path), key, data)
		pipe.ZAdd(ctx, path, redis.Z{
			Score:  float64(msg.Timestamp),
			Member: key,
		})
		return nil
	})
	return err
}

func (s *Redis) Get(ctx context.Context, path string, q Query) ([]models.Message, error) {
	start := int64(0)
	if q.LimitToLast > 0 {
		start = -int64(q.LimitToLast)
	}

	// Equal scores come back in member order, which is push order.
	keys, err := s.client.ZRange(ctx, path, start, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.Message{}, nil
	}

	docs, err := s.client.HMGet(ctx, docsKey(path), keys...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(docs))
	for i, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			// Index entry without a document; skip it.
			continue
		}
		var m models.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", path, keys[i], err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
