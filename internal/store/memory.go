package store

import (
	"context"
	"sync"

	"chatsync/internal/models"
)

// Memory keeps everything in a map. Used for local sessions and tests.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]map[string]models.Message
}

func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]map[string]models.Message)}
}

func (m *Memory) Push(ctx context.Context) (string, error) {
	return NewKey()
}

func (m *Memory) Set(ctx context.Context, path, key string, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[path]
	if !ok {
		node = make(map[string]models.Message)
		m.nodes[path] = node
	}
	node[key] = msg
	return nil
}

func (m *Memory) Get(ctx context.Context, path string, q Query) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	node := m.nodes[path]
	es := make([]entry, 0, len(node))
	for k, msg := range node {
		es = append(es, entry{key: k, msg: msg})
	}
	m.mu.RUnlock()

	sortEntries(es)
	return lastN(es, q.LimitToLast), nil
}

// Keys lists the keys stored under path, in key order.
func (m *Memory) Keys(path string) []string {
	m.mu.RLock()
	node := m.nodes[path]
	es := make([]entry, 0, len(node))
	for k := range node {
		es = append(es, entry{key: k})
	}
	m.mu.RUnlock()

	sortEntries(es)
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = e.key
	}
	return keys
}

func (m *Memory) Close() error { return nil }
