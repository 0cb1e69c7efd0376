package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatsync/internal/models"
)

// Memory is an in-process relay. Every channel created from it receives a
// "message" event for each "sendMessage" emitted by any connected channel,
// the sender included.
type Memory struct {
	mu      sync.RWMutex
	members map[*MemoryChannel]struct{}
}

func NewMemory() *Memory {
	return &Memory{members: make(map[*MemoryChannel]struct{})}
}

// Channel creates a new, disconnected client of the relay.
func (m *Memory) Channel() *MemoryChannel {
	return &MemoryChannel{relay: m}
}

func (m *Memory) broadcast(event string, payload []byte) {
	m.mu.RLock()
	members := make([]*MemoryChannel, 0, len(m.members))
	for c := range m.members {
		members = append(members, c)
	}
	m.mu.RUnlock()

	for _, c := range members {
		c.dispatch(event, payload)
	}
}

type MemoryChannel struct {
	listeners
	relay *Memory
}

func (c *MemoryChannel) Connect(ctx context.Context) error {
	c.relay.mu.Lock()
	c.relay.members[c] = struct{}{}
	c.relay.mu.Unlock()
	return nil
}

func (c *MemoryChannel) Disconnect() error {
	c.relay.mu.Lock()
	delete(c.relay.members, c)
	c.relay.mu.Unlock()
	return nil
}

func (c *MemoryChannel) Connected() bool {
	c.relay.mu.RLock()
	defer c.relay.mu.RUnlock()
	_, ok := c.relay.members[c]
	return ok
}

func (c *MemoryChannel) Emit(ctx context.Context, event string, payload any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.relay.broadcast(relayedEvent(event), data)
	return nil
}

// Inject delivers a raw inbound event to this channel only, bypassing the relay.
func (c *MemoryChannel) Inject(event string, payload []byte) {
	c.dispatch(event, payload)
}

// relayedEvent is the event name a relay rebroadcasts an emission under.
func relayedEvent(event string) string {
	if event == models.EventSendMessage {
		return models.EventMessage
	}
	return event
}
