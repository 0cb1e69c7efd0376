package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

const DefaultNATSSubjectPrefix = "chat"

// NATS carries event E on subject "<prefix>.E". Like Redis, the broker is
// the relay: "sendMessage" is published as "<prefix>.message".
type NATS struct {
	listeners
	url    string
	prefix string

	mu  sync.Mutex
	nc  *nats.Conn
	sub *nats.Subscription
}

func NewNATS(url string) *NATS {
	if url == "" {
		url = nats.DefaultURL
	}
	return &NATS{url: url, prefix: DefaultNATSSubjectPrefix}
}

func (n *NATS) subject(event string) string {
	return n.prefix + "." + event
}

func (n *NATS) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.nc != nil {
		return nil
	}

	nc, err := nats.Connect(n.url, nats.Name("chatsync"))
	if err != nil {
		return fmt.Errorf("could not connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(n.subject("*"), func(m *nats.Msg) {
		n.dispatch(strings.TrimPrefix(m.Subject, n.prefix+"."), m.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("could not subscribe: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return fmt.Errorf("could not flush subscription: %w", err)
	}

	n.nc, n.sub = nc, sub
	return nil
}

func (n *NATS) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.nc == nil {
		return nil
	}
	err := n.sub.Unsubscribe()
	n.nc.Close()
	n.nc, n.sub = nil, nil
	return err
}

func (n *NATS) Emit(ctx context.Context, event string, payload any) error {
	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()
	if nc == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := nc.Publish(n.subject(relayedEvent(event)), data); err != nil {
		return fmt.Errorf("could not publish message: %w", err)
	}
	return nil
}
