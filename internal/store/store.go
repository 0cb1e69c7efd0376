package store

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"chatsync/internal/models"
)

// Namespace is the top-level node every conversation lives under:
// messages/<directionalKey>/<generatedKey>.
const Namespace = "messages"

// ConversationPath returns the store path for one directional key.
func ConversationPath(directionalKey string) string {
	return Namespace + "/" + directionalKey
}

// Query constrains a Get. Results are always ordered by timestamp.
type Query struct {
	// LimitToLast keeps only the n most recent entries. Zero means all.
	LimitToLast int
}

// Store is a hierarchical, key-addressed message store. Every implementation
// (memory, SQL, Redis) satisfies it.
type Store interface {
	// Push generates a new unique key. Keys sort in creation order.
	Push(ctx context.Context) (string, error)
	// Set writes msg at path/key, replacing whatever was there.
	Set(ctx context.Context, path, key string, msg models.Message) error
	// Get reads the entries under path in ascending timestamp order.
	Get(ctx context.Context, path string, q Query) ([]models.Message, error)
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewKey returns a ULID: unique, and lexically ordered by creation time.
func NewKey() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type entry struct {
	key string
	msg models.Message
}

// sortEntries orders by timestamp, then by key so that ties keep push order.
func sortEntries(es []entry) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].msg.Timestamp != es[j].msg.Timestamp {
			return es[i].msg.Timestamp < es[j].msg.Timestamp
		}
		return es[i].key < es[j].key
	})
}

func lastN(es []entry, n int) []models.Message {
	if n > 0 && len(es) > n {
		es = es[len(es)-n:]
	}
	out := make([]models.Message, len(es))
	for i, e := range es {
		out[i] = e.msg
	}
	return out
}
