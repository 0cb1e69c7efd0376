package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/feed"
	"chatsync/internal/models"
	"chatsync/internal/resource"
	"chatsync/internal/store"
	"chatsync/internal/transport"
)

const (
	alice = "a@x.com"
	bob   = "b@y.com"
	carol = "c@z.com"
)

// stubStore returns canned results from Get and records every Set.
type stubStore struct {
	mu      sync.Mutex
	get     []models.Message
	getErr  error
	failOn  string // Set fails for paths containing this
	sets    []setCall
	lastQry store.Query
}

type setCall struct {
	path, key string
	msg       models.Message
}

func (s *stubStore) Push(ctx context.Context) (string, error) { return store.NewKey() }

func (s *stubStore) Set(ctx context.Context, path, key string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, setCall{path, key, msg})
	if s.failOn != "" && strings.Contains(path, s.failOn) {
		return errors.New("permission denied")
	}
	return nil
}

func (s *stubStore) Get(ctx context.Context, path string, q store.Query) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQry = q
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := append([]models.Message(nil), s.get...)
	if q.LimitToLast > 0 && len(out) > q.LimitToLast {
		out = out[len(out)-q.LimitToLast:]
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

func (s *stubStore) calls() []setCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]setCall(nil), s.sets...)
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestSync(t *testing.T, identity string, st store.Store, mutate func(*Config)) (*Synchronizer, *transport.MemoryChannel) {
	t.Helper()
	ch := transport.NewMemory().Channel()
	cfg := DefaultConfig(identity)
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewSynchronizer(ch, st, cfg)
	s.now = fixedClock(1_700_000_000_000)
	t.Cleanup(func() { s.Close() })
	return s, ch
}

func collect[T any](ch <-chan resource.Resource[T]) []resource.Resource[T] {
	var out []resource.Resource[T]
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestSendThenFetchHistory(t *testing.T) {
	st := store.NewMemory()
	s, _ := newTestSync(t, alice, st, nil)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	sent := s.Send(ctx, alice, bob, "hi")
	require.True(t, sent.IsSuccess(), sent.String())
	s.writes.Wait()

	got := resource.Last(s.FetchHistory(ctx, alice, bob))
	msgs, ok := got.Value()
	require.True(t, ok, got.String())
	assert.Equal(t, []models.Message{{
		SenderID:   alice,
		ReceiverID: bob,
		Text:       "hi",
		Timestamp:  1_700_000_000_000,
	}}, msgs)

	// Visible from the receiver's side too.
	fromBob := resource.Last(s.FetchHistory(ctx, bob, alice))
	msgs, ok = fromBob.Value()
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestFetchHistoryStates(t *testing.T) {
	st := &stubStore{get: []models.Message{{SenderID: alice, ReceiverID: bob, Text: "x", Timestamp: 1}}}
	s, _ := newTestSync(t, alice, st, nil)

	states := collect(s.FetchHistory(context.Background(), alice, bob))
	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading())
	assert.True(t, states[1].IsSuccess())
	assert.Equal(t, store.Query{}, st.lastQry)
}

func TestFetchHistoryFiltersAndSorts(t *testing.T) {
	st := &stubStore{get: []models.Message{
		{SenderID: bob, ReceiverID: alice, Text: "second", Timestamp: 20},
		{SenderID: alice, ReceiverID: carol, Text: "stray", Timestamp: 15},
		{SenderID: alice, ReceiverID: bob, Text: "first", Timestamp: 10},
		{SenderID: carol, ReceiverID: bob, Text: "stray too", Timestamp: 5},
		{SenderID: alice, ReceiverID: bob, Text: "third", Timestamp: 30},
	}}
	s, _ := newTestSync(t, alice, st, nil)

	msgs, ok := resource.Last(s.FetchHistory(context.Background(), alice, bob)).Value()
	require.True(t, ok)
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	assert.Equal(t, []string{"first", "second", "third"}, texts)
}

func TestFetchHistoryEmptyIsSuccess(t *testing.T) {
	s, _ := newTestSync(t, alice, store.NewMemory(), nil)

	res := resource.Last(s.FetchHistory(context.Background(), alice, bob))
	msgs, ok := res.Value()
	require.True(t, ok)
	assert.Empty(t, msgs)
}

func TestFetchHistoryStoreError(t *testing.T) {
	st := &stubStore{getErr: errors.New("network unreachable")}
	s, _ := newTestSync(t, alice, st, nil)

	states := collect(s.FetchHistory(context.Background(), alice, bob))
	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading())
	assert.True(t, states[1].IsError())
	assert.Equal(t, "network unreachable", states[1].Err())
}

func TestFetchLatest(t *testing.T) {
	st := &stubStore{get: []models.Message{
		{SenderID: alice, ReceiverID: bob, Text: "old", Timestamp: 1},
		{SenderID: bob, ReceiverID: alice, Text: "new", Timestamp: 2},
	}}
	s, _ := newTestSync(t, alice, st, nil)

	states := collect(s.FetchLatest(context.Background(), alice, bob))
	require.Len(t, states, 2)
	assert.True(t, states[0].IsLoading())
	m, ok := states[1].Value()
	require.True(t, ok)
	assert.Equal(t, "new", m.Text)
	assert.Equal(t, 1, st.lastQry.LimitToLast)
}

func TestFetchLatestEmptyIsNotFound(t *testing.T) {
	s, _ := newTestSync(t, alice, store.NewMemory(), nil)

	res := resource.Last(s.FetchLatest(context.Background(), alice, bob))
	assert.True(t, res.IsError())
	assert.Equal(t, NoMessagesFound, res.Err())
}

func TestFetchLatestStoreErrorIsDistinct(t *testing.T) {
	st := &stubStore{getErr: errors.New("timeout")}
	s, _ := newTestSync(t, alice, st, nil)

	res := resource.Last(s.FetchLatest(context.Background(), alice, bob))
	assert.Equal(t, "timeout", res.Err())
}

func TestPersistWritesBothDirectionsWithOneKey(t *testing.T) {
	st := &stubStore{}
	s, _ := newTestSync(t, alice, st, nil)

	msg := models.Message{SenderID: alice, ReceiverID: bob, Text: "hello", Timestamp: 5}
	s.Persist(context.Background(), msg)
	s.writes.Wait()

	calls := st.calls()
	require.Len(t, calls, 2)
	paths := []string{calls[0].path, calls[1].path}
	assert.ElementsMatch(t, []string{"messages/a@x,com_b@y,com", "messages/b@y,com_a@x,com"}, paths)
	assert.Equal(t, calls[0].key, calls[1].key)
	assert.Equal(t, msg, calls[0].msg)
	assert.Equal(t, msg, calls[1].msg)
}

func TestPersistOneFailureDoesNotAbortTheOther(t *testing.T) {
	st := &stubStore{failOn: "b@y,com_a@x,com"}
	s, _ := newTestSync(t, alice, st, nil)

	assert.NotPanics(t, func() {
		s.Persist(context.Background(), models.Message{SenderID: alice, ReceiverID: bob, Text: "x", Timestamp: 1})
	})
	s.writes.Wait()
	assert.Len(t, st.calls(), 2)
}

func TestPersistDefaultsTimestamp(t *testing.T) {
	st := &stubStore{}
	s, _ := newTestSync(t, alice, st, nil)

	s.Persist(context.Background(), models.Message{SenderID: alice, ReceiverID: bob, Text: "x"})
	s.writes.Wait()

	calls := st.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, int64(1_700_000_000_000), calls[0].msg.Timestamp)
}

func TestPersistCancelledContextStillWrites(t *testing.T) {
	st := store.NewMemory()
	s, _ := newTestSync(t, alice, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Persist(ctx, models.Message{SenderID: alice, ReceiverID: bob, Text: "late", Timestamp: 1})
	s.writes.Wait()

	assert.Len(t, st.Keys("messages/a@x,com_b@y,com"), 1)
}

func TestLiveFeedKeepsMostRecent(t *testing.T) {
	s, ch := newTestSync(t, carol, store.NewMemory(), nil)
	require.NoError(t, s.Open(context.Background()))
	sub := s.Subscribe()

	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"b@y.com","message":"one"}`))
	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"b@y.com","message":"two"}`))

	r := <-sub.C()
	m, ok := r.Value()
	require.True(t, ok)
	assert.Equal(t, "two", m.Text)
	assert.Equal(t, uint64(1), sub.Dropped())
}

func TestDecodeFailureDoesNotEndFeed(t *testing.T) {
	s, ch := newTestSync(t, carol, store.NewMemory(), func(c *Config) {
		c.Feed = feed.Options{Buffer: 4}
	})
	require.NoError(t, s.Open(context.Background()))
	sub := s.Subscribe()

	ch.Inject(models.EventMessage, []byte(`not json`))
	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","message":"no receiver"}`))
	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"b@y.com","message":"ok"}`))

	first, second, third := <-sub.C(), <-sub.C(), <-sub.C()
	assert.True(t, first.IsError())
	assert.True(t, second.IsError())
	assert.Contains(t, second.Err(), "ReceiverID")
	m, ok := third.Value()
	require.True(t, ok)
	assert.Equal(t, models.Message{SenderID: alice, ReceiverID: bob, Text: "ok", Timestamp: 1_700_000_000_000}, m)
}

func TestEmptyBodyIsAccepted(t *testing.T) {
	s, ch := newTestSync(t, carol, store.NewMemory(), nil)
	require.NoError(t, s.Open(context.Background()))
	sub := s.Subscribe()

	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"b@y.com","message":""}`))

	r := <-sub.C()
	assert.True(t, r.IsSuccess())
}

func TestOpenIsIdempotent(t *testing.T) {
	s, ch := newTestSync(t, alice, store.NewMemory(), nil)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Open(ctx))
	assert.Equal(t, 1, ch.HandlerCount(models.EventMessage))
}

func TestOpenRequiresIdentityForOwnMessages(t *testing.T) {
	s, _ := newTestSync(t, "", store.NewMemory(), nil)
	assert.ErrorIs(t, s.Open(context.Background()), ErrMissingIdentity)

	other, _ := newTestSync(t, "", store.NewMemory(), func(c *Config) {
		c.Persist = PersistOpenConversation
	})
	assert.NoError(t, other.Open(context.Background()))
}

func TestCloseWithoutOpen(t *testing.T) {
	s, ch := newTestSync(t, alice, store.NewMemory(), nil)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, ch.Connected())
}

func TestCloseStopsLiveDelivery(t *testing.T) {
	s, ch := newTestSync(t, alice, store.NewMemory(), nil)
	require.NoError(t, s.Open(context.Background()))
	sub := s.Subscribe()

	require.NoError(t, s.Close())
	assert.Equal(t, 0, ch.HandlerCount(models.EventMessage))
	assert.False(t, ch.Connected())

	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"b@y.com","message":"late"}`))
	_, open := <-sub.C()
	assert.False(t, open)

	assert.ErrorIs(t, s.Open(context.Background()), ErrClosed)
	assert.True(t, s.Send(context.Background(), alice, bob, "x").IsError())
}

func TestSendFailsWhenChannelDown(t *testing.T) {
	s, _ := newTestSync(t, alice, store.NewMemory(), nil)

	res := s.Send(context.Background(), alice, bob, "hi")
	assert.True(t, res.IsError())
	assert.Equal(t, transport.ErrNotConnected.Error(), res.Err())
}

func TestOwnMessagesPersistedWithoutOpenConversation(t *testing.T) {
	st := &stubStore{}
	s, ch := newTestSync(t, alice, st, nil)
	require.NoError(t, s.Open(context.Background()))

	ch.Inject(models.EventMessage, []byte(`{"senderId":"b@y.com","receiverId":"a@x.com","message":"theirs"}`))
	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"c@z.com","message":"mine"}`))
	s.writes.Wait()

	calls := st.calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "mine", c.msg.Text)
	}
}

func TestOpenConversationPolicyIgnoresUnopened(t *testing.T) {
	st := &stubStore{}
	s, ch := newTestSync(t, alice, st, func(c *Config) { c.Persist = PersistOpenConversation })
	require.NoError(t, s.Open(context.Background()))

	ch.Inject(models.EventMessage, []byte(`{"senderId":"a@x.com","receiverId":"c@z.com","message":"mine"}`))
	s.writes.Wait()
	assert.Empty(t, st.calls())
}

func TestWithSession(t *testing.T) {
	s, ch := newTestSync(t, alice, store.NewMemory(), nil)

	err := WithSession(context.Background(), s, func(ctx context.Context) error {
		assert.True(t, ch.Connected())
		return errors.New("screen closed")
	})
	assert.EqualError(t, err, "screen closed")
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, s.Open(context.Background()), ErrClosed)
}

func TestParsePersistPolicy(t *testing.T) {
	p, ok := ParsePersistPolicy("open-conversation")
	assert.True(t, ok)
	assert.Equal(t, PersistOpenConversation, p)
	assert.Equal(t, "open-conversation", p.String())

	_, ok = ParsePersistPolicy("always")
	assert.False(t, ok)
}

func TestCloseKeepsOtherMessageHandlers(t *testing.T) {
	s, ch := newTestSync(t, alice, store.NewMemory(), nil)

	var others int
	ch.On(models.EventMessage, func([]byte) { others++ })

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())

	ch.Inject(models.EventMessage, []byte(`{"senderId":"b@y.com","receiverId":"a@x.com","message":"still here"}`))
	assert.Equal(t, 1, others)
	assert.Equal(t, 1, ch.HandlerCount(models.EventMessage))
}
