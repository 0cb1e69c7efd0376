package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](s *Subscription[T]) []T {
	var out []T
	for {
		select {
		case v, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestSingleSlotKeepsMostRecent(t *testing.T) {
	b := New[int](DefaultOptions())
	sub := b.Subscribe()

	require.True(t, b.Publish(1))
	require.True(t, b.Publish(2))

	assert.Equal(t, []int{2}, drain(sub))
	assert.Equal(t, uint64(1), sub.Dropped())
}

func TestDropNewestKeepsFirst(t *testing.T) {
	b := New[int](Options{Buffer: 1, Overflow: DropNewest})
	sub := b.Subscribe()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, []int{1}, drain(sub))
	assert.Equal(t, uint64(1), sub.Dropped())
}

func TestDeeperBufferPreservesOrder(t *testing.T) {
	b := New[string](Options{Buffer: 3})
	sub := b.Subscribe()

	for _, v := range []string{"a", "b", "c", "d"} {
		b.Publish(v)
	}

	assert.Equal(t, []string{"b", "c", "d"}, drain(sub))
}

func TestSubscribeDepthOverridesBuffer(t *testing.T) {
	b := New[int](DefaultOptions())
	shallow := b.Subscribe()
	deep := b.SubscribeDepth(8)
	floor := b.SubscribeDepth(0)

	for i := 1; i <= 3; i++ {
		b.Publish(i)
	}

	assert.Equal(t, []int{3}, drain(shallow))
	assert.Equal(t, []int{1, 2, 3}, drain(deep))
	assert.Equal(t, []int{3}, drain(floor))
	assert.Zero(t, deep.Dropped())
}

func TestFanOutToEverySubscriber(t *testing.T) {
	b := New[int](Options{Buffer: 4})
	first := b.Subscribe()
	second := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(7)

	assert.Equal(t, []int{7}, drain(first))
	assert.Equal(t, []int{7}, drain(second))
}

func TestReplayToLateSubscriber(t *testing.T) {
	b := New[int](Options{Buffer: 4, Replay: 2})
	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	late := b.Subscribe()
	assert.Equal(t, []int{2, 3}, drain(late))
}

func TestNoReplayByDefault(t *testing.T) {
	b := New[int](DefaultOptions())
	b.Publish(1)

	late := b.Subscribe()
	assert.Empty(t, drain(late))
}

func TestCloseSubscription(t *testing.T) {
	b := New[int](DefaultOptions())
	sub := b.Subscribe()
	sub.Close()
	sub.Close()

	assert.Equal(t, 0, b.Subscribers())
	b.Publish(1)

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestCloseBroadcaster(t *testing.T) {
	b := New[int](DefaultOptions())
	sub := b.Subscribe()

	b.Close()
	b.Close()

	assert.False(t, b.Publish(1))
	_, ok := <-sub.C()
	assert.False(t, ok)

	after := b.Subscribe()
	_, ok = <-after.C()
	assert.False(t, ok)
	sub.Close()
}

func TestParseOverflow(t *testing.T) {
	o, ok := ParseOverflow("drop-newest")
	assert.True(t, ok)
	assert.Equal(t, DropNewest, o)

	o, ok = ParseOverflow("")
	assert.True(t, ok)
	assert.Equal(t, DropOldest, o)

	_, ok = ParseOverflow("block")
	assert.False(t, ok)
}
