package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZeroValueIsIdle(t *testing.T) {
	var r Resource[int]
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, r.Terminal())
}

func TestStates(t *testing.T) {
	tests := []struct {
		name     string
		r        Resource[string]
		state    State
		terminal bool
	}{
		{"idle", Idle[string](), StateIdle, false},
		{"loading", Loading[string](), StateLoading, false},
		{"success", Success("hi"), StateSuccess, true},
		{"error", Error[string]("boom"), StateError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, tt.r.State())
			assert.Equal(t, tt.terminal, tt.r.Terminal())
			assert.Equal(t, tt.name, tt.state.String())
		})
	}
}

func TestValueOnlyOnSuccess(t *testing.T) {
	v, ok := Success(42).Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = Error[int]("nope").Value()
	assert.False(t, ok)
}

func TestFromErr(t *testing.T) {
	r := FromErr[[]int](errors.New("permission denied"))
	assert.True(t, r.IsError())
	assert.Equal(t, "permission denied", r.Err())
	assert.Equal(t, "error(permission denied)", r.String())
}

func TestLast(t *testing.T) {
	ch := make(chan Resource[int], 2)
	ch <- Loading[int]()
	ch <- Success(3)
	close(ch)

	r := Last(ch)
	v, ok := r.Value()
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	empty := make(chan Resource[int])
	close(empty)
	assert.Equal(t, StateIdle, Last(empty).State())
}
