package keycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	code int
	up   bool
}

func TestPutAssignsIncreasingIDs(t *testing.T) {
	c, err := New[event](DefaultCapacity)
	require.NoError(t, err)

	down := c.Put(event{code: 29})
	up := c.Put(event{code: 29, up: true})
	assert.Equal(t, 0, down)
	assert.Equal(t, 1, up)
}

func TestReplayIsSingleUse(t *testing.T) {
	c, err := New[event](DefaultCapacity)
	require.NoError(t, err)

	id := c.Put(event{code: 62})
	ev, ok := c.Replay(id)
	require.True(t, ok)
	assert.Equal(t, event{code: 62}, ev)

	_, ok = c.Replay(id)
	assert.False(t, ok, "second replay must miss")
	assert.Equal(t, 0, c.Len())
}

func TestEvictionIsLRU(t *testing.T) {
	c, err := New[event](3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Put(event{code: i})
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 2, c.Evicted())

	_, ok := c.Replay(0)
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Replay(1)
	assert.False(t, ok)
	ev, ok := c.Replay(4)
	require.True(t, ok)
	assert.Equal(t, 4, ev.code)
}

func TestResetRestartsIDs(t *testing.T) {
	c, err := New[event](DefaultCapacity)
	require.NoError(t, err)

	c.Put(event{code: 1})
	c.Put(event{code: 2})
	c.Reset()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.Put(event{code: 3}))
	_, ok := c.Replay(1)
	assert.False(t, ok)
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New[event](0)
	assert.Error(t, err)
}
