package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrotone/vgmcore/header"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)
	_, ok := c.Get("nope.vgm")
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)
	want := &header.GD3{TrackNameEN: "Test Track"}
	c.Put("a.vgm", want)

	got, ok := c.Get("a.vgm")
	require.True(t, ok)
	assert.Same(t, want, got)
}

func TestLRUEviction(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)
	c.Put("a.vgm", &header.GD3{TrackNameEN: "A"})
	c.Put("b.vgm", &header.GD3{TrackNameEN: "B"})

	_, ok := c.Get("a.vgm")
	assert.False(t, ok, "a.vgm should have been evicted once capacity 1 was exceeded")

	got, ok := c.Get("b.vgm")
	require.True(t, ok)
	assert.Equal(t, "B", got.TrackNameEN)
}

func TestRemove(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)
	c.Put("a.vgm", &header.GD3{})
	c.Remove("a.vgm")
	_, ok := c.Get("a.vgm")
	assert.False(t, ok)
}
