package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU[string](2)

	l.Put("a", []byte("1"))
	l.Put("b", []byte("2"))

	// touch a so that b becomes the eviction candidate
	_, ok := l.Get("a")
	require.True(t, ok)

	l.Put("c", []byte("3"))

	_, ok = l.Get("b")
	assert.False(t, ok)

	v, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, l.Len())
}

func TestLRURemove(t *testing.T) {
	l := NewLRU[int](4)
	l.Put(1, []byte("x"))
	l.Remove(1)
	l.Remove(42)

	_, ok := l.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}
