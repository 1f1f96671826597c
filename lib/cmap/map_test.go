package cmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	m := NewMap[string, int]()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, loaded := m.GetOrSet("a", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = m.GetOrSet("b", 2)
	assert.False(t, loaded)
	assert.Equal(t, 2, v)

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 3, sum)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestGetOrSetConcurrent(t *testing.T) {
	m := NewMap[int, *sync.Mutex]()

	var wg sync.WaitGroup
	results := make([]*sync.Mutex, 16)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = m.GetOrSet(1, &sync.Mutex{})
		}()
	}
	wg.Wait()

	for _, mu := range results {
		assert.Same(t, results[0], mu)
	}
}
