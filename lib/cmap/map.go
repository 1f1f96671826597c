package cmap

import "sync"

// Map is a typed wrapper around sync.Map.
type Map[K comparable, V any] struct {
	cMap sync.Map
}

func NewMap[K comparable, V any]() Map[K, V] {
	return Map[K, V]{}
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, exists := m.cMap.Load(k)
	if !exists {
		var zero V
		return zero, false
	}

	return v.(V), true
}

func (m *Map[K, V]) Set(k K, v V) {
	m.cMap.Store(k, v)
}

// GetOrSet returns the existing value for k if present. Otherwise it stores
// and returns v. The loaded result is true if the value was already present.
func (m *Map[K, V]) GetOrSet(k K, v V) (V, bool) {
	actual, loaded := m.cMap.LoadOrStore(k, v)
	return actual.(V), loaded
}

func (m *Map[K, V]) Delete(k K) {
	m.cMap.Delete(k)
}

func (m *Map[K, V]) Range(f func(k K, v V) bool) {
	m.cMap.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}
