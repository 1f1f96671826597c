package cache

import "sync"

type LRUNode[K comparable] struct {
	Key K
	Val []byte

	Prev *LRUNode[K]
	Next *LRUNode[K]
}

// LRU keeps the most recently used byte slices up to capacity entries.
// It is safe for concurrent use.
type LRU[K comparable] struct {
	mu       sync.Mutex
	capacity int
	cache    map[K]*LRUNode[K]

	left  *LRUNode[K]
	right *LRUNode[K]
}

func NewLRU[K comparable](capacity int) *LRU[K] {
	left, right := &LRUNode[K]{}, &LRUNode[K]{}

	left.Next = right
	right.Prev = left

	return &LRU[K]{
		left:     left,
		right:    right,
		capacity: capacity,
		cache:    make(map[K]*LRUNode[K]),
	}
}

func (l *LRU[K]) Put(key K, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, exists := l.cache[key]
	if exists {
		l.deleteNode(node)
	}

	node = &LRUNode[K]{Key: key, Val: value}
	l.cache[key] = node
	l.insertNode(node)

	if l.capacityReached() {
		l.evict()
	}
}

func (l *LRU[K]) Get(key K) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, exists := l.cache[key]
	if !exists {
		return []byte{}, exists
	}

	l.deleteNode(node)
	l.insertNode(node)

	return node.Val, exists
}

// Remove drops key from the cache if present.
func (l *LRU[K]) Remove(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, exists := l.cache[key]
	if !exists {
		return
	}

	l.deleteNode(node)
	delete(l.cache, key)
}

func (l *LRU[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.cache)
}

func (l *LRU[K]) capacityReached() bool {
	return len(l.cache) > l.capacity
}

func (l *LRU[K]) evict() {
	lru := l.left.Next
	l.deleteNode(lru)

	delete(l.cache, lru.Key)
}

func (l *LRU[K]) insertNode(node *LRUNode[K]) {
	prev, next := l.right.Prev, l.right

	node.Prev = prev
	node.Next = next

	prev.Next = node
	next.Prev = node
}

func (l *LRU[K]) deleteNode(node *LRUNode[K]) {
	prev, next := node.Prev, node.Next

	prev.Next = next
	next.Prev = prev
}
