package suppression

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/lib/utils"
)

// Kind selects which competing message a window counts.
type Kind int

const (
	// PendingStore counts STORED while deciding whether to store a PUTCHUNK.
	PendingStore Kind = iota
	// PendingSend counts CHUNK while deciding whether to answer a GETCHUNK.
	PendingSend
	// PendingBackup counts PUTCHUNK while deciding whether to re-back up a
	// chunk that became under-replicated after REMOVED.
	PendingBackup
)

func (k Kind) String() string {
	switch k {
	case PendingStore:
		return "pending_store"
	case PendingSend:
		return "pending_send"
	case PendingBackup:
		return "pending_backup"
	default:
		return "unknown"
	}
}

type key struct {
	kind Kind
	id   model.ChunkID
}

// DelayFunc picks the length of an observation window given the configured
// maximum.
type DelayFunc func(max time.Duration) time.Duration

// UniformDelay draws a delay uniformly from [0, max].
func UniformDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(int64(max) + 1))
}

type Option func(*Suppressor)

func WithDelay(f DelayFunc) Option {
	return func(s *Suppressor) {
		s.delay = f
	}
}

// WithMemory sets how long a competing message seen while no window was open
// still counts toward a window opened afterwards. It defaults to the maximum
// delay.
func WithMemory(d time.Duration) Option {
	return func(s *Suppressor) {
		s.memory = d
	}
}

type sighting struct {
	from model.PeerAddress
	at   time.Time
}

// Suppressor keeps the open observation windows of one peer. At most one
// window per kind and chunk is open at a time.
type Suppressor struct {
	maxDelay time.Duration
	memory   time.Duration
	delay    DelayFunc

	mu        sync.Mutex
	windows   map[key]*Window
	recent    map[key][]sighting
	lastPrune time.Time
}

func New(maxDelay time.Duration, opts ...Option) *Suppressor {
	s := &Suppressor{
		maxDelay: maxDelay,
		memory:   maxDelay,
		delay:    UniformDelay,
		windows:  make(map[key]*Window),
		recent:   make(map[key][]sighting),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// pruneLocked forgets sightings older than the memory. It runs at most once
// per memory period.
func (s *Suppressor) pruneLocked(now time.Time) {
	if now.Sub(s.lastPrune) < s.memory {
		return
	}
	s.lastPrune = now

	for k, seen := range s.recent {
		fresh := seen[:0]
		for _, st := range seen {
			if now.Sub(st.at) <= s.memory {
				fresh = append(fresh, st)
			}
		}

		if len(fresh) == 0 {
			delete(s.recent, k)
		} else {
			s.recent[k] = fresh
		}
	}
}

// Open starts a window for the chunk. It returns false if a window of the
// same kind is already open for it.
func (s *Suppressor) Open(kind Kind, id model.ChunkID) (*Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{kind: kind, id: id}
	if _, exists := s.windows[k]; exists {
		return nil, false
	}

	w := &Window{
		s:     s,
		key:   k,
		delay: s.delay(s.maxDelay),
	}

	now := time.Now()
	s.pruneLocked(now)
	for _, st := range s.recent[k] {
		if now.Sub(st.at) <= s.memory {
			w.observe(st.from)
		}
	}
	delete(s.recent, k)

	s.windows[k] = w

	return w, true
}

// Observe records a competing message from peer. It reports whether a
// window was open to count it. Messages seen with no open window are kept
// for the memory period.
func (s *Suppressor) Observe(kind Kind, id model.ChunkID, from model.PeerAddress) bool {
	k := key{kind: kind, id: id}

	s.mu.Lock()
	w, exists := s.windows[k]
	if !exists {
		if s.memory > 0 {
			now := time.Now()
			s.pruneLocked(now)
			s.recent[k] = append(s.recent[k], sighting{from: from, at: now})
		}
		s.mu.Unlock()

		return false
	}
	s.mu.Unlock()

	w.observe(from)
	return true
}

// IsOpen reports whether a window of kind is open for the chunk.
func (s *Suppressor) IsOpen(kind Kind, id model.ChunkID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.windows[key{kind: kind, id: id}]
	return exists
}

func (s *Suppressor) close(w *Window) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windows[w.key] == w {
		delete(s.windows, w.key)
	}
}

// Window counts distinct peers that sent a competing message while it is
// open.
type Window struct {
	s     *Suppressor
	key   key
	delay time.Duration

	mu       sync.Mutex
	observed []model.PeerAddress
}

func (w *Window) Kind() Kind {
	return w.key.kind
}

func (w *Window) Delay() time.Duration {
	return w.delay
}

func (w *Window) observe(from model.PeerAddress) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !utils.Contains(w.observed, from) {
		w.observed = append(w.observed, from)
	}
}

// Count returns the number of distinct peers observed so far.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.observed)
}

// Wait blocks until the window delay elapses, closes the window and returns
// the peers observed during it.
func (w *Window) Wait(ctx context.Context) ([]model.PeerAddress, error) {
	timer := time.NewTimer(w.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		w.s.close(w)
		return nil, ctx.Err()
	}

	w.s.close(w)

	w.mu.Lock()
	defer w.mu.Unlock()

	observed := make([]model.PeerAddress, len(w.observed))
	copy(observed, w.observed)

	return observed, nil
}
