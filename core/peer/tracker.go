package peer

import (
	"fmt"
	"sync"

	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/lib/utils"
)

// InFlightBackup collects STORED confirmations for one chunk while this peer
// is backing it up.
type InFlightBackup struct {
	needed int

	mu        sync.Mutex
	confirmed []model.PeerAddress
	reached   chan struct{}
}

// Reached is closed once the needed number of distinct peers confirmed.
func (b *InFlightBackup) Reached() <-chan struct{} {
	return b.reached
}

func (b *InFlightBackup) Confirmed() []model.PeerAddress {
	b.mu.Lock()
	defer b.mu.Unlock()

	confirmed := make([]model.PeerAddress, len(b.confirmed))
	copy(confirmed, b.confirmed)

	return confirmed
}

func (b *InFlightBackup) confirm(from model.PeerAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if utils.Contains(b.confirmed, from) {
		return
	}

	b.confirmed = append(b.confirmed, from)
	if len(b.confirmed) == b.needed {
		close(b.reached)
	}
}

// ReplicationTracker holds the in-flight backups initiated by this peer.
type ReplicationTracker struct {
	mu       sync.Mutex
	inFlight map[model.ChunkID]*InFlightBackup
}

func NewReplicationTracker() *ReplicationTracker {
	return &ReplicationTracker{
		inFlight: make(map[model.ChunkID]*InFlightBackup),
	}
}

// Start begins tracking a backup that needs confirmations from needed
// distinct peers. Only one backup per chunk can be tracked at a time.
func (t *ReplicationTracker) Start(id model.ChunkID, needed int) (*InFlightBackup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.inFlight[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrBackupInProgress, id)
	}

	b := &InFlightBackup{
		needed:  needed,
		reached: make(chan struct{}),
	}
	if needed <= 0 {
		close(b.reached)
	}

	t.inFlight[id] = b
	return b, nil
}

// Confirm records a STORED from peer. It reports whether a backup of the
// chunk is in flight.
func (t *ReplicationTracker) Confirm(id model.ChunkID, from model.PeerAddress) bool {
	t.mu.Lock()
	b, exists := t.inFlight[id]
	t.mu.Unlock()

	if !exists {
		return false
	}

	b.confirm(from)
	return true
}

func (t *ReplicationTracker) Finish(id model.ChunkID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.inFlight, id)
}

func (t *ReplicationTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.inFlight)
}
