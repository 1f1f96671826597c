package peer

import (
	"testing"

	"github.com/pyropy/dbs/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestTrackerReachesNeeded(t *testing.T) {
	tracker := NewReplicationTracker()
	id := model.ChunkID{FileID: "f1", ChunkNo: 0}
	a := model.PeerAddress{IP: "10.0.0.1", Port: 1}
	b := model.PeerAddress{IP: "10.0.0.2", Port: 1}

	assert.False(t, tracker.Confirm(id, a))

	inFlight, err := tracker.Start(id, 2)
	require.NoError(t, err)

	_, err = tracker.Start(id, 2)
	assert.ErrorIs(t, err, ErrBackupInProgress)

	assert.True(t, tracker.Confirm(id, a))
	assert.True(t, tracker.Confirm(id, a))
	assert.False(t, isClosed(inFlight.Reached()))

	assert.True(t, tracker.Confirm(id, b))
	assert.True(t, isClosed(inFlight.Reached()))
	assert.Equal(t, []model.PeerAddress{a, b}, inFlight.Confirmed())

	// confirmations past the needed count do not close twice
	assert.True(t, tracker.Confirm(id, model.PeerAddress{IP: "10.0.0.3", Port: 1}))
	assert.Len(t, inFlight.Confirmed(), 3)

	tracker.Finish(id)
	assert.Zero(t, tracker.InFlight())
	assert.False(t, tracker.Confirm(id, a))
}

func TestTrackerNothingNeeded(t *testing.T) {
	tracker := NewReplicationTracker()

	inFlight, err := tracker.Start(model.ChunkID{FileID: "f1", ChunkNo: 0}, 0)
	require.NoError(t, err)
	assert.True(t, isClosed(inFlight.Reached()))
}
