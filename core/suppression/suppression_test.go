package suppression

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pyropy/dbs/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var chunkF1 = model.ChunkID{FileID: "f1", ChunkNo: 0}

func fixed(d time.Duration) DelayFunc {
	return func(time.Duration) time.Duration { return d }
}

func peer(i int) model.PeerAddress {
	return model.PeerAddress{IP: fmt.Sprintf("10.0.0.%d", i), Port: 5000}
}

func TestUniformDelayBounds(t *testing.T) {
	assert.Zero(t, UniformDelay(0))
	assert.Zero(t, UniformDelay(-time.Second))

	for i := 0; i < 1000; i++ {
		d := UniformDelay(400 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestOpenOncePerKind(t *testing.T) {
	s := New(time.Second, WithDelay(fixed(0)))

	w, ok := s.Open(PendingStore, chunkF1)
	require.True(t, ok)

	_, ok = s.Open(PendingStore, chunkF1)
	assert.False(t, ok)

	_, ok = s.Open(PendingSend, chunkF1)
	assert.True(t, ok)

	_, err := w.Wait(context.Background())
	require.NoError(t, err)

	assert.False(t, s.IsOpen(PendingStore, chunkF1))
	assert.True(t, s.IsOpen(PendingSend, chunkF1))

	_, ok = s.Open(PendingStore, chunkF1)
	assert.True(t, ok)
}

func TestObserveWithoutWindow(t *testing.T) {
	s := New(time.Second, WithMemory(0))

	assert.False(t, s.Observe(PendingStore, chunkF1, peer(1)))

	w, ok := s.Open(PendingStore, chunkF1)
	require.True(t, ok)
	assert.Zero(t, w.Count())
}

func TestRecentSightingsSeedWindow(t *testing.T) {
	s := New(time.Second, WithDelay(fixed(0)))

	assert.False(t, s.Observe(PendingStore, chunkF1, peer(1)))
	assert.False(t, s.Observe(PendingSend, chunkF1, peer(2)))

	w, ok := s.Open(PendingStore, chunkF1)
	require.True(t, ok)
	assert.Equal(t, 1, w.Count())

	_, err := w.Wait(context.Background())
	require.NoError(t, err)

	// sightings are consumed by the window that counted them
	w, ok = s.Open(PendingStore, chunkF1)
	require.True(t, ok)
	assert.Zero(t, w.Count())
}

func TestStaleSightingsIgnored(t *testing.T) {
	s := New(20*time.Millisecond, WithDelay(fixed(0)))

	s.Observe(PendingStore, chunkF1, peer(1))
	time.Sleep(40 * time.Millisecond)

	w, ok := s.Open(PendingStore, chunkF1)
	require.True(t, ok)
	assert.Zero(t, w.Count())
}

func TestObserveCountsDistinctPeers(t *testing.T) {
	s := New(time.Second, WithDelay(fixed(0)))

	w, ok := s.Open(PendingStore, chunkF1)
	require.True(t, ok)

	assert.True(t, s.Observe(PendingStore, chunkF1, peer(1)))
	assert.True(t, s.Observe(PendingStore, chunkF1, peer(1)))
	assert.True(t, s.Observe(PendingStore, chunkF1, peer(2)))
	assert.False(t, s.Observe(PendingSend, chunkF1, peer(3)))
	assert.False(t, s.Observe(PendingStore, model.ChunkID{FileID: "f1", ChunkNo: 1}, peer(3)))

	assert.Equal(t, 2, w.Count())

	observed, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.PeerAddress{peer(1), peer(2)}, observed)
}

// Scripted N-1 prior responses: the Nth peer sees threshold reached and
// must not act.
func TestScriptedResponsesSuppressLastPeer(t *testing.T) {
	for _, n := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := New(time.Second, WithDelay(fixed(20*time.Millisecond)))
			threshold := n - 1

			w, ok := s.Open(PendingStore, chunkF1)
			require.True(t, ok)

			for i := 1; i < n; i++ {
				s.Observe(PendingStore, chunkF1, peer(i))
			}

			observed, err := w.Wait(context.Background())
			require.NoError(t, err)
			assert.GreaterOrEqual(t, len(observed), threshold)
		})
	}
}

func TestObservationsDuringWait(t *testing.T) {
	s := New(time.Second, WithDelay(fixed(100*time.Millisecond)))

	w, ok := s.Open(PendingSend, chunkF1)
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		s.Observe(PendingSend, chunkF1, peer(7))
	}()

	observed, err := w.Wait(context.Background())
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, []model.PeerAddress{peer(7)}, observed)
}

func TestWaitCancelled(t *testing.T) {
	s := New(time.Second, WithDelay(fixed(time.Hour)))

	w, ok := s.Open(PendingBackup, chunkF1)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.IsOpen(PendingBackup, chunkF1))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "pending_store", PendingStore.String())
	assert.Equal(t, "pending_send", PendingSend.String())
	assert.Equal(t, "pending_backup", PendingBackup.String())
}
