package chunkstore

import (
	"context"
	"os"
	fp "path/filepath"
	"testing"

	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/pyropy/dbs/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	peerB = model.PeerAddress{IP: "10.0.0.2", Port: 4000}
	peerC = model.PeerAddress{IP: "10.0.0.3", Port: 4000}
)

func openStore(t *testing.T, dir string, capacity int64) (*Store, func()) {
	t.Helper()

	db, err := leveldb.NewDatastore(fp.Join(dir, "metadata"), nil)
	require.NoError(t, err)

	s, err := Open(context.Background(), dir, db, capacity)
	require.NoError(t, err)

	return s, func() { db.Close() }
}

func newChunk(t *testing.T, fileID string, no int, data []byte) model.Chunk {
	t.Helper()

	c, err := model.NewChunk(fileID, no, 2, data)
	require.NoError(t, err)

	return c
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	c := newChunk(t, "file-a", 0, []byte("hello world"))
	require.NoError(t, s.Put(ctx, c, []model.PeerAddress{peerB}))

	assert.True(t, s.Has(ctx, c.ID))
	assert.False(t, s.Has(ctx, model.ChunkID{FileID: "file-a", ChunkNo: 1}))

	data, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Data, data)

	m, err := s.Metadata(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ReplicationDegree)
	assert.Equal(t, len(c.Data), m.Size)
	assert.Equal(t, []model.PeerAddress{peerB}, m.Mirrors)
	assert.Equal(t, int64(len(c.Data)), s.UsedBytes())
}

func TestGetMissing(t *testing.T) {
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	_, err := s.Get(context.Background(), model.ChunkID{FileID: "nope", ChunkNo: 0})
	assert.ErrorIs(t, err, ErrChunkNotFound)

	_, err = s.Metadata(context.Background(), model.ChunkID{FileID: "nope", ChunkNo: 0})
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestPutTwiceMergesMirrors(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	c := newChunk(t, "file-a", 0, []byte("abc"))
	require.NoError(t, s.Put(ctx, c, []model.PeerAddress{peerB}))
	require.NoError(t, s.Put(ctx, c, []model.PeerAddress{peerB, peerC}))

	m, err := s.Metadata(ctx, c.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.PeerAddress{peerB, peerC}, m.Mirrors)
	assert.Equal(t, int64(3), s.UsedBytes())
}

func TestEmptyChunk(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	c := newChunk(t, "file-a", 3, []byte{})
	require.NoError(t, s.Put(ctx, c, nil))

	data, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMirrorUpdates(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	c := newChunk(t, "file-a", 0, []byte("abc"))
	require.NoError(t, s.Put(ctx, c, nil))

	require.NoError(t, s.AddMirror(ctx, c.ID, peerB))
	require.NoError(t, s.AddMirror(ctx, c.ID, peerB))
	require.NoError(t, s.AddMirror(ctx, c.ID, peerC))

	m, err := s.Metadata(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.CurrentReplication())

	m, err = s.RemoveMirror(ctx, c.ID, peerB)
	require.NoError(t, err)
	assert.Equal(t, []model.PeerAddress{peerC}, m.Mirrors)

	// unknown chunks are ignored
	require.NoError(t, s.AddMirror(ctx, model.ChunkID{FileID: "other", ChunkNo: 0}, peerB))
	_, err = s.RemoveMirror(ctx, model.ChunkID{FileID: "other", ChunkNo: 0}, peerB)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	c := newChunk(t, "file-a", 0, []byte("abc"))
	require.NoError(t, s.Put(ctx, c, nil))

	require.NoError(t, s.Delete(ctx, c.ID))
	require.NoError(t, s.Delete(ctx, c.ID))

	assert.False(t, s.Has(ctx, c.ID))
	assert.Zero(t, s.UsedBytes())

	_, err := os.Stat(s.GetChunkPath(c.ID))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, newChunk(t, "file-a", i, []byte("abc")), nil))
	}
	require.NoError(t, s.Put(ctx, newChunk(t, "file-ab", 0, []byte("xyz")), nil))

	ids, err := s.ChunksOfFile(ctx, "file-a")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	n, err := s.DeleteFile(ctx, "file-a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.DeleteFile(ctx, "file-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "file-ab", all[0].ID.FileID)
}

func TestPathLikeFileIDRejected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, closeDB := openStore(t, fp.Join(dir, "store"), 0)
	defer closeDB()

	evil := model.Chunk{
		ID:                model.ChunkID{FileID: "../../escape", ChunkNo: 0},
		ReplicationDegree: 1,
		Data:              []byte("evil"),
	}

	err := s.Put(ctx, evil, nil)
	assert.ErrorIs(t, err, model.ErrInvalidFileID)

	_, err = os.Stat(fp.Join(dir, "escape", GetChunkFilename(evil.ID)))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, s.Has(ctx, model.ChunkID{FileID: "escape", ChunkNo: 0}))
	assert.Zero(t, s.UsedBytes())

	_, err = s.DeleteFile(ctx, "..")
	assert.ErrorIs(t, err, model.ErrInvalidFileID)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, closeDB := openStore(t, dir, 0)
	c := newChunk(t, "file-a", 0, []byte("persisted"))
	require.NoError(t, s.Put(ctx, c, []model.PeerAddress{peerB}))
	closeDB()

	s, closeDB = openStore(t, dir, 0)
	defer closeDB()

	data, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Data, data)
	assert.Equal(t, int64(len(c.Data)), s.UsedBytes())
}

func TestCorruptionDetected(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 0)
	defer closeDB()

	c := newChunk(t, "file-a", 0, []byte("original"))
	require.NoError(t, s.Put(ctx, c, nil))
	require.NoError(t, os.WriteFile(s.GetChunkPath(c.ID), []byte("tampered"), 0640))

	_, err := s.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestCapacity(t *testing.T) {
	ctx := context.Background()
	s, closeDB := openStore(t, t.TempDir(), 10)
	defer closeDB()

	require.NoError(t, s.Put(ctx, newChunk(t, "file-a", 0, make([]byte, 8)), nil))

	err := s.Put(ctx, newChunk(t, "file-a", 1, make([]byte, 8)), nil)
	assert.ErrorIs(t, err, ErrInsufficientSpace)
	assert.False(t, s.Has(ctx, model.ChunkID{FileID: "file-a", ChunkNo: 1}))
	assert.Equal(t, int64(8), s.UsedBytes())
}
