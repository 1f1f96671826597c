package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	fp "path/filepath"
	"strconv"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/lib/cache"
	"github.com/pyropy/dbs/lib/checksum"
	"github.com/pyropy/dbs/lib/cmap"
)

const readCacheSize = 64

var (
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrInsufficientSpace = errors.New("insufficient storage space")
	ErrChecksumMismatch  = errors.New("stored chunk does not match its checksum")
)

// Store persists chunk bytes as files under dir and chunk metadata in a
// datastore. Updates to one chunk are serialized by a per-chunk lock.
type Store struct {
	dir      string
	meta     ds.Datastore
	lru      *cache.LRU[model.ChunkID]
	locks    cmap.Map[model.ChunkID, *sync.Mutex]
	capacity int64

	usedMu sync.Mutex
	used   int64
}

// Open creates a store rooted at dir. Chunk metadata lives in the "chunks"
// namespace of root. A capacity of zero means unlimited.
func Open(ctx context.Context, dir string, root ds.Datastore, capacity int64) (*Store, error) {
	if err := os.MkdirAll(fp.Join(dir, "chunks"), 0750); err != nil {
		return nil, err
	}

	s := &Store{
		dir:      dir,
		meta:     namespace.Wrap(root, ds.NewKey("chunks")),
		lru:      cache.NewLRU[model.ChunkID](readCacheSize),
		locks:    cmap.NewMap[model.ChunkID, *sync.Mutex](),
		capacity: capacity,
	}

	all, err := s.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunk metadata: %w", err)
	}

	for _, m := range all {
		s.used += int64(m.Size)
	}

	return s, nil
}

func chunkKey(id model.ChunkID) ds.Key {
	return ds.NewKey(id.FileID).ChildString(strconv.Itoa(id.ChunkNo))
}

func GetChunkFilename(id model.ChunkID) string {
	return fmt.Sprintf("%d.chunk", id.ChunkNo)
}

func (s *Store) GetChunkPath(id model.ChunkID) string {
	return fp.Join(s.dir, "chunks", id.FileID, GetChunkFilename(id))
}

func (s *Store) lock(id model.ChunkID) func() {
	mu, _ := s.locks.GetOrSet(id, &sync.Mutex{})
	mu.Lock()

	return mu.Unlock
}

func (s *Store) reserve(n int64) bool {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()

	if s.capacity > 0 && s.used+n > s.capacity {
		return false
	}

	s.used += n
	return true
}

func (s *Store) release(n int64) {
	s.usedMu.Lock()
	s.used -= n
	s.usedMu.Unlock()
}

// UsedBytes returns the total size of the stored chunks.
func (s *Store) UsedBytes() int64 {
	s.usedMu.Lock()
	defer s.usedMu.Unlock()

	return s.used
}

// Put stores the chunk bytes and its metadata. Storing a chunk that is
// already present only merges the given mirrors.
func (s *Store) Put(ctx context.Context, chunk model.Chunk, mirrors []model.PeerAddress) error {
	if err := model.ValidateFileID(chunk.ID.FileID); err != nil {
		return err
	}

	unlock := s.lock(chunk.ID)
	defer unlock()

	if existing, err := s.getMetadata(ctx, chunk.ID); err == nil {
		changed := false
		for _, p := range mirrors {
			changed = existing.AddMirror(p) || changed
		}

		if !changed {
			return nil
		}

		return s.putMetadata(ctx, existing)
	} else if !errors.Is(err, ErrChunkNotFound) {
		return err
	}

	size := int64(len(chunk.Data))
	if !s.reserve(size) {
		return fmt.Errorf("%w: %d bytes for %s", ErrInsufficientSpace, size, chunk.ID)
	}

	if err := s.writeChunkFile(chunk); err != nil {
		s.release(size)
		return err
	}

	metadata := &model.ChunkMetadata{
		ID:                chunk.ID,
		ReplicationDegree: chunk.ReplicationDegree,
		Size:              len(chunk.Data),
		Checksum:          checksum.CalculateCheckSum(chunk.Data),
		StoredAt:          time.Now(),
	}
	for _, p := range mirrors {
		metadata.AddMirror(p)
	}

	if err := s.putMetadata(ctx, metadata); err != nil {
		os.Remove(s.GetChunkPath(chunk.ID))
		s.release(size)
		return err
	}

	return nil
}

// writeChunkFile writes to a temporary file first so a crash never leaves a
// partially written chunk under its final name.
func (s *Store) writeChunkFile(chunk model.Chunk) error {
	path := s.GetChunkPath(chunk.ID)
	if err := os.MkdirAll(fp.Dir(path), 0750); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, chunk.Data, 0640); err != nil {
		return fmt.Errorf("write chunk %s: %w", chunk.ID, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename chunk %s: %w", chunk.ID, err)
	}

	return nil
}

func (s *Store) Has(ctx context.Context, id model.ChunkID) bool {
	exists, err := s.meta.Has(ctx, chunkKey(id))
	return err == nil && exists
}

// Get loads the chunk bytes and verifies them against the stored checksum.
func (s *Store) Get(ctx context.Context, id model.ChunkID) ([]byte, error) {
	if data, ok := s.lru.Get(id); ok {
		return data, nil
	}

	metadata, err := s.getMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.GetChunkPath(id))
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", id, err)
	}

	if checksum.CalculateCheckSum(data) != metadata.Checksum || len(data) != metadata.Size {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, id)
	}

	s.lru.Put(id, data)
	return data, nil
}

func (s *Store) Metadata(ctx context.Context, id model.ChunkID) (*model.ChunkMetadata, error) {
	return s.getMetadata(ctx, id)
}

// AddMirror records that peer also stores the chunk. It is a no-op for
// chunks that are not stored locally.
func (s *Store) AddMirror(ctx context.Context, id model.ChunkID, peer model.PeerAddress) error {
	unlock := s.lock(id)
	defer unlock()

	metadata, err := s.getMetadata(ctx, id)
	if errors.Is(err, ErrChunkNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if !metadata.AddMirror(peer) {
		return nil
	}

	return s.putMetadata(ctx, metadata)
}

// RemoveMirror drops peer from the mirror set and returns the updated
// metadata. It returns ErrChunkNotFound for chunks that are not stored.
func (s *Store) RemoveMirror(ctx context.Context, id model.ChunkID, peer model.PeerAddress) (*model.ChunkMetadata, error) {
	unlock := s.lock(id)
	defer unlock()

	metadata, err := s.getMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	if !metadata.RemoveMirror(peer) {
		return metadata, nil
	}

	if err := s.putMetadata(ctx, metadata); err != nil {
		return nil, err
	}

	return metadata, nil
}

// Delete removes a chunk. Deleting an absent chunk is not an error.
func (s *Store) Delete(ctx context.Context, id model.ChunkID) error {
	unlock := s.lock(id)
	defer unlock()

	metadata, err := s.getMetadata(ctx, id)
	if errors.Is(err, ErrChunkNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if err := s.meta.Delete(ctx, chunkKey(id)); err != nil {
		return err
	}

	s.lru.Remove(id)
	s.release(int64(metadata.Size))

	if err := os.Remove(s.GetChunkPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove chunk %s: %w", id, err)
	}

	return nil
}

// DeleteFile removes every stored chunk of the file and returns how many
// chunks were removed.
func (s *Store) DeleteFile(ctx context.Context, fileID string) (int, error) {
	if err := model.ValidateFileID(fileID); err != nil {
		return 0, err
	}

	ids, err := s.ChunksOfFile(ctx, fileID)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}

	os.Remove(fp.Join(s.dir, "chunks", fileID))

	return len(ids), nil
}

func (s *Store) ChunksOfFile(ctx context.Context, fileID string) ([]model.ChunkID, error) {
	all, err := s.query(ctx, dsq.Query{Prefix: ds.NewKey(fileID).String()})
	if err != nil {
		return nil, err
	}

	ids := make([]model.ChunkID, 0, len(all))
	for _, m := range all {
		if m.ID.FileID == fileID {
			ids = append(ids, m.ID)
		}
	}

	return ids, nil
}

func (s *Store) All(ctx context.Context) ([]model.ChunkMetadata, error) {
	return s.query(ctx, dsq.Query{})
}

func (s *Store) query(ctx context.Context, q dsq.Query) ([]model.ChunkMetadata, error) {
	res, err := s.meta.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	entries, err := res.Rest()
	if err != nil {
		return nil, err
	}

	chunks := make([]model.ChunkMetadata, 0, len(entries))
	for _, e := range entries {
		var m model.ChunkMetadata
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return nil, fmt.Errorf("decode chunk metadata %s: %w", e.Key, err)
		}

		chunks = append(chunks, m)
	}

	return chunks, nil
}

func (s *Store) getMetadata(ctx context.Context, id model.ChunkID) (*model.ChunkMetadata, error) {
	b, err := s.meta.Get(ctx, chunkKey(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrChunkNotFound
	} else if err != nil {
		return nil, err
	}

	var m model.ChunkMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode chunk metadata %s: %w", id, err)
	}

	return &m, nil
}

func (s *Store) putMetadata(ctx context.Context, m *model.ChunkMetadata) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	return s.meta.Put(ctx, chunkKey(m.ID), b)
}
