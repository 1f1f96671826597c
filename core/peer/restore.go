package peer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	fp "path/filepath"
	"sync"
	"time"

	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
	"github.com/pyropy/dbs/core/suppression"
)

// restoreFeed receives CHUNK bodies for a file being restored. Only chunk
// numbers that are currently awaited are delivered.
type restoreFeed struct {
	mu      sync.Mutex
	pending map[int]chan []byte
}

func newRestoreFeed() *restoreFeed {
	return &restoreFeed{pending: make(map[int]chan []byte)}
}

func (f *restoreFeed) expect(chunkNo int) <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan []byte, 1)
	f.pending[chunkNo] = ch

	return ch
}

func (f *restoreFeed) deliver(chunkNo int, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.pending[chunkNo]
	if !ok {
		return false
	}

	delete(f.pending, chunkNo)
	ch <- data

	return true
}

func (f *restoreFeed) cancel(chunkNo int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.pending, chunkNo)
}

type RestoreResult struct {
	FileID     string
	OutputPath string
	Size       int64
	Chunks     int
}

// Restore fetches every chunk of a file this peer backed up, in increasing
// chunk order, and writes the reassembled content to out. An empty out
// restores over the original path.
func (p *Peer) Restore(ctx context.Context, path model.FilePath, out string) (*RestoreResult, error) {
	path, err := fp.Abs(path)
	if err != nil {
		return nil, err
	}

	record, err := p.files.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	if out == "" {
		out = path
	}

	feed := newRestoreFeed()
	if _, loaded := p.feeds.GetOrSet(record.FileID, feed); loaded {
		return nil, fmt.Errorf("%w: %s", ErrRestoreInProgress, path)
	}
	defer p.feeds.Delete(record.FileID)

	p.log.Infow("restore", "status", "started", "path", path, "file", record.FileID, "chunks", record.NumChunks)

	var buf bytes.Buffer
	buf.Grow(int(record.Size))

	for no := 0; no < record.NumChunks; no++ {
		data, err := p.restoreChunk(ctx, feed, model.ChunkID{FileID: record.FileID, ChunkNo: no})
		if err != nil {
			p.metrics.RestoreResults.WithLabelValues("failed").Inc()
			p.log.Errorw("restore", "status", "failed", "path", path, "chunk", no, "error", err)
			return nil, err
		}

		p.metrics.RestoreResults.WithLabelValues("restored").Inc()
		buf.Write(data)
	}

	fileID, err := model.NewFileID(path, buf.Bytes())
	if err != nil {
		return nil, err
	}

	if fileID != record.FileID || int64(buf.Len()) != record.Size {
		return nil, fmt.Errorf("%w: %s", ErrRestoreMismatch, path)
	}

	if err := writeFileAtomic(out, buf.Bytes()); err != nil {
		return nil, err
	}

	p.log.Infow("restore", "status", "finished", "path", path, "output", out, "size", buf.Len())

	return &RestoreResult{
		FileID:     record.FileID,
		OutputPath: out,
		Size:       int64(buf.Len()),
		Chunks:     record.NumChunks,
	}, nil
}

// restoreChunk sends GETCHUNK and waits for the matching CHUNK, retrying a
// bounded number of times.
func (p *Peer) restoreChunk(ctx context.Context, feed *restoreFeed, id model.ChunkID) ([]byte, error) {
	received := feed.expect(id.ChunkNo)
	defer feed.cancel(id.ChunkNo)

	for attempt := 0; attempt < p.cfg.Protocol.RestoreAttempts; attempt++ {
		p.send(channel.Control, protocol.NewGetChunk(id))

		timer := time.NewTimer(p.cfg.Protocol.RestoreTimeout)
		select {
		case data := <-received:
			timer.Stop()
			return data, nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrChunkUnavailable, id)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(fp.Dir(path), 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fp.Dir(path), "."+fp.Base(path)+".restore-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return nil
}

func (p *Peer) handleGetChunk(ctx context.Context, from model.PeerAddress, msg *protocol.Message) {
	id := msg.ChunkID()

	if !p.store.Has(ctx, id) {
		return
	}

	window, ok := p.suppressor.Open(suppression.PendingSend, id)
	if !ok {
		return
	}

	observed, err := window.Wait(ctx)
	if err != nil {
		return
	}

	if len(observed) > 0 {
		p.metrics.Suppressed.WithLabelValues(suppression.PendingSend.String()).Inc()
		p.log.Debugw("getchunk", "chunk", id, "status", "suppressed", "from", from)
		return
	}

	data, err := p.store.Get(ctx, id)
	if err != nil {
		p.log.Errorw("getchunk", "chunk", id, "error", err)
		return
	}

	p.send(channel.RestoreData, protocol.NewChunk(id, data))
}

func (p *Peer) handleChunk(_ context.Context, from model.PeerAddress, msg *protocol.Message) {
	id := msg.ChunkID()

	p.suppressor.Observe(suppression.PendingSend, id, from)

	if feed, ok := p.feeds.Get(id.FileID); ok {
		feed.deliver(id.ChunkNo, msg.Body)
	}
}
