package peer

import (
	"context"
	"errors"
	"fmt"
	"os"
	fp "path/filepath"
	"time"

	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
	"github.com/pyropy/dbs/core/suppression"
	"golang.org/x/sync/errgroup"
)

// ChunkResult is the outcome of backing up one chunk. Replication counts
// every peer known to hold the chunk after the attempt.
type ChunkResult struct {
	ID          model.ChunkID
	Replication int
	Attempts    int
	Degraded    bool
}

type BackupResult struct {
	FileID   string
	Chunks   []ChunkResult
	Degraded bool
}

// Backup splits the file at path into chunks and backs them up with the
// requested replication degree. Chunks that stay under-replicated make the
// result degraded; that is not an error.
func (p *Peer) Backup(ctx context.Context, path model.FilePath, replicationDegree int) (*BackupResult, error) {
	if replicationDegree < 1 || replicationDegree > model.MaxReplicationDegree {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidReplicationDegree, replicationDegree)
	}

	path, err := fp.Abs(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fileID, err := model.NewFileID(path, content)
	if err != nil {
		return nil, err
	}

	chunks, err := SplitChunks(fileID, content, p.cfg.Protocol.ChunkSize, replicationDegree)
	if err != nil {
		return nil, err
	}

	if err := p.replaceFileRecord(ctx, path, fileID); err != nil {
		return nil, err
	}

	record := model.NewFileMetadata(path, fileID, int64(len(content)), len(chunks), replicationDegree)
	if err := p.files.AddNewFileMetadata(ctx, record); err != nil {
		return nil, err
	}

	p.log.Infow("backup", "status", "started", "path", path, "file", fileID, "chunks", len(chunks), "replication", replicationDegree)

	results := make([]ChunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Protocol.BackupConcurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			res, err := p.BackupChunk(gctx, chunk, false)
			if err != nil {
				return err
			}

			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BackupResult{FileID: fileID, Chunks: results}
	for _, r := range results {
		if r.Degraded {
			result.Degraded = true
		}
	}

	p.log.Infow("backup", "status", "finished", "path", path, "file", fileID, "degraded", result.Degraded)

	return result, nil
}

// replaceFileRecord deletes the previous version of a file that changed since
// it was last backed up.
func (p *Peer) replaceFileRecord(ctx context.Context, path model.FilePath, fileID string) error {
	previous, err := p.files.Get(ctx, path)
	if errors.Is(err, ErrFileNotBackedUp) {
		return nil
	} else if err != nil {
		return err
	}

	if previous.FileID == fileID {
		return nil
	}

	p.log.Infow("backup", "status", "replacing previous version", "path", path, "file", previous.FileID)
	p.sendDelete(ctx, previous.FileID)

	return p.files.Remove(ctx, *previous)
}

// BackupChunk multicasts PUTCHUNK until the desired replication degree is
// confirmed by STORED or the attempts run out. The timeout doubles after
// every attempt. A peer that already holds the chunk counts itself and
// announces its own copy with STORED after every PUTCHUNK.
func (p *Peer) BackupChunk(ctx context.Context, chunk model.Chunk, held bool) (ChunkResult, error) {
	needed := chunk.ReplicationDegree
	if held {
		needed--
	}

	inFlight, err := p.tracker.Start(chunk.ID, needed)
	if err != nil {
		return ChunkResult{}, err
	}
	defer p.tracker.Finish(chunk.ID)

	result := ChunkResult{ID: chunk.ID}
	replication := func() int {
		n := len(inFlight.Confirmed())
		if held {
			n++
		}
		return n
	}

	timeout := p.cfg.Protocol.BackupTimeout
	for result.Attempts < p.cfg.Protocol.BackupAttempts {
		select {
		case <-inFlight.Reached():
			result.Replication = replication()
			p.metrics.BackupOutcomes.WithLabelValues("replicated").Inc()
			return result, nil
		default:
		}

		result.Attempts++
		p.send(channel.BackupData, protocol.NewPutChunk(chunk))
		if held {
			p.send(channel.Control, protocol.NewStored(chunk.ID))
		}

		timer := time.NewTimer(timeout)
		select {
		case <-inFlight.Reached():
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}
		timer.Stop()

		timeout *= 2
	}

	result.Replication = replication()

	select {
	case <-inFlight.Reached():
		p.metrics.BackupOutcomes.WithLabelValues("replicated").Inc()
	default:
		result.Degraded = true
		p.metrics.BackupOutcomes.WithLabelValues("degraded").Inc()
		p.log.Warnw("backup", "status", "degraded", "chunk", chunk.ID, "replication", result.Replication, "desired", chunk.ReplicationDegree)
	}

	return result, nil
}

func (p *Peer) handlePutChunk(ctx context.Context, from model.PeerAddress, msg *protocol.Message) {
	id := msg.ChunkID()

	// Counts toward a re-backup arbitration after REMOVED.
	p.suppressor.Observe(suppression.PendingBackup, id, from)

	if p.isOwnFile(ctx, id.FileID) {
		return
	}

	if p.store.Has(ctx, id) {
		p.send(channel.Control, protocol.NewStored(id))
		return
	}

	if _, reclaimed := p.reclaimed.Get(id); reclaimed {
		return
	}

	chunk, err := model.NewChunk(id.FileID, id.ChunkNo, msg.ReplicationDegree, msg.Body)
	if err != nil {
		p.log.Debugw("putchunk", "chunk", id, "from", from, "error", err)
		return
	}

	window, ok := p.suppressor.Open(suppression.PendingStore, id)
	if !ok {
		return
	}

	observed, err := window.Wait(ctx)
	if err != nil {
		return
	}

	if len(observed) >= msg.ReplicationDegree {
		p.metrics.Suppressed.WithLabelValues(suppression.PendingStore.String()).Inc()
		p.log.Debugw("putchunk", "chunk", id, "status", "suppressed", "stored", len(observed))
		return
	}

	if err := p.store.Put(ctx, chunk, observed); err != nil {
		p.log.Errorw("putchunk", "chunk", id, "error", err)
		return
	}

	p.metrics.ChunksStored.Inc()
	p.log.Infow("putchunk", "chunk", id, "status", "stored", "size", len(chunk.Data), "mirrors", len(observed))

	p.send(channel.Control, protocol.NewStored(id))
}

func (p *Peer) handleStored(ctx context.Context, from model.PeerAddress, msg *protocol.Message) {
	id := msg.ChunkID()

	p.suppressor.Observe(suppression.PendingStore, id, from)
	p.tracker.Confirm(id, from)

	if err := p.store.AddMirror(ctx, id, from); err != nil {
		p.log.Errorw("stored", "chunk", id, "from", from, "error", err)
	}
}
