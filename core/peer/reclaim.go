package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/chunkstore"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
	"github.com/pyropy/dbs/core/suppression"
)

type ReclaimResult struct {
	Freed  int64
	Chunks []model.ChunkID
}

// Reclaim frees at least kilobytes*1024 bytes of local storage, or all of it
// if less is stored. Chunks held by more peers than desired go first, then
// larger chunks. Every freed chunk is announced with REMOVED.
func (p *Peer) Reclaim(ctx context.Context, kilobytes int64) (*ReclaimResult, error) {
	if kilobytes < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReclaimAmount, kilobytes)
	}

	all, err := p.store.All(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		ei := all[i].CurrentReplication() - all[i].ReplicationDegree
		ej := all[j].CurrentReplication() - all[j].ReplicationDegree
		if (ei > 0) != (ej > 0) {
			return ei > 0
		}

		return all[i].Size > all[j].Size
	})

	target := kilobytes * 1024
	result := &ReclaimResult{}

	for _, m := range all {
		if result.Freed >= target {
			break
		}

		if err := p.store.Delete(ctx, m.ID); err != nil {
			return result, err
		}

		p.reclaimed.Set(m.ID, struct{}{})
		result.Freed += int64(m.Size)
		result.Chunks = append(result.Chunks, m.ID)

		p.send(channel.Control, protocol.NewRemoved(m.ID))
	}

	p.log.Infow("reclaim", "requested", target, "freed", result.Freed, "chunks", len(result.Chunks))

	return result, nil
}

// handleRemoved forgets the announcing peer as a mirror and, if the chunk
// is now under-replicated, arbitrates which holder backs it up again.
func (p *Peer) handleRemoved(ctx context.Context, from model.PeerAddress, msg *protocol.Message) {
	id := msg.ChunkID()

	metadata, err := p.store.RemoveMirror(ctx, id, from)
	if errors.Is(err, chunkstore.ErrChunkNotFound) {
		return
	} else if err != nil {
		p.log.Errorw("removed", "chunk", id, "from", from, "error", err)
		return
	}

	if !metadata.UnderReplicated() {
		return
	}

	window, ok := p.suppressor.Open(suppression.PendingBackup, id)
	if !ok {
		return
	}

	observed, err := window.Wait(ctx)
	if err != nil {
		return
	}

	if len(observed) > 0 {
		p.metrics.Suppressed.WithLabelValues(suppression.PendingBackup.String()).Inc()
		p.log.Debugw("removed", "chunk", id, "status", "suppressed")
		return
	}

	data, err := p.store.Get(ctx, id)
	if err != nil {
		p.log.Errorw("removed", "chunk", id, "error", err)
		return
	}

	chunk, err := model.NewChunk(id.FileID, id.ChunkNo, metadata.ReplicationDegree, data)
	if err != nil {
		p.log.Errorw("removed", "chunk", id, "error", err)
		return
	}

	p.log.Infow("removed", "chunk", id, "status", "backing up again", "replication", metadata.CurrentReplication(), "desired", metadata.ReplicationDegree)

	res, err := p.BackupChunk(ctx, chunk, true)
	if err != nil {
		p.log.Errorw("removed", "chunk", id, "error", err)
		return
	}

	p.log.Infow("removed", "chunk", id, "status", "backed up again", "replication", res.Replication, "degraded", res.Degraded)
}
