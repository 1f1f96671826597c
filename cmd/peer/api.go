package main

import (
	"context"

	"github.com/pyropy/dbs/core/peer"
	peerRPC "github.com/pyropy/dbs/rpc/peer"
)

// PeerAPI serves client requests against the local peer.
type PeerAPI struct {
	ctx  context.Context
	Peer *peer.Peer
}

var _ peerRPC.IPeer = (*PeerAPI)(nil)

func NewPeerAPI(ctx context.Context, p *peer.Peer) *PeerAPI {
	return &PeerAPI{
		ctx:  ctx,
		Peer: p,
	}
}

func (p *PeerAPI) Backup(args *peerRPC.BackupArgs, reply *peerRPC.BackupReply) error {
	log.Infow("rpc", "event", "PeerAPI.Backup", "args", args)

	result, err := p.Peer.Backup(p.ctx, args.FilePath, args.ReplicationDegree)
	if err != nil {
		return err
	}

	reply.FileID = result.FileID
	reply.Degraded = result.Degraded
	for _, c := range result.Chunks {
		reply.Chunks = append(reply.Chunks, peerRPC.ChunkBackup{
			ChunkNo:     c.ID.ChunkNo,
			Replication: c.Replication,
			Attempts:    c.Attempts,
			Degraded:    c.Degraded,
		})
	}

	return nil
}

func (p *PeerAPI) Restore(args *peerRPC.RestoreArgs, reply *peerRPC.RestoreReply) error {
	log.Infow("rpc", "event", "PeerAPI.Restore", "args", args)

	result, err := p.Peer.Restore(p.ctx, args.FilePath, args.OutputPath)
	if err != nil {
		return err
	}

	reply.FileID = result.FileID
	reply.OutputPath = result.OutputPath
	reply.Size = result.Size
	reply.Chunks = result.Chunks

	return nil
}

func (p *PeerAPI) Delete(args *peerRPC.DeleteArgs, _ *peerRPC.DeleteReply) error {
	log.Infow("rpc", "event", "PeerAPI.Delete", "args", args)

	return p.Peer.Delete(p.ctx, args.FilePath)
}

func (p *PeerAPI) Reclaim(args *peerRPC.ReclaimArgs, reply *peerRPC.ReclaimReply) error {
	log.Infow("rpc", "event", "PeerAPI.Reclaim", "args", args)

	result, err := p.Peer.Reclaim(p.ctx, args.Kilobytes)
	if err != nil {
		return err
	}

	reply.FreedBytes = result.Freed
	for _, id := range result.Chunks {
		reply.Chunks = append(reply.Chunks, id.String())
	}

	return nil
}

func (p *PeerAPI) State(_ *peerRPC.StateArgs, reply *peerRPC.StateReply) error {
	log.Infow("rpc", "event", "PeerAPI.State")

	state, err := p.Peer.State(p.ctx)
	if err != nil {
		return err
	}

	reply.PeerID = state.PeerID
	reply.UsedBytes = state.UsedBytes
	reply.CapacityBytes = state.CapacityBytes

	for _, f := range state.Files {
		reply.Files = append(reply.Files, peerRPC.File{
			Path:              f.Path,
			FileID:            f.FileID,
			Size:              f.Size,
			ReplicationDegree: f.ReplicationDegree,
			Chunks:            f.Chunks,
		})
	}

	for _, c := range state.Chunks {
		reply.Chunks = append(reply.Chunks, peerRPC.Chunk{
			ID:                 c.ID.String(),
			Size:               c.Size,
			ReplicationDegree:  c.ReplicationDegree,
			CurrentReplication: c.CurrentReplication,
		})
	}

	return nil
}
