package peer

import (
	"context"
	"sort"

	"github.com/pyropy/dbs/core/model"
)

type FileState struct {
	Path              string
	FileID            string
	Size              int64
	ReplicationDegree int
	Chunks            int
}

type ChunkState struct {
	ID                 model.ChunkID
	Size               int
	ReplicationDegree  int
	CurrentReplication int
}

// State describes the files this peer backed up and the chunks it stores
// for others.
type State struct {
	PeerID        string
	Files         []FileState
	Chunks        []ChunkState
	UsedBytes     int64
	CapacityBytes int64
}

func (p *Peer) State(ctx context.Context) (*State, error) {
	files, err := p.files.All(ctx)
	if err != nil {
		return nil, err
	}

	chunks, err := p.store.All(ctx)
	if err != nil {
		return nil, err
	}

	state := &State{
		PeerID:        p.ID(),
		Files:         make([]FileState, 0, len(files)),
		Chunks:        make([]ChunkState, 0, len(chunks)),
		UsedBytes:     p.store.UsedBytes(),
		CapacityBytes: p.cfg.CapacityBytes(),
	}

	for _, f := range files {
		state.Files = append(state.Files, FileState{
			Path:              f.Path,
			FileID:            f.FileID,
			Size:              f.Size,
			ReplicationDegree: f.ReplicationDegree,
			Chunks:            f.NumChunks,
		})
	}

	for _, c := range chunks {
		state.Chunks = append(state.Chunks, ChunkState{
			ID:                 c.ID,
			Size:               c.Size,
			ReplicationDegree:  c.ReplicationDegree,
			CurrentReplication: c.CurrentReplication(),
		})
	}

	sort.Slice(state.Chunks, func(i, j int) bool {
		a, b := state.Chunks[i].ID, state.Chunks[j].ID
		if a.FileID != b.FileID {
			return a.FileID < b.FileID
		}
		return a.ChunkNo < b.ChunkNo
	})

	return state, nil
}
