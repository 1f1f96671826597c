package peer

import (
	"context"
	fp "path/filepath"
	"time"

	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
)

// deleteRepeatInterval spaces the repeated DELETE announcements.
const deleteRepeatInterval = 50 * time.Millisecond

// Delete announces that every chunk of a backed up file can be dropped and
// forgets the file record. DELETE has no confirmation, so it is repeated.
func (p *Peer) Delete(ctx context.Context, path model.FilePath) error {
	path, err := fp.Abs(path)
	if err != nil {
		return err
	}

	record, err := p.files.Get(ctx, path)
	if err != nil {
		return err
	}

	p.sendDelete(ctx, record.FileID)

	if err := p.files.Remove(ctx, *record); err != nil {
		return err
	}

	p.log.Infow("delete", "status", "announced", "path", path, "file", record.FileID)

	return nil
}

func (p *Peer) sendDelete(ctx context.Context, fileID string) {
	for i := 0; i < p.cfg.Protocol.DeleteRepeats; i++ {
		if i > 0 {
			select {
			case <-time.After(deleteRepeatInterval):
			case <-ctx.Done():
				return
			}
		}

		p.send(channel.Control, protocol.NewDelete(fileID))
	}
}

// handleDelete drops every local chunk of the file. Unknown files are a
// no-op.
func (p *Peer) handleDelete(ctx context.Context, from model.PeerAddress, msg *protocol.Message) {
	n, err := p.store.DeleteFile(ctx, msg.FileID)
	if err != nil {
		p.log.Errorw("delete", "file", msg.FileID, "from", from, "error", err)
		return
	}

	if n > 0 {
		p.log.Infow("delete", "file", msg.FileID, "from", from, "chunks", n)
	}
}
