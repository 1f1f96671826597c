package peer

import (
	"context"
	"errors"

	"github.com/pyropy/dbs/core/channel"
	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
)

// channelOf maps every message type to the channel it travels on.
var channelOf = map[protocol.MessageType]channel.Kind{
	protocol.PutChunk: channel.BackupData,
	protocol.Stored:   channel.Control,
	protocol.GetChunk: channel.Control,
	protocol.Chunk:    channel.RestoreData,
	protocol.Delete:   channel.Control,
	protocol.Removed:  channel.Control,
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrUnsupportedVersion):
		return "version"
	default:
		return "malformed"
	}
}

// receive returns the handler a channel loop calls for every datagram. It
// parses the header on the loop goroutine and runs the subprotocol handler
// on its own goroutine so the loop keeps counting competing messages while
// handlers wait out their windows.
func (p *Peer) receive(ctx context.Context) channel.Handler {
	return func(dg channel.Datagram) {
		msg, err := protocol.Parse(dg.Data)
		if err != nil {
			p.log.Debugw("drop", "channel", dg.Channel, "from", dg.From, "error", err)
			p.metrics.MessagesDropped.WithLabelValues(dg.Channel.String(), dropReason(err)).Inc()
			return
		}

		if channelOf[msg.Type] != dg.Channel {
			p.log.Debugw("drop", "channel", dg.Channel, "from", dg.From, "type", msg.Type, "error", "wrong channel")
			p.metrics.MessagesDropped.WithLabelValues(dg.Channel.String(), "wrong_channel").Inc()
			return
		}

		p.metrics.MessagesReceived.WithLabelValues(dg.Channel.String(), string(msg.Type)).Inc()

		p.handlers.Add(1)
		go func() {
			defer p.handlers.Done()
			p.dispatch(ctx, dg.From, msg)
		}()
	}
}

// dispatch invokes exactly one handler for the message type.
func (p *Peer) dispatch(ctx context.Context, from model.PeerAddress, msg *protocol.Message) {
	switch msg.Type {
	case protocol.PutChunk:
		p.handlePutChunk(ctx, from, msg)
	case protocol.Stored:
		p.handleStored(ctx, from, msg)
	case protocol.GetChunk:
		p.handleGetChunk(ctx, from, msg)
	case protocol.Chunk:
		p.handleChunk(ctx, from, msg)
	case protocol.Delete:
		p.handleDelete(ctx, from, msg)
	case protocol.Removed:
		p.handleRemoved(ctx, from, msg)
	}
}
