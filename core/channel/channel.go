package channel

import (
	"context"
	"errors"

	"github.com/pyropy/dbs/core/model"
)

// Kind names one of the three logical multicast channels.
type Kind int

const (
	Control Kind = iota
	BackupData
	RestoreData
)

func (k Kind) String() string {
	switch k {
	case Control:
		return "control"
	case BackupData:
		return "backup"
	case RestoreData:
		return "restore"
	default:
		return "unknown"
	}
}

var (
	ErrClosed           = errors.New("channel closed")
	ErrDatagramTooLarge = errors.New("datagram too large")
)

// Datagram is one received message together with its sender.
type Datagram struct {
	Channel Kind
	From    model.PeerAddress
	Data    []byte
}

// Handler is called by the receive loop for every datagram. It runs on the
// loop goroutine and must not block.
type Handler func(Datagram)

// Channel is a multicast group a peer sends to and receives from.
// Send is safe for concurrent use.
type Channel interface {
	Kind() Kind
	Send(data []byte) error
	// Listen runs the receive loop until ctx is done or the channel is closed.
	// Datagrams sent by the local peer are not delivered.
	Listen(ctx context.Context, h Handler) error
	Close() error
}
