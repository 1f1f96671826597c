package channel

import (
	"context"
	"sync"

	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
)

// memoryInboxSize bounds the per-member queue; like a UDP socket buffer, a
// full inbox drops datagrams.
const memoryInboxSize = 1024

// MemoryNetwork is an in-process stand-in for the three multicast groups,
// used to run several peers inside one process.
type MemoryNetwork struct {
	mu      sync.RWMutex
	members map[Kind][]*MemoryChannel
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		members: make(map[Kind][]*MemoryChannel),
	}
}

// Join adds a member with address addr to the group of the given kind.
func (n *MemoryNetwork) Join(kind Kind, addr model.PeerAddress) *MemoryChannel {
	c := &MemoryChannel{
		kind:    kind,
		addr:    addr,
		network: n,
		inbox:   make(chan Datagram, memoryInboxSize),
		done:    make(chan struct{}),
	}

	n.mu.Lock()
	n.members[kind] = append(n.members[kind], c)
	n.mu.Unlock()

	return c
}

func (n *MemoryNetwork) leave(c *MemoryChannel) {
	n.mu.Lock()
	defer n.mu.Unlock()

	members := n.members[c.kind]
	for i, m := range members {
		if m == c {
			n.members[c.kind] = append(members[:i:i], members[i+1:]...)
			return
		}
	}
}

func (n *MemoryNetwork) broadcast(from *MemoryChannel, data []byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, m := range n.members[from.kind] {
		if m == from {
			continue
		}

		dg := Datagram{Channel: from.kind, From: from.addr, Data: append([]byte(nil), data...)}
		select {
		case m.inbox <- dg:
		default:
		}
	}
}

// MemoryChannel is one member of a MemoryNetwork group.
type MemoryChannel struct {
	kind    Kind
	addr    model.PeerAddress
	network *MemoryNetwork
	inbox   chan Datagram

	closeOnce sync.Once
	done      chan struct{}
}

func (c *MemoryChannel) Kind() Kind {
	return c.kind
}

func (c *MemoryChannel) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if len(data) > protocol.MaxDatagramSize {
		return ErrDatagramTooLarge
	}

	c.network.broadcast(c, data)
	return nil
}

func (c *MemoryChannel) Listen(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case dg := <-c.inbox:
			h(dg)
		}
	}
}

func (c *MemoryChannel) Close() error {
	c.closeOnce.Do(func() {
		c.network.leave(c)
		close(c.done)
	})

	return nil
}
