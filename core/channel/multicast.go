package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pyropy/dbs/core/model"
	"github.com/pyropy/dbs/core/protocol"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// Sender owns the single unicast socket a peer sends every multicast message
// from. Its local port identifies the peer to the others, and is shared by all
// three channels so a peer has the same address on each of them.
type Sender struct {
	conn     *net.UDPConn
	localIPs map[string]struct{}
	port     int
}

// NewSender opens the sending socket on port with the given multicast TTL and
// loopback mode. The port must stay the same across restarts, since other
// peers record it in their mirror sets. Port 0 picks an ephemeral port. iface
// may be nil for the system default.
func NewSender(port, ttl int, loopback bool, iface *net.Interface) (*Sender, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("open sender socket on port %d: %w", port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}

	if err := pc.SetMulticastLoopback(loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}

	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast interface: %w", err)
		}
	}

	localIPs, err := interfaceIPs()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Sender{
		conn:     conn,
		localIPs: localIPs,
		port:     conn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

func interfaceIPs() (map[string]struct{}, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	ips := make(map[string]struct{}, len(addrs)+1)
	ips["127.0.0.1"] = struct{}{}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			ips[ipNet.IP.String()] = struct{}{}
		}
	}

	return ips, nil
}

// Port returns the local port datagrams are sent from.
func (s *Sender) Port() int {
	return s.port
}

// IsSelf reports whether a datagram source is this peer's sending socket.
func (s *Sender) IsSelf(src *net.UDPAddr) bool {
	if src.Port != s.port {
		return false
	}

	_, local := s.localIPs[src.IP.String()]
	return local
}

func (s *Sender) send(data []byte, group *net.UDPAddr) error {
	if len(data) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(data))
	}

	_, err := s.conn.WriteToUDP(data, group)
	return err
}

func (s *Sender) Close() error {
	return s.conn.Close()
}

// Multicast is a Channel backed by a UDP multicast group.
type Multicast struct {
	kind   Kind
	group  *net.UDPAddr
	conn   *net.UDPConn
	sender *Sender
	log    *zap.SugaredLogger
}

// OpenMulticast joins the group at addr (host:port) for receiving and sends
// through sender.
func OpenMulticast(kind Kind, addr string, iface *net.Interface, sender *Sender, log *zap.SugaredLogger) (*Multicast, error) {
	group, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s group %q: %w", kind, addr, err)
	}

	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%s group %q is not a multicast address", kind, addr)
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, group)
	if err != nil {
		return nil, fmt.Errorf("join %s group %q: %w", kind, addr, err)
	}

	if err := conn.SetReadBuffer(4 * protocol.MaxDatagramSize); err != nil {
		log.Warnw("channel", "status", "could not enlarge read buffer", "channel", kind, "error", err)
	}

	return &Multicast{
		kind:   kind,
		group:  group,
		conn:   conn,
		sender: sender,
		log:    log,
	}, nil
}

func (m *Multicast) Kind() Kind {
	return m.kind
}

func (m *Multicast) Send(data []byte) error {
	return m.sender.send(data, m.group)
}

func (m *Multicast) Listen(ctx context.Context, h Handler) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			m.conn.Close()
		case <-stop:
		}
	}()

	return m.receive(ctx, m.conn.ReadFromUDP, h)
}

type readFunc func(buf []byte) (int, *net.UDPAddr, error)

const (
	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// receive reads datagrams until ctx is done or the socket is closed. A failed
// read does not end the loop; repeated failures back off exponentially.
func (m *Multicast) receive(ctx context.Context, read readFunc, h Handler) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	backoff := minReadBackoff
	for {
		n, src, err := read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			m.log.Errorw("channel", "status", "receive failed", "channel", m.kind, "error", err, "retry_in", backoff)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxReadBackoff {
				backoff = maxReadBackoff
			}
			continue
		}
		backoff = minReadBackoff

		if m.sender.IsSelf(src) {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		h(Datagram{
			Channel: m.kind,
			From:    model.NewPeerAddress(src),
			Data:    data,
		})
	}
}

func (m *Multicast) Close() error {
	return m.conn.Close()
}
