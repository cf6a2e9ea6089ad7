package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/opd-ai/dchat/limits"
	"github.com/opd-ai/dchat/transport"
)

// Modes.
const (
	ModeBroadcast = "broadcast"
	ModeMulticast = "multicast"
)

// DefaultMulticastTTL keeps multicast announcements on the local segment.
const DefaultMulticastTTL = 1

var (
	// ErrChannelMismatch indicates a datagram that does not carry our tag.
	ErrChannelMismatch = errors.New("different channel")
	// ErrSelfAnnouncement indicates a datagram this node sent itself.
	ErrSelfAnnouncement = errors.New("own announcement")
	// ErrEmptyTag indicates Options without an Identity Tag.
	ErrEmptyTag = errors.New("identity tag cannot be empty")
)

// Options configures a Beacon.
type Options struct {
	// Tag is the Identity Tag sent and expected.
	Tag []byte
	// Port is the well-known port: announcements go there and matching
	// senders are dialed there.
	Port int
	// ListenAddr is the local datagram address. Empty means ":Port".
	ListenAddr string
	// Mode is ModeBroadcast (default) or ModeMulticast.
	Mode string
	// Group is the IPv4 multicast group for ModeMulticast.
	Group string
	// TTL is the multicast hop limit. Zero means DefaultMulticastTTL.
	TTL int
	// Target overrides the announcement destination.
	Target string
	// Reuse allows other processes to bind the same discovery port.
	Reuse bool
}

// Beacon owns the discovery socket.
type Beacon struct {
	conn      *net.UDPConn
	mcast     *ipv4.PacketConn
	tag       []byte
	port      uint16
	dest      *net.UDPAddr
	localPort uint16
	localIPs  map[netip.Addr]struct{}
}

// Open binds the discovery socket and prepares the announcement destination.
func Open(ctx context.Context, opts Options) (*Beacon, error) {
	if len(opts.Tag) == 0 {
		return nil, ErrEmptyTag
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid discovery port %d", opts.Port)
	}
	listen := opts.ListenAddr
	if listen == "" {
		listen = fmt.Sprintf(":%d", opts.Port)
	}

	conn, err := transport.ListenDatagram(ctx, listen, opts.Reuse)
	if err != nil {
		return nil, fmt.Errorf("open discovery socket: %w", err)
	}

	b := &Beacon{
		conn:      conn,
		tag:       append([]byte(nil), opts.Tag...),
		port:      uint16(opts.Port),
		localPort: uint16(conn.LocalAddr().(*net.UDPAddr).Port),
		localIPs:  localAddrs(),
	}

	switch opts.Mode {
	case "", ModeBroadcast:
		b.dest = &net.UDPAddr{IP: net.IPv4bcast, Port: opts.Port}
	case ModeMulticast:
		group := net.ParseIP(opts.Group).To4()
		if group == nil || !group.IsMulticast() {
			conn.Close()
			return nil, fmt.Errorf("multicast group %q is not an IPv4 multicast address", opts.Group)
		}
		if err := b.joinGroup(group, opts.TTL); err != nil {
			conn.Close()
			return nil, err
		}
		b.dest = &net.UDPAddr{IP: group, Port: opts.Port}
	default:
		conn.Close()
		return nil, fmt.Errorf("unknown discovery mode %q", opts.Mode)
	}

	if opts.Target != "" {
		dest, err := net.ResolveUDPAddr("udp4", opts.Target)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolve announce target: %w", err)
		}
		b.dest = dest
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"local":    conn.LocalAddr().String(),
		"dest":     b.dest.String(),
		"mode":     opts.Mode,
	}).Info("Discovery beacon started")

	return b, nil
}

// joinGroup subscribes every multicast-capable interface to group.
func (b *Beacon) joinGroup(group net.IP, ttl int) error {
	if ttl <= 0 {
		ttl = DefaultMulticastTTL
	}
	b.mcast = ipv4.NewPacketConn(b.conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	joined := 0
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := b.mcast.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "joinGroup",
				"interface": iface.Name,
				"error":     err.Error(),
			}).Debug("Could not join multicast group on interface")
			continue
		}
		joined++
	}
	if joined == 0 {
		return fmt.Errorf("no interface joined multicast group %s", group)
	}

	if err := b.mcast.SetMulticastTTL(ttl); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := b.mcast.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("enable multicast loopback: %w", err)
	}
	return nil
}

// LocalAddr returns the bound discovery address.
func (b *Beacon) LocalAddr() net.Addr {
	return b.conn.LocalAddr()
}

// Announce sends the tag as one datagram.
func (b *Beacon) Announce() error {
	if _, err := b.conn.WriteToUDP(b.tag, b.dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Announce",
			"dest":     b.dest.String(),
			"error":    err.Error(),
		}).Warn("Failed to send announcement")
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Announce",
		"dest":     b.dest.String(),
	}).Debug("Sent announcement")
	return nil
}

// AnnounceLoop announces once, then every interval until ctx is done. A
// non-positive interval announces only once.
func (b *Beacon) AnnounceLoop(ctx context.Context, interval time.Duration) error {
	b.Announce()
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Announce()
		}
	}
}

// ReadDatagram blocks for one datagram and returns a copy of its payload.
func (b *Beacon) ReadDatagram() ([]byte, netip.AddrPort, error) {
	buf := make([]byte, limits.MaxDatagram)
	n, src, err := b.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
	return buf[:n], src, nil
}

// Serve hands each received datagram to handle until the socket is closed or
// ctx is done.
func (b *Beacon) Serve(ctx context.Context, handle func(payload []byte, src netip.AddrPort)) error {
	stop := context.AfterFunc(ctx, func() { b.conn.Close() })
	defer stop()

	for {
		payload, src, err := b.ReadDatagram()
		if err != nil {
			if transport.IsClosed(err) || ctx.Err() != nil {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"error":    err.Error(),
			}).Debug("Discovery read error")
			continue
		}
		handle(payload, src)
	}
}

// ListenOnce classifies one datagram. For a matching tag from another node
// it returns the endpoint to dial: the sender's address on the well-known
// port.
func (b *Beacon) ListenOnce(payload []byte, src netip.AddrPort) (netip.AddrPort, error) {
	if !bytes.Equal(payload, b.tag) {
		logrus.WithFields(logrus.Fields{
			"function": "ListenOnce",
			"from":     src.String(),
			"size":     len(payload),
		}).Warn("Different channel")
		return netip.AddrPort{}, ErrChannelMismatch
	}
	if b.isSelf(src) {
		logrus.WithFields(logrus.Fields{
			"function": "ListenOnce",
			"from":     src.String(),
		}).Debug("Ignoring own announcement")
		return netip.AddrPort{}, ErrSelfAnnouncement
	}
	return netip.AddrPortFrom(src.Addr(), b.port), nil
}

// isSelf reports whether src is this beacon's own socket.
func (b *Beacon) isSelf(src netip.AddrPort) bool {
	if src.Port() != b.localPort {
		return false
	}
	if src.Addr().IsLoopback() {
		return true
	}
	_, ok := b.localIPs[src.Addr()]
	return ok
}

// Close releases the socket.
func (b *Beacon) Close() error {
	err := b.conn.Close()
	if transport.IsClosed(err) {
		return nil
	}
	return err
}

func localAddrs() map[netip.Addr]struct{} {
	out := make(map[netip.Addr]struct{})
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipnet.IP); ok {
			out[ip.Unmap()] = struct{}{}
		}
	}
	return out
}
