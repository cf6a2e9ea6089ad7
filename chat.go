package dchat

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opd-ai/dchat/auth"
	"github.com/opd-ai/dchat/config"
	"github.com/opd-ai/dchat/discovery"
	"github.com/opd-ai/dchat/noise"
	"github.com/opd-ai/dchat/peer"
	"github.com/opd-ai/dchat/transport"
)

// PeerInfo describes one registered peer.
type PeerInfo struct {
	ID    uuid.UUID
	Addr  netip.AddrPort
	Role  auth.Role
	Since time.Time
}

// Chat is one dchat node.
type Chat struct {
	cfg      *config.Config
	out      io.Writer
	input    io.Reader
	peerPort uint16

	auth     *auth.Authenticator
	upgrader *noise.Upgrader
	dialer   transport.Dialer
	listener net.Listener
	beacon   *discovery.Beacon

	// pending limits inbound handshakes in progress. Nil means no limit.
	pending *semaphore.Weighted

	// Owned by the loop.
	registry *peer.Registry
	dialing  map[netip.Addr]struct{}

	datagrams chan datagram
	lines     chan string
	reads     chan readEvent
	failures  chan readEvent
	joins     chan joinEvent
	control   chan func()

	wg        sync.WaitGroup
	runOnce   sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// New validates the configuration, loads the Diffie-Hellman parameters and
// opens the listener and discovery socket. Every error is fatal for the node.
func New(opts *Options) (*Chat, error) {
	if opts == nil {
		opts = NewOptions()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	params := opts.Params
	if params == nil {
		var err error
		params, err = noise.LoadParams(cfg.DHParamFile)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "New",
				"dhparam":  cfg.DHParamFile,
				"error":    err.Error(),
			}).Error("Failed to load DH parameters")
			return nil, fmt.Errorf("load DH parameters: %w", err)
		}
	}

	digester, err := auth.NewDigester([]byte(cfg.Channel), []byte(cfg.Secret), cfg.Digest)
	if err != nil {
		return nil, err
	}
	upgrader, err := noise.NewUpgrader(noise.Policy{
		Params:      params,
		AllowWeakDH: cfg.AllowWeakDH,
		Cipher:      cfg.Cipher,
		Hash:        cfg.Hash,
		MinVersion:  cfg.MinVersion,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	ctx := context.Background()
	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = cfg.ListenAddr()
	}
	ln, err := transport.Listen(ctx, listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	discoveryAddr := opts.DiscoveryAddr
	if discoveryAddr == "" {
		discoveryAddr = cfg.ListenAddr()
	}
	beacon, err := discovery.Open(ctx, discovery.Options{
		Tag:        []byte(cfg.Channel),
		Port:       cfg.Port,
		ListenAddr: discoveryAddr,
		Mode:       cfg.Discovery,
		Group:      cfg.MulticastGroup,
		Target:     opts.AnnounceTarget,
		Reuse:      true,
	})
	if err != nil {
		ln.Close()
		return nil, err
	}

	peerPort := opts.PeerPort
	if peerPort <= 0 {
		peerPort = cfg.Port
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	var localIP netip.Addr
	if ep, err := auth.EndpointOf(ln.Addr()); err == nil {
		localIP = ep.Addr()
	}

	var pending *semaphore.Weighted
	if cfg.MaxPendingHandshakes > 0 {
		pending = semaphore.NewWeighted(int64(cfg.MaxPendingHandshakes))
	}

	return &Chat{
		cfg:       cfg,
		out:       out,
		input:     opts.Input,
		peerPort:  uint16(peerPort),
		auth:      auth.NewAuthenticator(digester),
		upgrader:  upgrader,
		dialer:    transport.Dialer{Timeout: cfg.HandshakeTimeout, LocalIP: localIP},
		listener:  ln,
		beacon:    beacon,
		pending:   pending,
		registry:  peer.NewRegistry(),
		dialing:   make(map[netip.Addr]struct{}),
		datagrams: make(chan datagram),
		lines:     make(chan string),
		reads:     make(chan readEvent),
		failures:  make(chan readEvent),
		joins:     make(chan joinEvent),
		control:   make(chan func()),
		done:      make(chan struct{}),
	}, nil
}

// Addr returns the address peers connect to.
func (c *Chat) Addr() net.Addr {
	return c.listener.Addr()
}

// DiscoveryAddr returns the bound discovery socket address.
func (c *Chat) DiscoveryAddr() net.Addr {
	return c.beacon.LocalAddr()
}

// Run announces this node and serves the event loop until ctx is done or a
// pump fails. On return every peer, the listener and the discovery socket
// are closed. Run may be called once.
func (c *Chat) Run(ctx context.Context) error {
	err := ErrAlreadyRunning
	c.runOnce.Do(func() {
		err = c.run(ctx)
	})
	return err
}

func (c *Chat) run(ctx context.Context) error {
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return transport.AcceptLoop(gctx, c.listener, func(conn net.Conn) {
			if c.pending != nil && !c.pending.TryAcquire(1) {
				logrus.WithFields(logrus.Fields{
					"function": "Run",
					"remote":   conn.RemoteAddr().String(),
					"limit":    c.cfg.MaxPendingHandshakes,
				}).Warn("Too many pending handshakes, connection refused")
				conn.Close()
				return
			}
			c.wg.Add(1)
			go c.accept(gctx, conn)
		})
	})
	g.Go(func() error {
		return c.beacon.Serve(gctx, func(payload []byte, src netip.AddrPort) {
			select {
			case c.datagrams <- datagram{payload: payload, src: src}:
			case <-gctx.Done():
			}
		})
	})
	g.Go(func() error {
		return c.beacon.AnnounceLoop(gctx, c.cfg.AnnounceInterval)
	})
	if c.input != nil {
		// Not tracked: a blocked console read cannot be interrupted.
		go c.readInput(gctx)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Run",
		"listen":    c.Addr().String(),
		"discovery": c.DiscoveryAddr().String(),
		"channel":   c.cfg.Channel,
	}).Info("Chat running")

	c.loop(gctx)

	cancel()
	c.registry.CloseAll()
	c.Close()
	err := g.Wait()
	c.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
	}).Info("Chat stopped")
	return err
}

// Close releases the listener and discovery socket. It is only needed for
// a Chat whose Run was never called.
func (c *Chat) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if lerr := c.listener.Close(); lerr != nil && !transport.IsClosed(lerr) {
			err = lerr
		}
		if berr := c.beacon.Close(); berr != nil && err == nil {
			err = berr
		}
	})
	return err
}

// Connect dials addr, authenticates, upgrades and admits the peer. It
// blocks until the peer is registered or the attempt failed.
func (c *Chat) Connect(ctx context.Context, addr string) error {
	p, err := c.dialPeer(ctx, addr)
	if err != nil {
		return err
	}

	reply := make(chan error, 1)
	select {
	case c.joins <- joinEvent{peer: p, reply: reply}:
	case <-c.done:
		p.Close()
		return ErrClosed
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	}
	return <-reply
}

// Peers returns a snapshot of the registry. It waits for Run to be serving
// and returns nil once Run has returned.
func (c *Chat) Peers() []PeerInfo {
	var out []PeerInfo
	c.call(func() {
		for _, p := range c.registry.All() {
			out = append(out, PeerInfo{ID: p.ID, Addr: p.Addr, Role: p.Role, Since: p.Since})
		}
	})
	return out
}

// Send broadcasts one chat line as if it had been typed.
func (c *Chat) Send(line string) error {
	var err error
	if cerr := c.call(func() { err = c.broadcast([]byte(line)) }); cerr != nil {
		return cerr
	}
	return err
}

// SendFile sends the file at path to the peer at addr.
func (c *Chat) SendFile(addr, path string) error {
	var err error
	if cerr := c.call(func() { err = c.sendFile(addr, path) }); cerr != nil {
		return cerr
	}
	return err
}

// call runs fn on the loop goroutine and waits for it.
func (c *Chat) call(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.control <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// dialPeer opens and establishes an outbound connection.
func (c *Chat) dialPeer(ctx context.Context, addr string) (*peer.Peer, error) {
	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dialPeer",
			"addr":     addr,
			"error":    err.Error(),
		}).Warn("Connect failed")
		return nil, newPeerError("connect", addr, err)
	}
	return c.establish(ctx, conn, auth.RoleClient)
}

// accept establishes an inbound connection and hands it to the loop.
func (c *Chat) accept(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()

	p, err := c.establish(ctx, conn, auth.RoleServer)
	if c.pending != nil {
		c.pending.Release(1)
	}
	if err != nil {
		return
	}
	select {
	case c.joins <- joinEvent{peer: p}:
	case <-ctx.Done():
		p.Close()
	}
}

// establish runs the handshake and the secure upgrade on conn, bounded by
// the handshake timeout. conn is closed on failure.
func (c *Chat) establish(ctx context.Context, conn net.Conn, role auth.Role) (*peer.Peer, error) {
	remote := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if c.cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	}

	res, err := c.auth.Run(conn, role)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "establish",
			"remote":   remote,
			"role":     role.String(),
			"error":    err.Error(),
		}).Warn("Authentication failed")
		return nil, newPeerError("authenticate", remote, err)
	}

	hsRole := noise.Responder
	if role == auth.RoleClient {
		hsRole = noise.Initiator
	}
	secure, err := c.upgrader.Upgrade(conn, hsRole, res.Binding())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "establish",
			"remote":   remote,
			"role":     role.String(),
			"error":    err.Error(),
		}).Error("Secure channel upgrade failed")
		return nil, newPeerError("upgrade", remote, err)
	}
	secure.SetDeadline(time.Time{})

	p := peer.New(secure, res.Remote, role, c.cfg.MaxFileSize)
	p.SetWriteTimeout(c.cfg.WriteTimeout)
	return p, nil
}
