package dchat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dchat/auth"
	"github.com/opd-ai/dchat/file"
	"github.com/opd-ai/dchat/frame"
	"github.com/opd-ai/dchat/limits"
	"github.com/opd-ai/dchat/peer"
	"github.com/opd-ai/dchat/transport"
)

type datagram struct {
	payload []byte
	src     netip.AddrPort
}

type readEvent struct {
	peer *peer.Peer
	data []byte
	err  error
}

type joinEvent struct {
	peer   *peer.Peer
	dialed netip.Addr
	reply  chan<- error
}

// loop dispatches pump events until ctx is done. It is the only goroutine
// that touches the registry, the dialing set or any peer's assembler.
func (c *Chat) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.datagrams:
			c.handleDatagram(ctx, d)
		case line := <-c.lines:
			c.handleLine(line)
		case ev := <-c.reads:
			c.handleRead(ev)
		case ev := <-c.failures:
			c.handleSendFailure(ev)
		case j := <-c.joins:
			c.handleJoin(ctx, j)
		case fn := <-c.control:
			fn()
		}
	}
}

// handleDatagram runs the beacon check and dials matching senders.
func (c *Chat) handleDatagram(ctx context.Context, d datagram) {
	target, err := c.beacon.ListenOnce(d.payload, d.src)
	if err != nil {
		return
	}
	target = netip.AddrPortFrom(target.Addr(), c.peerPort)
	host := target.Addr()

	if c.registry.Find(host.String()) != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"peer":     host.String(),
		}).Debug("Already connected to announcing host")
		return
	}
	if _, busy := c.dialing[host]; busy {
		return
	}
	c.dialing[host] = struct{}{}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// Failures are logged by dialPeer and leave p nil.
		p, _ := c.dialPeer(ctx, target.String())
		select {
		case c.joins <- joinEvent{peer: p, dialed: host}:
		case <-ctx.Done():
			if p != nil {
				p.Close()
			}
		}
	}()
}

// handleJoin admits an established peer.
func (c *Chat) handleJoin(ctx context.Context, j joinEvent) {
	if j.dialed.IsValid() {
		delete(c.dialing, j.dialed)
	}
	if j.peer == nil {
		return
	}

	c.registry.Add(j.peer)
	c.wg.Add(2)
	go c.pump(ctx, j.peer)
	go c.writer(ctx, j.peer)

	if j.peer.Role == auth.RoleServer {
		c.printf("%s joined\n", j.peer.Host())
	} else {
		c.printf("%s connected\n", j.peer.Host())
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleJoin",
		"peer":     j.peer.String(),
		"peer_id":  j.peer.ID.String(),
		"role":     j.peer.Role.String(),
		"peers":    c.registry.Len(),
	}).Info("Peer admitted")

	if j.reply != nil {
		j.reply <- nil
	}
}

// pump reads p until it fails and forwards each chunk to the loop.
func (c *Chat) pump(ctx context.Context, p *peer.Peer) {
	defer c.wg.Done()

	buf := make([]byte, limits.ReadChunk)
	for {
		n, err := p.Conn.Read(buf)
		ev := readEvent{peer: p, err: err}
		if n > 0 {
			ev.data = append([]byte(nil), buf[:n]...)
		}
		select {
		case c.reads <- ev:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// writer drains p's send queue and reports a failed write to the loop.
func (c *Chat) writer(ctx context.Context, p *peer.Peer) {
	defer c.wg.Done()

	err := p.WriteLoop()
	if err == nil {
		return
	}
	select {
	case c.failures <- readEvent{peer: p, err: err}:
	case <-ctx.Done():
	}
}

// handleSendFailure drops a peer whose writer failed.
func (c *Chat) handleSendFailure(ev readEvent) {
	if !c.registry.Contains(ev.peer.ID) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleSendFailure",
		"peer":     ev.peer.String(),
		"error":    ev.err.Error(),
	}).Error("Peer failed")
	c.drop(ev.peer)
}

// handleRead processes one chunk from a peer.
func (c *Chat) handleRead(ev readEvent) {
	p := ev.peer
	if !c.registry.Contains(p.ID) {
		return
	}

	if len(ev.data) > 0 && !c.deliver(p, ev.data) {
		return
	}
	if ev.err == nil {
		return
	}

	if errors.Is(ev.err, io.EOF) {
		c.printf("%s: left\n", p.Host())
		logrus.WithFields(logrus.Fields{
			"function": "handleRead",
			"peer":     p.String(),
		}).Info("Peer left")
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "handleRead",
			"peer":     p.String(),
			"error":    ev.err.Error(),
		}).Error("Peer failed")
	}
	c.drop(p)
}

// deliver feeds data to the peer's assembler and acts on each completed
// frame. It returns false if the peer was dropped.
func (c *Chat) deliver(p *peer.Peer, data []byte) bool {
	frames, err := p.Assembler.Feed(data)
	for _, f := range frames {
		switch f.Kind {
		case frame.KindText:
			c.printf("%s: %s\n", p.Host(), strings.ToValidUTF8(string(f.Text), "\uFFFD"))
		case frame.KindFile:
			c.saveFile(p, f)
		}
	}
	if err == nil {
		if !logrus.IsLevelEnabled(logrus.DebugLevel) {
			return true
		}
		if name, received, size, ok := p.Assembler.Progress(); ok {
			logrus.WithFields(logrus.Fields{
				"function":  "deliver",
				"peer":      p.String(),
				"file_name": name,
				"received":  received,
				"size":      size,
			}).Debug("Receiving file")
		}
		return true
	}

	if errors.Is(err, frame.ErrMalformed) {
		logrus.WithFields(logrus.Fields{
			"function": "deliver",
			"peer":     p.String(),
			"error":    err.Error(),
		}).Warn("Dropped malformed file frame")
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function": "deliver",
		"peer":     p.String(),
		"error":    err.Error(),
	}).Error("Peer failed")
	c.drop(p)
	return false
}

func (c *Chat) saveFile(p *peer.Peer, f frame.Frame) {
	path, err := file.Save(c.cfg.DownloadDir, p.Host(), f.Name, f.Content)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "saveFile",
			"peer":      p.String(),
			"file_name": f.Name,
			"error":     err.Error(),
		}).Error("Failed to save received file")
		return
	}
	c.printf("Saved %s\n", path)
}

// handleLine runs one console line.
func (c *Chat) handleLine(line string) {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	if line == "" {
		return
	}

	if cmd, ok := parseFileCommand(line); ok {
		if err := c.sendFile(cmd.addr, cmd.path); err != nil {
			c.printf("File not sent: %v\n", err)
			return
		}
		c.printf("File sent\n")
		return
	}

	c.broadcast([]byte(line))
}

// broadcast queues one Text Frame for every peer, dropping those whose queue
// is full.
func (c *Chat) broadcast(line []byte) error {
	data, err := frame.EncodeText(line)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "broadcast",
			"size":     len(line),
			"error":    err.Error(),
		}).Warn("Message not sent")
		return err
	}

	for _, p := range c.registry.All() {
		if err := p.Send(data); err != nil {
			c.drop(p)
		}
	}
	return nil
}

// sendFile queues one File Frame for the peer matching addr. The write itself
// happens on the peer's writer; a later failure drops the peer.
func (c *Chat) sendFile(addr, path string) error {
	p := c.registry.Find(addr)
	if p == nil {
		return newPeerError("send file", addr, ErrNoSuchPeer)
	}

	data, err := file.Encode(path, c.cfg.MaxFileSize)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendFile",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Send file failed")
		return err
	}

	if err := p.Send(data); err != nil {
		c.drop(p)
		return newPeerError("send file", p.String(), err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "sendFile",
		"peer":     p.String(),
		"path":     path,
		"size":     len(data),
	}).Info("File sent")
	return nil
}

// drop removes and closes p.
func (c *Chat) drop(p *peer.Peer) {
	if !c.registry.Remove(p) {
		return
	}
	if err := p.Close(); err != nil && !transport.IsClosed(err) {
		logrus.WithFields(logrus.Fields{
			"function": "drop",
			"peer":     p.String(),
			"error":    err.Error(),
		}).Debug("Error closing peer")
	}
}

// readInput forwards console lines to the loop until Input ends.
func (c *Chat) readInput(ctx context.Context) {
	r := bufio.NewReader(c.input)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			select {
			case c.lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithFields(logrus.Fields{
					"function": "readInput",
					"error":    err.Error(),
				}).Error("Console read failed")
			}
			return
		}
	}
}

func (c *Chat) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
