package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds outbound connection attempts.
const DefaultDialTimeout = 5 * time.Second

// Listen opens the TCP listener on addr.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Listen",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to open listener")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"addr":     ln.Addr().String(),
	}).Info("Listening for peers")
	return ln, nil
}

// Dialer opens outbound peer connections.
type Dialer struct {
	// Timeout bounds each attempt. Zero means DefaultDialTimeout.
	Timeout time.Duration
	// LocalIP, when valid, is used as the source address.
	LocalIP netip.Addr
}

// Dial connects to addr.
func (d Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	nd := net.Dialer{Timeout: timeout}
	if d.LocalIP.IsValid() && !d.LocalIP.IsUnspecified() {
		nd.LocalAddr = &net.TCPAddr{IP: d.LocalIP.AsSlice()}
	}

	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dial",
			"addr":     addr,
			"error":    err.Error(),
		}).Debug("Dial failed")
		return nil, err
	}
	return conn, nil
}

// AcceptLoop hands every accepted connection to handle until ln is closed or
// ctx is done. It returns nil after a clean close. Any other accept error,
// such as running out of file descriptors, is logged and retried with
// backoff.
func AcceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn)) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if IsClosed(err) || ctx.Err() != nil {
				return nil
			}
			delay = backoff(delay)
			logrus.WithFields(logrus.Fields{
				"function": "AcceptLoop",
				"error":    err.Error(),
				"retry_in": delay.String(),
			}).Warn("Accept failed")

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		delay = 0
		handle(conn)
	}
}

// IsClosed reports whether err results from using a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
