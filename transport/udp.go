package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/sirupsen/logrus"
)

// ListenDatagram opens a UDP socket on addr for discovery. With reuse set the
// socket allows other processes to bind the same port.
func ListenDatagram(ctx context.Context, addr string, reuse bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return control(c, reuse)
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ListenDatagram",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to open discovery socket")
		return nil, err
	}

	udp, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenDatagram",
		"addr":     udp.LocalAddr().String(),
		"reuse":    reuse,
	}).Debug("Discovery socket open")
	return udp, nil
}

func control(c syscall.RawConn, reuse bool) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = setSockopts(fd, reuse)
	})
	if err != nil {
		return err
	}
	return opErr
}
