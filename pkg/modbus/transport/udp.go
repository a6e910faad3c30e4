package transport

import (
	"context"
	"github.com/pkg/errors"
	"harnspoller/pkg/modbus/codec"
	"k8s.io/klog/v2"
	"net"
	"sync"
	"time"
)

const maxDatagram = 512

// UDPConn speaks MBAP framed Modbus, one datagram per frame.
type UDPConn struct {
	address        string
	connectTimeout time.Duration
	receiveTimeout time.Duration

	mu     sync.Mutex
	socket net.Conn
}

func (c *UDPConn) Framer() codec.Framer { return codec.TCPFramer{} }

func (c *UDPConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.connectTimeout}
	socket, err := dialer.DialContext(ctx, "udp", c.address)
	if err != nil {
		return errors.Wrapf(err, "dial udp %s", c.address)
	}
	klog.V(4).InfoS("Connected", "address", c.address, "network", "udp")
	c.socket = socket
	return nil
}

func (c *UDPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return nil
	}
	err := c.socket.Close()
	c.socket = nil
	return err
}

func (c *UDPConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket != nil
}

func (c *UDPConn) Transact(ctx context.Context, adu []byte) ([]byte, error) {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return nil, ErrNotConnected
	}
	if err := socket.SetDeadline(deadline(ctx, c.receiveTimeout)); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}
	stop := watchContext(ctx, func() { _ = socket.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := socket.Write(adu); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "write to %s", c.address)
	}
	buf := make([]byte, maxDatagram)
	n, err := socket.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrapReadError(err, c.address)
	}
	return buf[:n], nil
}
