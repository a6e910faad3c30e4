package transport

import (
	"context"
	"github.com/pkg/errors"
	"harnspoller/pkg/modbus/codec"
	"io"
	"k8s.io/klog/v2"
	"net"
	"sync"
	"time"
)

// TCPConn speaks MBAP framed Modbus over a stream socket.
type TCPConn struct {
	address        string
	connectTimeout time.Duration
	receiveTimeout time.Duration

	mu     sync.Mutex
	tunnel net.Conn
}

func (c *TCPConn) Framer() codec.Framer { return codec.TCPFramer{} }

func (c *TCPConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tunnel != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.connectTimeout}
	tunnel, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return errors.Wrapf(err, "dial tcp %s", c.address)
	}
	klog.V(4).InfoS("Connected", "address", c.address)
	c.tunnel = tunnel
	return nil
}

func (c *TCPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tunnel == nil {
		return nil
	}
	err := c.tunnel.Close()
	c.tunnel = nil
	return err
}

func (c *TCPConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunnel != nil
}

func (c *TCPConn) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tunnel
}

func (c *TCPConn) Transact(ctx context.Context, adu []byte) ([]byte, error) {
	tunnel := c.current()
	if tunnel == nil {
		return nil, ErrNotConnected
	}
	if err := tunnel.SetDeadline(deadline(ctx, c.receiveTimeout)); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}
	stop := watchContext(ctx, func() { _ = tunnel.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	resp, err := c.roundTrip(tunnel, adu)
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return nil, ctxErr
	}
	return resp, err
}

func (c *TCPConn) roundTrip(tunnel net.Conn, adu []byte) ([]byte, error) {
	if _, err := tunnel.Write(adu); err != nil {
		return nil, errors.Wrapf(err, "write to %s", c.address)
	}
	header := make([]byte, codec.MBAPHeaderLength)
	if _, err := io.ReadFull(tunnel, header); err != nil {
		return nil, wrapReadError(err, c.address)
	}
	total, err := codec.TCPFrameLength(header)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, total)
	copy(frame, header)
	if _, err = io.ReadFull(tunnel, frame[codec.MBAPHeaderLength:]); err != nil {
		return nil, wrapReadError(err, c.address)
	}
	return frame, nil
}

func wrapReadError(err error, address string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrapf(ErrReadTimeout, "read from %s", address)
	}
	return errors.Wrapf(err, "read from %s", address)
}
