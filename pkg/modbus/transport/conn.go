package transport

import (
	"context"
	"errors"
	"harnspoller/pkg/modbus/codec"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/runtime"
	"time"
)

var ErrNotConnected = errors.New("Modbus connection is not open")
var ErrReadTimeout = errors.New("Modbus reply timed out")

// Conn is one physical link to an endpoint. A Conn is used by a single
// borrower at a time; Close may be called concurrently.
type Conn interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	// Transact writes one request frame and reads exactly one reply frame.
	Transact(ctx context.Context, adu []byte) ([]byte, error)
	Framer() codec.Framer
}

// New returns an unconnected Conn for the endpoint.
func New(ep endpoint.Endpoint, cfg endpoint.PoolConfiguration) Conn {
	switch e := ep.(type) {
	case endpoint.TCP:
		return &TCPConn{address: e.Address(), connectTimeout: cfg.ConnectTimeout, receiveTimeout: cfg.ReceiveTimeout}
	case endpoint.UDP:
		return &UDPConn{address: e.Address(), connectTimeout: cfg.ConnectTimeout, receiveTimeout: cfg.ReceiveTimeout}
	case endpoint.Serial:
		return NewSerialConn(e, cfg.ReceiveTimeout)
	}
	panic("transport: unknown endpoint type")
}

// FramerFor returns the framing used on the endpoint.
func FramerFor(ep endpoint.Endpoint) codec.Framer {
	switch e := ep.(type) {
	case endpoint.TCP, endpoint.UDP:
		return codec.TCPFramer{}
	case endpoint.Serial:
		if e.Encoding == runtime.ASCII {
			return codec.ASCIIFramer{}
		}
		return codec.RTUFramer{}
	}
	panic("transport: unknown endpoint type")
}

// watchContext runs onCancel if ctx is cancelled before stop is called.
func watchContext(ctx context.Context, onCancel func()) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			onCancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
