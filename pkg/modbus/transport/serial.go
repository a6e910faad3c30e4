package transport

import (
	"bytes"
	"context"
	"github.com/pkg/errors"
	"go.bug.st/serial"
	"harnspoller/pkg/modbus/codec"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/runtime"
	"k8s.io/klog/v2"
	"sync"
	"time"
)

var StopBitsToStopBits = map[runtime.StopBits]serial.StopBits{
	runtime.OneStopBit:           serial.OneStopBit,
	runtime.OnePointFiveStopBits: serial.OnePointFiveStopBits,
	runtime.TwoStopBits:          serial.TwoStopBits,
}

var ParityToParity = map[runtime.Parity]serial.Parity{
	runtime.NoParity:    serial.NoParity,
	runtime.OddParity:   serial.OddParity,
	runtime.EvenParity:  serial.EvenParity,
	runtime.MarkParity:  serial.MarkParity,
	runtime.SpaceParity: serial.SpaceParity,
}

const maxASCIIFrame = 513

// OpenPort opens the serial device, replaceable in tests.
var OpenPort = serial.Open

// SerialConn speaks RTU or ASCII framed Modbus on a serial line.
type SerialConn struct {
	endpoint       endpoint.Serial
	framer         codec.Framer
	receiveTimeout time.Duration

	mu   sync.Mutex
	port serial.Port
}

func NewSerialConn(ep endpoint.Serial, receiveTimeout time.Duration) *SerialConn {
	return &SerialConn{
		endpoint:       ep,
		framer:         FramerFor(ep),
		receiveTimeout: receiveTimeout,
	}
}

func (c *SerialConn) Framer() codec.Framer { return c.framer }

func (c *SerialConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: c.endpoint.BaudRate,
		DataBits: c.endpoint.DataBits,
		Parity:   ParityToParity[c.endpoint.Parity],
		StopBits: StopBitsToStopBits[c.endpoint.StopBits],
	}
	port, err := OpenPort(c.endpoint.PortName, mode)
	if err != nil {
		return errors.Wrapf(err, "open serial port %s", c.endpoint.PortName)
	}
	if c.receiveTimeout > 0 {
		if err = port.SetReadTimeout(c.receiveTimeout); err != nil {
			_ = port.Close()
			return errors.Wrapf(err, "set read timeout on %s", c.endpoint.PortName)
		}
	}
	klog.V(4).InfoS("Opened serial port", "port", c.endpoint.PortName, "baudRate", mode.BaudRate, "encoding", c.endpoint.Encoding)
	c.port = port
	return nil
}

func (c *SerialConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

func (c *SerialConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

func (c *SerialConn) Transact(ctx context.Context, adu []byte) ([]byte, error) {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return nil, ErrNotConnected
	}
	// a cancelled transaction leaves the line in an unknown state, the
	// connection gets invalidated by the caller anyway
	stop := watchContext(ctx, func() { _ = c.Close() })
	defer stop()

	resp, err := c.roundTrip(port, adu)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return resp, err
}

func (c *SerialConn) roundTrip(port serial.Port, adu []byte) ([]byte, error) {
	if err := port.ResetInputBuffer(); err != nil {
		return nil, errors.Wrapf(err, "reset input buffer of %s", c.endpoint.PortName)
	}
	if _, err := port.Write(adu); err != nil {
		return nil, errors.Wrapf(err, "write to %s", c.endpoint.PortName)
	}
	if _, ok := c.framer.(codec.ASCIIFramer); ok {
		return c.readLine(port)
	}
	head := make([]byte, 3)
	if err := c.readFull(port, head); err != nil {
		return nil, err
	}
	total, err := codec.RTUFrameLength(head)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, total)
	copy(frame, head)
	if err = c.readFull(port, frame[3:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// readFull treats a zero length read as the port's read timeout expiring.
func (c *SerialConn) readFull(port serial.Port, buf []byte) error {
	for read := 0; read < len(buf); {
		n, err := port.Read(buf[read:])
		if err != nil {
			return errors.Wrapf(err, "read from %s", c.endpoint.PortName)
		}
		if n == 0 {
			return errors.Wrapf(ErrReadTimeout, "read from %s after %d of %d bytes", c.endpoint.PortName, read, len(buf))
		}
		read += n
	}
	return nil
}

func (c *SerialConn) readLine(port serial.Port) ([]byte, error) {
	var frame []byte
	buf := make([]byte, 64)
	for len(frame) < maxASCIIFrame {
		n, err := port.Read(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "read from %s", c.endpoint.PortName)
		}
		if n == 0 {
			return nil, errors.Wrapf(ErrReadTimeout, "read from %s", c.endpoint.PortName)
		}
		frame = append(frame, buf[:n]...)
		if bytes.HasSuffix(frame, []byte("\r\n")) {
			return frame, nil
		}
	}
	return nil, codec.ErrASCIIFrame
}
