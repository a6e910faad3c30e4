package modbus

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"harnspoller/pkg/modbus/codec"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/modbus/pool"
	"harnspoller/pkg/modbus/transport"
	"harnspoller/pkg/utils/binutil"
	"sync"
	"testing"
	"time"
)

// slaveFunc answers one decoded request.
type slaveFunc func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error)

type fakeSlave struct {
	mu        sync.Mutex
	framer    codec.Framer
	handle    slaveFunc
	connected bool
	failDial  bool
	transacts *atomic.Int32
}

func (c *fakeSlave) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failDial {
		return errors.New("connection refused")
	}
	c.connected = true
	return nil
}

func (c *fakeSlave) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *fakeSlave) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeSlave) Transact(ctx context.Context, adu []byte) ([]byte, error) {
	c.transacts.Inc()
	if !c.Connected() {
		return nil, transport.ErrNotConnected
	}
	h, req, err := c.framer.Decode(adu)
	if err != nil {
		return nil, err
	}
	rh, resp, err := c.handle(h, req)
	if err != nil {
		return nil, err
	}
	return c.framer.Encode(rh, resp), nil
}

func (c *fakeSlave) Framer() codec.Framer { return c.framer }

// registerSlave answers reads with registers counting up from the reference
// and echoes writes.
func registerSlave(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
	switch req.Function {
	case codec.FuncReadHoldingRegisters, codec.FuncReadInputRegisters:
		ref := binutil.ParseUint16(req.Data)
		n := binutil.ParseUint16(req.Data[2:])
		regs := make([]uint16, n)
		for i := range regs {
			regs[i] = ref + uint16(i)
		}
		body := binutil.RegistersToBytes(regs)
		return h, codec.PDU{Function: req.Function, Data: append([]byte{byte(len(body))}, body...)}, nil
	case codec.FuncReadCoils, codec.FuncReadDiscreteInputs:
		n := binutil.ParseUint16(req.Data[2:])
		bits := make([]bool, n)
		for i := range bits {
			bits[i] = i%2 == 0
		}
		body := binutil.ShrinkBool(bits)
		return h, codec.PDU{Function: req.Function, Data: append([]byte{byte(len(body))}, body...)}, nil
	}
	return h, codec.PDU{Function: req.Function, Data: req.Data[:4]}, nil
}

type testRig struct {
	slave    *fakeSlave
	pool     *pool.Pool
	executor *Executor
}

func newRig(t *testing.T, ep endpoint.Endpoint, handle slaveFunc, opts ...ExecutorOption) *testRig {
	t.Helper()
	var framer codec.Framer = codec.TCPFramer{}
	if ep.Headless() {
		framer = codec.RTUFramer{}
	}
	slave := &fakeSlave{framer: framer, handle: handle, transacts: atomic.NewInt32(0)}
	p := pool.New(pool.WithConnFactory(func(endpoint.Endpoint, endpoint.PoolConfiguration) transport.Conn {
		return slave
	}))
	cfg := endpoint.DefaultPoolConfiguration(ep.Kind())
	cfg.InterTransactionDelay = 0
	p.SetConfig(ep, cfg)
	t.Cleanup(p.Close)
	return &testRig{slave: slave, pool: p, executor: NewExecutor(p, opts...)}
}

type readRecorder struct {
	mu        sync.Mutex
	calls     int
	bits      []bool
	registers []uint16
	err       error
}

func (r *readRecorder) OnBits(req ReadRequest, bits []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.bits = bits
}

func (r *readRecorder) OnRegisters(req ReadRequest, registers []uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.registers = registers
}

func (r *readRecorder) OnError(req ReadRequest, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.err = err
}

func (r *readRecorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var tcpEndpoint = endpoint.TCP{Host: "127.0.0.1", Port: 502}

func TestExecuteReadRegisters(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	rec := &readRecorder{}
	req := ReadRequest{UnitID: 1, Reference: 10, Length: 3, Function: ReadHoldingRegisters}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, req, rec)

	assert.Equal(t, 1, rec.calls)
	require.NoError(t, rec.err)
	assert.Equal(t, []uint16{10, 11, 12}, rec.registers)
}

func TestExecuteReadBits(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	rec := &readRecorder{}
	req := ReadRequest{UnitID: 1, Reference: 0, Length: 5, Function: ReadCoils}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, req, rec)

	assert.Equal(t, 1, rec.calls)
	require.NoError(t, rec.err)
	assert.Equal(t, []bool{true, false, true, false, true}, rec.bits)
}

func TestExecuteReadConnectionError(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	rig.slave.failDial = true
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Length: 1, Function: ReadInputRegisters}, rec)

	assert.Equal(t, 1, rec.calls)
	assert.True(t, IsConnectionError(rec.err))
	assert.True(t, errors.Is(rec.err, pool.ErrConnect))
	assert.Equal(t, int32(0), rig.slave.transacts.Load())
}

func TestExecuteReadProtocolErrorInvalidates(t *testing.T) {
	rig := newRig(t, tcpEndpoint, func(codec.Header, codec.PDU) (codec.Header, codec.PDU, error) {
		return codec.Header{}, codec.PDU{}, transport.ErrReadTimeout
	})
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Length: 1, Function: ReadHoldingRegisters}, rec)

	assert.Equal(t, 1, rec.calls)
	assert.True(t, IsProtocolError(rec.err))
	assert.True(t, errors.Is(rec.err, transport.ErrReadTimeout))
	stats := rig.pool.Stats(tcpEndpoint)
	assert.Equal(t, 1, stats.Invalidated)
	assert.False(t, stats.Borrowed)
}

func TestExecuteReadExceptionReply(t *testing.T) {
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		return h, codec.PDU{Function: req.Function | 0x80, Data: []byte{byte(codec.IllegalDataAddress)}}, nil
	}, WithRetries(2))
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Reference: 9000, Length: 1, Function: ReadHoldingRegisters}, rec)

	assert.True(t, IsProtocolError(rec.err))
	var exc *codec.ExceptionError
	require.True(t, errors.As(rec.err, &exc))
	assert.Equal(t, codec.IllegalDataAddress, exc.Code)
	assert.Equal(t, int32(1), rig.slave.transacts.Load(), "exception replies are not retried")
}

// A reply carrying another transaction id is discarded but the connection is kept.
func TestExecuteReadTransactionIDMismatch(t *testing.T) {
	mismatch := atomic.NewBool(true)
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		if mismatch.Swap(false) {
			h.TransactionID++
		}
		return registerSlave(h, req)
	})
	req := ReadRequest{UnitID: 1, Reference: 1, Length: 1, Function: ReadHoldingRegisters}

	first := &readRecorder{}
	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, req, first)
	assert.Equal(t, 1, first.calls)
	assert.True(t, IsTransactionIDMismatch(first.err))

	second := &readRecorder{}
	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, req, second)
	require.NoError(t, second.err)
	assert.Equal(t, []uint16{1}, second.registers)

	stats := rig.pool.Stats(tcpEndpoint)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 0, stats.Invalidated)
}

func TestExecuteReadHeadlessSkipsTransactionID(t *testing.T) {
	ep := endpoint.NewSerial("/dev/ttyS0")
	rig := newRig(t, ep, registerSlave)
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), ep, ReadRequest{UnitID: 7, Reference: 4, Length: 2, Function: ReadInputRegisters}, rec)

	require.NoError(t, rec.err)
	assert.Equal(t, []uint16{4, 5}, rec.registers)
}

func TestExecuteReadUnitMismatch(t *testing.T) {
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		h.UnitID++
		return registerSlave(h, req)
	})
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Length: 1, Function: ReadHoldingRegisters}, rec)

	assert.True(t, IsProtocolError(rec.err))
	assert.True(t, errors.Is(rec.err, ErrUnitMismatch))
}

func TestExecuteReadRetries(t *testing.T) {
	failures := atomic.NewInt32(1)
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		if failures.Dec() >= 0 {
			return h, codec.PDU{}, transport.ErrReadTimeout
		}
		return registerSlave(h, req)
	}, WithRetries(1))
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Reference: 3, Length: 1, Function: ReadHoldingRegisters}, rec)

	require.NoError(t, rec.err)
	assert.Equal(t, []uint16{3}, rec.registers)
	assert.Equal(t, int32(2), rig.slave.transacts.Load())
	assert.Equal(t, 0, rig.pool.Stats(tcpEndpoint).Invalidated)
}

func TestExecuteReadInvalidRequest(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	rec := &readRecorder{}

	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Length: 0, Function: ReadHoldingRegisters}, rec)

	assert.Equal(t, 1, rec.calls)
	assert.True(t, errors.Is(rec.err, ErrInvalidRequest))
	assert.Equal(t, 0, rig.pool.Stats(tcpEndpoint).Created)
}

// Two borrowers on one endpoint never overlap on the wire.
func TestExecuteReadSerializesEndpoint(t *testing.T) {
	inFlight := atomic.NewInt32(0)
	overlapped := atomic.NewBool(false)
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		if inFlight.Inc() > 1 {
			overlapped.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Dec()
		return registerSlave(h, req)
	})

	var wg sync.WaitGroup
	recs := make([]*readRecorder, 8)
	for i := range recs {
		recs[i] = &readRecorder{}
		wg.Add(1)
		go func(rec *readRecorder) {
			defer wg.Done()
			rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Length: 1, Function: ReadHoldingRegisters}, rec)
		}(recs[i])
	}
	wg.Wait()

	assert.False(t, overlapped.Load())
	for _, rec := range recs {
		assert.Equal(t, 1, rec.Calls())
		assert.NoError(t, rec.err)
	}
}

// A read cancelled while queued behind another borrower never reached the
// wire, so it is a connection error and leaves the pool untouched.
func TestExecuteReadCancelledWhileWaiting(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	held, err := rig.pool.Borrow(context.Background(), tcpEndpoint)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &readRecorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		rig.executor.ExecuteRead(ctx, tcpEndpoint, ReadRequest{UnitID: 1, Length: 1, Function: ReadHoldingRegisters}, rec)
	}()
	require.Eventually(t, func() bool { return rig.pool.Stats(tcpEndpoint).Waiters == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.True(t, IsConnectionError(rec.err))
	assert.True(t, errors.Is(rec.err, context.Canceled))
	assert.Equal(t, int32(0), rig.slave.transacts.Load())

	rig.pool.Return(tcpEndpoint, held)
	assert.False(t, rig.pool.Stats(tcpEndpoint).Borrowed)
	after := &readRecorder{}
	rig.executor.ExecuteRead(context.Background(), tcpEndpoint, ReadRequest{UnitID: 1, Length: 1, Function: ReadHoldingRegisters}, after)
	assert.NoError(t, after.err)
	assert.Equal(t, []uint16{0}, after.registers)
}

func TestExecuteWrite(t *testing.T) {
	rig := newRig(t, tcpEndpoint, registerSlave)
	tests := []struct {
		name string
		req  WriteRequest
		fc   codec.FunctionCode
	}{
		{name: "single coil", req: CoilWrite{UnitID: 1, Reference: 3, Value: true}, fc: codec.FuncWriteSingleCoil},
		{name: "coils", req: CoilsWrite{UnitID: 1, Reference: 3, Values: []bool{true, false, true}}, fc: codec.FuncWriteMultipleCoils},
		{name: "single register", req: RegisterWrite{UnitID: 1, Reference: 8, Registers: []uint16{42}}, fc: codec.FuncWriteSingleRegister},
		{name: "forced multiple", req: RegisterWrite{UnitID: 1, Reference: 8, Registers: []uint16{42}, Multiple: true}, fc: codec.FuncWriteMultipleRegisters},
		{name: "registers", req: RegisterWrite{UnitID: 1, Reference: 8, Registers: []uint16{1, 2}}, fc: codec.FuncWriteMultipleRegisters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var got WriteResponse
			rig.executor.ExecuteWrite(context.Background(), tcpEndpoint, tt.req, WriteFuncs{
				Response: func(req WriteRequest, resp WriteResponse) {
					calls++
					got = resp
				},
				Error: func(req WriteRequest, err error) {
					calls++
					t.Errorf("unexpected error: %v", err)
				},
			})
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.fc, got.Function)
		})
	}
}

func TestExecuteWriteBadEcho(t *testing.T) {
	rig := newRig(t, tcpEndpoint, func(h codec.Header, req codec.PDU) (codec.Header, codec.PDU, error) {
		return h, codec.PDU{Function: req.Function, Data: []byte{0, 0, 0, 0}}, nil
	})
	var got error
	rig.executor.ExecuteWrite(context.Background(), tcpEndpoint, RegisterWrite{UnitID: 1, Reference: 5, Registers: []uint16{9}}, WriteFuncs{
		Error: func(req WriteRequest, err error) { got = err },
	})
	assert.True(t, IsProtocolError(got))
	assert.True(t, errors.Is(got, codec.ErrByteCount))
}
