package modbus

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"harnspoller/pkg/metrics"
	"harnspoller/pkg/modbus/codec"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/modbus/pool"
	"k8s.io/klog/v2"
	"time"
)

type ExecutorOption func(*Executor)

// WithRetries sets how many times a failed transaction is resent on the same
// borrowed connection before it is reported as a protocol error.
func WithRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// Executor runs single Modbus transactions against pooled endpoints and
// reports each outcome through a callback.
type Executor struct {
	pool    *pool.Pool
	tid     *atomic.Uint32
	retries int
}

func NewExecutor(p *pool.Pool, opts ...ExecutorOption) *Executor {
	e := &Executor{pool: p, tid: atomic.NewUint32(0)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Pool() *pool.Pool {
	return e.pool
}

func (e *Executor) nextTID() uint16 {
	return uint16(e.tid.Inc())
}

// ExecuteRead runs req against ep and calls exactly one method of cb.
func (e *Executor) ExecuteRead(ctx context.Context, ep endpoint.Endpoint, req ReadRequest, cb ReadCallback) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		terr := &TransactionError{Kind: ProtocolError, Endpoint: ep, Err: errors.Wrapf(ErrInvalidRequest, "%v", err)}
		e.report(metrics.KindRead, start, terr)
		cb.OnError(req, terr)
		return
	}

	var bits []bool
	var registers []uint16
	pdu := req.PDU()
	err := e.transact(ctx, ep, req.UnitID, pdu, func(resp codec.PDU) error {
		var err error
		if req.Function.Bits() {
			bits, err = codec.ParseBits(resp, int(req.Length))
		} else {
			registers, err = codec.ParseRegisters(resp, int(req.Length))
		}
		return err
	})
	e.report(metrics.KindRead, start, err)
	if err != nil {
		klog.V(3).InfoS("Read failed", "endpoint", ep, "request", req, "err", err)
		cb.OnError(req, err)
		return
	}
	klog.V(5).InfoS("Read succeeded", "endpoint", ep, "request", req)
	if req.Function.Bits() {
		cb.OnBits(req, bits)
	} else {
		cb.OnRegisters(req, registers)
	}
}

// ExecuteWrite runs req against ep and calls exactly one method of cb.
func (e *Executor) ExecuteWrite(ctx context.Context, ep endpoint.Endpoint, req WriteRequest, cb WriteCallback) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		terr := &TransactionError{Kind: ProtocolError, Endpoint: ep, Err: errors.Wrapf(ErrInvalidRequest, "%v", err)}
		e.report(metrics.KindWrite, start, terr)
		cb.OnError(req, terr)
		return
	}

	var resp WriteResponse
	pdu := req.PDU()
	err := e.transact(ctx, ep, req.Unit(), pdu, func(reply codec.PDU) error {
		if err := codec.VerifyWrite(pdu, reply); err != nil {
			return err
		}
		resp = WriteResponse{Function: reply.Function, Raw: reply.Data}
		return nil
	})
	e.report(metrics.KindWrite, start, err)
	if err != nil {
		klog.V(3).InfoS("Write failed", "endpoint", ep, "reference", req.Ref(), "err", err)
		cb.OnError(req, err)
		return
	}
	klog.V(4).InfoS("Write succeeded", "endpoint", ep, "function", resp.Function, "reference", req.Ref())
	cb.OnWriteResponse(req, resp)
}

// transact borrows a connection for ep, exchanges one request and hands the
// connection back. Every failure is returned as a *TransactionError.
func (e *Executor) transact(ctx context.Context, ep endpoint.Endpoint, unit uint8, req codec.PDU, parse func(codec.PDU) error) error {
	pc, err := e.pool.Borrow(ctx, ep)
	if err != nil {
		return &TransactionError{Kind: ConnectionError, Endpoint: ep, Err: err}
	}
	framer := pc.Framer()
	retryDelay := e.pool.Config(ep).InterTransactionDelay

	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			klog.V(4).InfoS("Retrying transaction", "endpoint", ep, "attempt", attempt, "err", lastErr)
			if err := sleep(ctx, retryDelay); err != nil {
				lastErr = err
				break
			}
			if !pc.Connected() {
				if err := pc.Connect(ctx); err != nil {
					lastErr = err
					continue
				}
			}
		}

		h := codec.Header{UnitID: unit}
		if !framer.Headless() {
			h.TransactionID = e.nextTID()
		}
		adu, err := pc.Transact(ctx, framer.Encode(h, req))
		if err != nil {
			lastErr = err
			continue
		}
		rh, resp, err := framer.Decode(adu)
		if err != nil {
			lastErr = err
			continue
		}
		if !framer.Headless() && rh.TransactionID != h.TransactionID {
			e.pool.Return(ep, pc)
			return &TransactionError{
				Kind:     TransactionIDMismatch,
				Endpoint: ep,
				Err:      fmt.Errorf("sent transaction id %d, received %d", h.TransactionID, rh.TransactionID),
			}
		}
		if rh.UnitID != unit {
			lastErr = errors.Wrapf(ErrUnitMismatch, "sent unit %d, received %d", unit, rh.UnitID)
			continue
		}
		if err = codec.CheckResponse(req, resp); err == nil {
			err = parse(resp)
		}
		if err != nil {
			lastErr = err
			var exc *codec.ExceptionError
			if errors.As(err, &exc) {
				// the slave answered; resending the same request gets the same answer
				break
			}
			continue
		}
		e.pool.Return(ep, pc)
		return nil
	}

	e.pool.Invalidate(ep, pc)
	return &TransactionError{Kind: ProtocolError, Endpoint: ep, Err: lastErr}
}

func (e *Executor) report(kind string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		switch k, _ := kindOf(err); k {
		case ConnectionError:
			outcome = metrics.OutcomeConnection
		case ProtocolError:
			outcome = metrics.OutcomeProtocol
		case TransactionIDMismatch:
			outcome = metrics.OutcomeMismatch
		}
	}
	metrics.Transactions.WithLabelValues(kind, outcome).Inc()
	metrics.TransactionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
