package pool

import (
	"container/list"
	"context"
	"github.com/pkg/errors"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/modbus/transport"
	"k8s.io/klog/v2"
	"sync"
	"time"
)

var ErrConnect = errors.New("Failed to connect to endpoint")
var ErrPoolClosed = errors.New("Connection pool is closed")

// ConnFactory creates an unconnected transport for an endpoint.
type ConnFactory func(ep endpoint.Endpoint, cfg endpoint.PoolConfiguration) transport.Conn

type Option func(*Pool)

func WithConnFactory(f ConnFactory) Option {
	return func(p *Pool) {
		p.newConn = f
	}
}

// Pool keeps at most one connection per endpoint and hands it out to one
// borrower at a time. Waiting borrowers are served in arrival order.
type Pool struct {
	newConn ConnFactory

	mu     *sync.Mutex
	slots  map[endpoint.Key]*slot
	closed bool
}

func New(opts ...Option) *Pool {
	p := &Pool{
		newConn: transport.New,
		mu:      &sync.Mutex{},
		slots:   make(map[endpoint.Key]*slot),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PooledConnection is a checked out connection. It must be handed back with
// exactly one of Return or Invalidate.
type PooledConnection struct {
	transport.Conn
	endpoint endpoint.Endpoint

	borrowedAt time.Time
	returnedAt time.Time
	checkedOut bool
}

func (pc *PooledConnection) Endpoint() endpoint.Endpoint { return pc.endpoint }

func (pc *PooledConnection) BorrowedAt() time.Time { return pc.borrowedAt }

type waiter struct {
	ready  chan bool
	elem   *list.Element
	queued bool
}

type slot struct {
	endpoint endpoint.Endpoint
	config   endpoint.PoolConfiguration
	// stale is set when the configuration changed, the next activation
	// recreates the connection object
	stale bool

	conn    *PooledConnection
	busy    bool
	waiters *list.List

	lastBorrowed       time.Time
	lastConnectAttempt time.Time
	disconnectBefore   time.Time

	created     int
	connects    int
	invalidated int
}

// Stats is a snapshot of one endpoint's slot.
type Stats struct {
	Borrowed    bool
	Waiters     int
	Created     int
	Connects    int
	Invalidated int
}

func (p *Pool) slotFor(ep endpoint.Endpoint) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slotLocked(ep)
}

func (p *Pool) slotLocked(ep endpoint.Endpoint) *slot {
	key := ep.Key()
	s, ok := p.slots[key]
	if !ok {
		s = &slot{
			endpoint: ep,
			config:   endpoint.DefaultPoolConfiguration(ep.Kind()),
			waiters:  list.New(),
		}
		p.slots[key] = s
	}
	return s
}

// SetConfig replaces the endpoint's configuration for subsequent borrows.
func (p *Pool) SetConfig(ep endpoint.Endpoint, cfg endpoint.PoolConfiguration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.slotLocked(ep)
	if s.config != cfg {
		s.config = cfg
		s.stale = s.conn != nil
	}
}

func (p *Pool) Config(ep endpoint.Endpoint) endpoint.PoolConfiguration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[ep.Key()]; ok {
		return s.config
	}
	return endpoint.DefaultPoolConfiguration(ep.Kind())
}

func (p *Pool) Stats(ep endpoint.Endpoint) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[ep.Key()]
	if !ok {
		return Stats{}
	}
	return Stats{
		Borrowed:    s.busy,
		Waiters:     s.waiters.Len(),
		Created:     s.created,
		Connects:    s.connects,
		Invalidated: s.invalidated,
	}
}

// Borrow checks out the endpoint's connection, connecting it if needed. It
// blocks while another borrower holds the endpoint. A non-nil error means no
// connection was checked out.
func (p *Pool) Borrow(ctx context.Context, ep endpoint.Endpoint) (*PooledConnection, error) {
	s := p.slotFor(ep)
	if err := p.acquire(ctx, s); err != nil {
		return nil, err
	}
	pc, err := p.activate(ctx, s)
	if err != nil {
		p.release(s)
		return nil, err
	}
	return pc, nil
}

func (p *Pool) acquire(ctx context.Context, s *slot) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if !s.busy && s.waiters.Len() == 0 {
		s.busy = true
		p.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan bool, 1), queued: true}
	w.elem = s.waiters.PushBack(w)
	p.mu.Unlock()

	klog.V(5).InfoS("Waiting for endpoint", "endpoint", s.endpoint)
	select {
	case ok := <-w.ready:
		if !ok {
			return ErrPoolClosed
		}
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if w.queued {
			s.waiters.Remove(w.elem)
			w.queued = false
			p.mu.Unlock()
			return ctx.Err()
		}
		p.mu.Unlock()
		// the slot was handed over while giving up, pass it on
		if ok := <-w.ready; ok {
			p.release(s)
		}
		return ctx.Err()
	}
}

func (p *Pool) release(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if front := s.waiters.Front(); front != nil {
		w := s.waiters.Remove(front).(*waiter)
		w.queued = false
		w.ready <- true
		return
	}
	s.busy = false
}

// activate runs with the slot held.
func (p *Pool) activate(ctx context.Context, s *slot) (*PooledConnection, error) {
	p.mu.Lock()
	cfg := s.config
	pc := s.conn
	stale := s.stale
	s.stale = false
	p.mu.Unlock()

	if pc != nil && stale {
		closeQuietly(pc, "configuration changed")
		pc = nil
	}
	if pc == nil {
		pc = &PooledConnection{Conn: p.newConn(s.endpoint, cfg), endpoint: s.endpoint}
		p.mu.Lock()
		s.conn = pc
		s.created++
		p.mu.Unlock()
		klog.V(4).InfoS("Created connection", "endpoint", s.endpoint)
	}

	if cfg.ReconnectAfterIdle >= 0 && pc.Connected() && !pc.returnedAt.IsZero() && time.Since(pc.returnedAt) > cfg.ReconnectAfterIdle {
		closeQuietly(pc, "idle longer than reconnect threshold")
	}
	if !pc.Connected() {
		if err := p.connect(ctx, s, pc, cfg); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	lastBorrowed := s.lastBorrowed
	p.mu.Unlock()
	if !lastBorrowed.IsZero() {
		if err := sleep(ctx, cfg.InterTransactionDelay-time.Since(lastBorrowed)); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	p.mu.Lock()
	s.lastBorrowed = now
	pc.borrowedAt = now
	pc.checkedOut = true
	p.mu.Unlock()
	klog.V(5).InfoS("Borrowed connection", "endpoint", s.endpoint)
	return pc, nil
}

func (p *Pool) connect(ctx context.Context, s *slot, pc *PooledConnection, cfg endpoint.PoolConfiguration) error {
	retryDelay := cfg.ConnectRetryDelay()
	var lastErr error
	for tries := 1; ; tries++ {
		p.mu.Lock()
		lastAttempt := s.lastConnectAttempt
		p.mu.Unlock()
		if !lastAttempt.IsZero() {
			if err := sleep(ctx, retryDelay-time.Since(lastAttempt)); err != nil {
				return err
			}
		}

		p.mu.Lock()
		s.lastConnectAttempt = time.Now()
		p.mu.Unlock()
		lastErr = pc.Connect(ctx)
		if lastErr == nil {
			p.mu.Lock()
			s.connects++
			p.mu.Unlock()
			klog.V(4).InfoS("Connected endpoint", "endpoint", s.endpoint, "attempt", tries)
			return nil
		}
		klog.V(2).InfoS("Failed to connect endpoint", "endpoint", s.endpoint, "attempt", tries, "maxTries", cfg.ConnectMaxTries, "err", lastErr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tries >= cfg.ConnectMaxTries {
			return errors.Wrapf(ErrConnect, "%s after %d attempts: %v", s.endpoint, tries, lastErr)
		}
	}
}

// Return hands a borrowed connection back. IP connections are closed so the
// next borrow reconnects; serial lines stay open.
func (p *Pool) Return(ep endpoint.Endpoint, pc *PooledConnection) {
	s, ok := p.checkIn(ep, pc)
	if !ok {
		return
	}
	p.mu.Lock()
	disconnect := p.closed || ep.Kind() != endpoint.KindSerial || !pc.borrowedAt.After(s.disconnectBefore)
	p.mu.Unlock()
	if disconnect {
		closeQuietly(pc, "passivate")
	}
	p.mu.Lock()
	pc.returnedAt = time.Now()
	p.mu.Unlock()
	p.release(s)
}

// Invalidate closes and discards a borrowed connection; the next borrow
// creates a new one.
func (p *Pool) Invalidate(ep endpoint.Endpoint, pc *PooledConnection) {
	s, ok := p.checkIn(ep, pc)
	if !ok {
		return
	}
	closeQuietly(pc, "invalidate")
	p.mu.Lock()
	if s.conn == pc {
		s.conn = nil
	}
	s.invalidated++
	p.mu.Unlock()
	klog.V(4).InfoS("Invalidated connection", "endpoint", ep)
	p.release(s)
}

func (p *Pool) checkIn(ep endpoint.Endpoint, pc *PooledConnection) (*slot, bool) {
	if pc == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[ep.Key()]
	if !ok || !pc.checkedOut {
		klog.ErrorS(nil, "Connection handed back twice or to the wrong endpoint", "endpoint", ep)
		return nil, false
	}
	pc.checkedOut = false
	return s, true
}

// DisconnectOnReturn closes, on release, every connection of the endpoint
// borrowed at or before the given time instead of recycling it.
func (p *Pool) DisconnectOnReturn(ep endpoint.Endpoint, before time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.slotLocked(ep)
	if before.After(s.disconnectBefore) {
		s.disconnectBefore = before
	}
}

// ClearIdle closes the endpoint's connection if nobody holds it, and flags a
// checked out connection to be closed when it comes back.
func (p *Pool) ClearIdle(ep endpoint.Endpoint) error {
	p.mu.Lock()
	s, ok := p.slots[ep.Key()]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if now := time.Now(); now.After(s.disconnectBefore) {
		s.disconnectBefore = now
	}
	if s.busy || s.conn == nil {
		p.mu.Unlock()
		return nil
	}
	pc := s.conn
	s.conn = nil
	p.mu.Unlock()

	if err := pc.Close(); err != nil {
		return errors.Wrapf(err, "close idle connection of %s", ep)
	}
	klog.V(4).InfoS("Cleared idle connection", "endpoint", ep)
	return nil
}

// Close closes every idle connection and fails waiting borrowers. Borrowed
// connections are closed when they are handed back.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var idle []*PooledConnection
	for _, s := range p.slots {
		for e := s.waiters.Front(); e != nil; e = s.waiters.Front() {
			w := s.waiters.Remove(e).(*waiter)
			w.queued = false
			w.ready <- false
		}
		if !s.busy && s.conn != nil {
			idle = append(idle, s.conn)
			s.conn = nil
		}
	}
	p.mu.Unlock()

	for _, pc := range idle {
		closeQuietly(pc, "pool closed")
	}
}

func closeQuietly(pc *PooledConnection, reason string) {
	if err := pc.Close(); err != nil {
		klog.ErrorS(err, "Failed to close connection", "endpoint", pc.endpoint, "reason", reason)
	}
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
