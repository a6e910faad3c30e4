package binding

import (
	"context"
	"github.com/pkg/errors"
	"harnspoller/pkg/binding/ioconn"
	"harnspoller/pkg/binding/signal"
	"harnspoller/pkg/binding/transform"
	"harnspoller/pkg/binding/valuetype"
	"harnspoller/pkg/metrics"
	"harnspoller/pkg/modbus"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/runtime"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrUnknownItem = errors.New("Unknown item")
var ErrUnknownSlave = errors.New("Unknown slave")
var ErrCommandNotAccepted = errors.New("Command kind is not accepted by the item")
var ErrManagerClosed = errors.New("Binding manager is closed")

// Publisher receives every state that passed a state connection.
type Publisher interface {
	PostUpdate(item string, v signal.Value)
}

type PublisherFunc func(item string, v signal.Value)

func (f PublisherFunc) PostUpdate(item string, v signal.Value) { f(item, v) }

type Option func(*Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithTransformRegistry(r *transform.Registry) Option {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithInitialDelay delays the first poll of every slave.
func WithInitialDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.initialDelay = d
	}
}

// Manager turns a Config into registered polls and routes values between
// slaves and items.
type Manager struct {
	executor     *modbus.Executor
	scheduler    *modbus.Scheduler
	registry     *transform.Registry
	publisher    Publisher
	initialDelay time.Duration

	mu     *sync.RWMutex
	gen    *generation
	closed bool

	stateMu *sync.RWMutex
	states  map[string]signal.Value
}

type slave struct {
	config    SlaveConfig
	slaveType runtime.SlaveType
	valueType runtime.ValueType
	endpoint  endpoint.Endpoint
	request   modbus.ReadRequest
	policy    ioconn.DefaultPolicy
	handle    *modbus.PollHandle
	// reads are the state connections fed by this slave
	reads []itemConnection
}

type itemConnection struct {
	item string
	conn *ioconn.IOConnection
}

type item struct {
	name     string
	itemType signal.ItemType
	states   []*ioconn.IOConnection
	commands []*ioconn.IOConnection
}

type generation struct {
	config *Config
	slaves map[string]*slave
	items  map[string]*item
}

func NewManager(scheduler *modbus.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		executor:  scheduler.Executor(),
		scheduler: scheduler,
		mu:        &sync.RWMutex{},
		stateMu:   &sync.RWMutex{},
		states:    make(map[string]signal.Value),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = transform.NewRegistry("")
	}
	return m
}

// Activate validates cfg and starts polling it. Nothing is registered when
// the configuration is invalid.
func (m *Manager) Activate(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.gen != nil {
		return errors.New("a configuration is already active, use Reconfigure")
	}
	return m.activateLocked(cfg)
}

// Reconfigure replaces the active generation. The new configuration is
// validated before the old one is torn down.
func (m *Manager) Reconfigure(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	gen, err := m.build(cfg)
	if err != nil {
		return err
	}
	m.deactivateLocked()
	ioconn.ResetSequence()
	m.stateMu.Lock()
	m.states = make(map[string]signal.Value)
	m.stateMu.Unlock()
	return m.startLocked(gen)
}

func (m *Manager) activateLocked(cfg *Config) error {
	gen, err := m.build(cfg)
	if err != nil {
		return err
	}
	return m.startLocked(gen)
}

func (m *Manager) build(cfg *Config) (*generation, error) {
	if errs := Validate(cfg, m.registry); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	gen := &generation{
		config: cfg,
		slaves: make(map[string]*slave, len(cfg.Slaves)),
		items:  make(map[string]*item, len(cfg.Items)),
	}
	for _, sc := range cfg.Slaves {
		ep, _, err := sc.Endpoint()
		if err != nil {
			return nil, err
		}
		req, err := sc.Request()
		if err != nil {
			return nil, err
		}
		t, _ := sc.SlaveType()
		policy := ioconn.UpdateChanged
		if sc.UpdateUnchangedItems {
			policy = ioconn.UpdateAlways
		}
		gen.slaves[sc.Name] = &slave{
			config:    sc,
			slaveType: t,
			valueType: sc.EffectiveValueType(),
			endpoint:  ep,
			request:   req,
			policy:    policy,
		}
	}

	for _, ic := range cfg.Items {
		itemType, _ := signal.ParseItemType(ic.Type)
		it := &item{name: ic.Name, itemType: itemType}
		conns, err := ic.Connections()
		if err != nil {
			return nil, err
		}
		for _, cc := range conns {
			s := gen.slaves[cc.Slave]
			conn, err := m.connection(cc, itemType)
			if err != nil {
				return nil, err
			}
			conn = conn.WithDefaultsReplaced(s.config.UpdateUnchangedItems, s.valueType)
			if conn.Direction == ioconn.State {
				it.states = append(it.states, conn)
				s.reads = append(s.reads, itemConnection{item: ic.Name, conn: conn})
			} else {
				it.commands = append(it.commands, conn)
			}
		}
		gen.items[ic.Name] = it
	}
	return gen, nil
}

func (m *Manager) connection(cc ConnectionConfig, itemType signal.ItemType) (*ioconn.IOConnection, error) {
	direction, _ := parseDirection(cc.Direction)
	conn := ioconn.New(cc.Slave, cc.Index, direction, itemType.AcceptedStates(), itemType.AcceptedCommands())
	if cc.Trigger != "" {
		conn.Trigger = cc.Trigger
	}
	if cc.ValueType != "" {
		conn.ValueType = strings.ToLower(cc.ValueType)
	}
	t, err := m.registry.Parse(cc.Transformation)
	if err != nil {
		return nil, err
	}
	conn.Transformation = t
	return conn, nil
}

func (m *Manager) startLocked(gen *generation) error {
	for _, ep := range gen.endpoints() {
		_, cfg, _ := ep.config.Endpoint()
		m.executor.Pool().SetConfig(ep.endpoint, cfg)
	}
	m.gen = gen
	if gen.config.PollInterval <= 0 {
		klog.V(2).InfoS("Regular polling disabled", "slaves", len(gen.slaves))
		return nil
	}
	for _, name := range gen.slaveNames() {
		s := gen.slaves[name]
		task := modbus.PollTask{Endpoint: s.endpoint, Request: s.request, Callback: m.reader(s)}
		h, err := m.scheduler.RegisterRegularPoll(task, gen.config.PollInterval, m.initialDelay)
		if err != nil {
			m.deactivateLocked()
			return errors.Wrapf(err, "register poll of slave %s", name)
		}
		s.handle = h
	}
	klog.V(2).InfoS("Activated binding configuration", "slaves", len(gen.slaves), "items", len(gen.items),
		"interval", gen.config.PollInterval)
	return nil
}

func (m *Manager) deactivateLocked() {
	if m.gen == nil {
		return
	}
	for _, name := range m.gen.slaveNames() {
		s := m.gen.slaves[name]
		if s.handle != nil {
			m.scheduler.UnregisterRegularPoll(s.handle)
			s.handle = nil
		}
	}
	m.gen = nil
}

// endpoints returns the first slave of every distinct endpoint.
func (g *generation) endpoints() []*slave {
	seen := make(map[endpoint.Key]bool)
	var out []*slave
	for _, name := range g.slaveNames() {
		s := g.slaves[name]
		if seen[s.endpoint.Key()] {
			continue
		}
		seen[s.endpoint.Key()] = true
		out = append(out, s)
	}
	return out
}

func (g *generation) slaveNames() []string {
	names := make([]string, 0, len(g.slaves))
	for name := range g.slaves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) reader(s *slave) modbus.ReadCallback {
	return modbus.ReadFuncs{
		Registers: func(req modbus.ReadRequest, registers []uint16) {
			for _, ic := range s.reads {
				vt, err := ic.conn.EffectiveValueType()
				if err != nil {
					klog.ErrorS(err, "Connection has no value type", "item", ic.item, "connection", ic.conn)
					continue
				}
				v, err := valuetype.Decode(registers, ic.conn.Index, vt)
				if err != nil {
					klog.InfoS("Skipping out of range index", "item", ic.item, "slave", s.config.Name,
						"index", ic.conn.Index, "valueType", vt, "err", err)
					continue
				}
				m.offer(ic, ic.conn.NumberCandidates(v), s.policy)
			}
		},
		Bits: func(req modbus.ReadRequest, bits []bool) {
			for _, ic := range s.reads {
				if ic.conn.Index >= len(bits) {
					klog.InfoS("Skipping out of range index", "item", ic.item, "slave", s.config.Name,
						"index", ic.conn.Index, "length", len(bits))
					continue
				}
				m.offer(ic, ic.conn.BitCandidates(bits[ic.conn.Index]), s.policy)
			}
		},
		Error: func(req modbus.ReadRequest, err error) {
			klog.ErrorS(err, "Failed to poll slave", "slave", s.config.Name, "endpoint", s.endpoint, "request", req)
			if !s.config.PostUndefinedOnReadError {
				return
			}
			for _, ic := range s.reads {
				ok, err := ic.conn.OfferUndefined(s.policy)
				if err != nil {
					klog.ErrorS(err, "Failed to offer UNDEF", "item", ic.item)
					continue
				}
				if ok {
					m.post(ic.item, signal.Undefined)
				}
			}
		},
	}
}

func (m *Manager) offer(ic itemConnection, candidates []ioconn.Candidate, policy ioconn.DefaultPolicy) {
	v, ok, err := ic.conn.Offer(candidates, policy)
	if err != nil {
		klog.ErrorS(err, "Failed to match polled value", "item", ic.item, "connection", ic.conn)
		return
	}
	if ok {
		m.post(ic.item, v)
	}
}

func (m *Manager) post(item string, v signal.Value) {
	klog.V(4).InfoS("Posting update", "item", item, "value", v)
	metrics.PostedUpdates.WithLabelValues(item).Inc()
	m.stateMu.Lock()
	m.states[item] = v
	m.stateMu.Unlock()
	if m.publisher != nil {
		m.publisher.PostUpdate(item, v)
	}
}

// CommandResult counts what happened to one received command.
type CommandResult struct {
	Written int `json:"written"`
	// Skipped are command connections that did not produce a write, for
	// example a relative command without a recorded value.
	Skipped int `json:"skipped"`
}

// ReceiveCommand writes cmd through every command connection of the item
// that accepts it. Unresolvable commands are skipped without a transaction;
// transaction failures are aggregated into the returned error.
func (m *Manager) ReceiveCommand(ctx context.Context, itemName string, cmd signal.Value) (CommandResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result CommandResult
	if m.gen == nil {
		return result, errors.Wrap(ErrUnknownItem, itemName)
	}
	it, ok := m.gen.items[itemName]
	if !ok {
		return result, errors.Wrap(ErrUnknownItem, itemName)
	}
	if !signal.Accepts(it.itemType.AcceptedCommands(), cmd) {
		return result, errors.Wrapf(ErrCommandNotAccepted, "%s does not accept %v", itemName, cmd)
	}

	var errs []error
	for _, conn := range it.commands {
		if !conn.SupportsCommand(cmd) {
			continue
		}
		s := m.gen.slaves[conn.Slave]
		req, err := m.writeRequest(it, s, conn, cmd)
		if err != nil {
			klog.InfoS("Skipping command", "item", itemName, "command", cmd, "connection", conn, "err", err)
			result.Skipped++
			continue
		}
		var failed error
		m.executor.ExecuteWrite(ctx, s.endpoint, req, modbus.WriteFuncs{
			Error: func(req modbus.WriteRequest, err error) { failed = err },
		})
		if failed != nil {
			errs = append(errs, errors.WithMessagef(failed, "write %s to slave %s", itemName, s.config.Name))
			continue
		}
		result.Written++
	}
	return result, utilerrors.NewAggregate(errs)
}

func (m *Manager) writeRequest(it *item, s *slave, conn *ioconn.IOConnection, cmd signal.Value) (modbus.WriteRequest, error) {
	if !s.slaveType.Writable() {
		return nil, errors.Errorf("slave %s of type %s is read only", s.config.Name, s.slaveType)
	}
	transformed := conn.TransformCommand(cmd)
	if transformed == nil {
		return nil, errors.Wrapf(ioconn.ErrUnresolvedCommand, "transformation %s produced no command", conn.Transformation)
	}
	if s.slaveType == runtime.COIL {
		value, err := ioconn.ResolveCoil(transformed)
		if err != nil {
			return nil, err
		}
		return modbus.CoilWrite{
			UnitID:    s.config.UnitID,
			Reference: s.config.Start + uint16(conn.Index),
			Value:     value,
		}, nil
	}

	vt, err := conn.EffectiveValueType()
	if err != nil {
		return nil, err
	}
	value, err := ioconn.ResolveNumber(transformed, m.history(it, s))
	if err != nil {
		return nil, err
	}
	registers, err := valuetype.Encode(value, vt)
	if err != nil {
		return nil, errors.Wrap(ioconn.ErrUnresolvedCommand, err.Error())
	}
	return modbus.RegisterWrite{
		UnitID:    s.config.UnitID,
		Reference: s.config.Start + uint16(valuetype.Offset(conn.Index, vt)),
		Registers: registers,
		Multiple:  s.config.WriteMultipleRegisters,
	}, nil
}

// history is the most recently observed value among the item's state
// connections on the same endpoint.
func (m *Manager) history(it *item, s *slave) signal.Value {
	var candidates []*ioconn.IOConnection
	for _, conn := range it.states {
		other := m.gen.slaves[conn.Slave]
		if other != nil && other.endpoint.Key() == s.endpoint.Key() {
			candidates = append(candidates, conn)
		}
	}
	if recent := ioconn.MostRecent(candidates); recent != nil {
		return recent.PreviouslyObserved()
	}
	return nil
}

// ExecuteOnce polls one slave immediately, outside its schedule.
func (m *Manager) ExecuteOnce(ctx context.Context, slaveName string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gen == nil {
		return errors.Wrap(ErrUnknownSlave, slaveName)
	}
	s, ok := m.gen.slaves[slaveName]
	if !ok {
		return errors.Wrap(ErrUnknownSlave, slaveName)
	}
	return m.scheduler.ExecuteOnce(ctx, modbus.PollTask{Endpoint: s.endpoint, Request: s.request, Callback: m.reader(s)})
}

// States is a snapshot of the last posted value per item.
func (m *Manager) States() map[string]signal.Value {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	out := make(map[string]signal.Value, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

func (m *Manager) State(itemName string) (signal.Value, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	v, ok := m.states[itemName]
	return v, ok
}

// ItemType reports the type of an item of the active configuration.
func (m *Manager) ItemType(itemName string) (signal.ItemType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gen == nil {
		return 0, false
	}
	it, ok := m.gen.items[itemName]
	if !ok {
		return 0, false
	}
	return it.itemType, true
}

// AcceptedKinds returns the state kinds of an item.
func (m *Manager) AcceptedKinds(itemName string) ([]signal.Kind, bool) {
	t, ok := m.ItemType(itemName)
	if !ok {
		return nil, false
	}
	return t.AcceptedStates(), true
}

// AcceptedCommands returns the command kinds of an item.
func (m *Manager) AcceptedCommands(itemName string) ([]signal.Kind, bool) {
	t, ok := m.ItemType(itemName)
	if !ok {
		return nil, false
	}
	return t.AcceptedCommands(), true
}

// Items lists the item names of the active configuration, sorted.
func (m *Manager) Items() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gen == nil {
		return nil
	}
	names := make([]string, 0, len(m.gen.items))
	for name := range m.gen.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Polls lists the polls currently registered.
func (m *Manager) Polls() []*modbus.PollHandle {
	return m.scheduler.RegisteredPolls()
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.deactivateLocked()
}
