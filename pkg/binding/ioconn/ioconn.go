package ioconn

import (
	"errors"
	"fmt"
	"harnspoller/pkg/binding/signal"
	"harnspoller/pkg/binding/transform"
	"harnspoller/pkg/runtime"
	"strings"
	"sync"
)

const (
	TriggerAny       = "*"
	TriggerDefault   = "default"
	TriggerChanged   = "CHANGED"
	ValueTypeDefault = "default"
)

var ErrDefaultTriggerPolicy = errors.New("Trigger default needs a policy")
var ErrDefaultValueType = errors.New("Value type default is not resolved")

type Direction int8

const (
	State Direction = iota
	Command
)

var DirectionToString = map[Direction]string{
	State:   "state",
	Command: "command",
}

func (d Direction) String() string {
	return DirectionToString[d]
}

// DefaultPolicy decides whether a state connection with the default trigger
// fires, given whether the value changed.
type DefaultPolicy func(changed bool) bool

// UpdateChanged fires on changed values only.
func UpdateChanged(changed bool) bool { return changed }

// UpdateAlways fires on every value.
func UpdateAlways(bool) bool { return true }

// IOConnection binds one item to one wire location of a slave and decides
// which polled values or commands pass through it. Callers serialize
// commits to the same connection; reads of the recorded value may race.
type IOConnection struct {
	Slave            string
	Index            int
	Direction        Direction
	Trigger          string
	Transformation   *transform.Transformation
	ValueType        string
	AcceptedStates   []signal.Kind
	AcceptedCommands []signal.Kind

	mu       sync.Mutex
	previous signal.Value
	sequence int64
}

// New returns a connection with the default trigger, identity
// transformation and default value type.
func New(slave string, index int, direction Direction, states, commands []signal.Kind) *IOConnection {
	return &IOConnection{
		Slave:            slave,
		Index:            index,
		Direction:        direction,
		Trigger:          TriggerDefault,
		Transformation:   transform.Identity,
		ValueType:        ValueTypeDefault,
		AcceptedStates:   states,
		AcceptedCommands: commands,
	}
}

func (c *IOConnection) String() string {
	return fmt.Sprintf("IOConnection{slave=%s, index=%d, direction=%s, trigger=%s, transformation=%s, valueType=%s}",
		c.Slave, c.Index, c.Direction, c.Trigger, c.Transformation, c.ValueType)
}

func (c *IOConnection) isTriggerDefault() bool {
	return strings.EqualFold(c.Trigger, TriggerDefault)
}

// SupportsState reports whether a polled value passes this connection.
// policy is consulted for the default trigger; a nil policy with that
// trigger is an error.
func (c *IOConnection) SupportsState(v signal.Value, changed bool, policy DefaultPolicy) (bool, error) {
	if c.Direction != State || v == nil {
		return false, nil
	}
	switch {
	case c.Trigger == TriggerAny:
		return true, nil
	case c.isTriggerDefault():
		if policy == nil {
			return false, ErrDefaultTriggerPolicy
		}
		return policy(changed), nil
	case strings.EqualFold(c.Trigger, TriggerChanged):
		return changed, nil
	}
	return strings.EqualFold(c.Trigger, v.String()), nil
}

// SupportsCommand reports whether a received command passes this connection.
func (c *IOConnection) SupportsCommand(cmd signal.Value) bool {
	if c.Direction != Command || cmd == nil {
		return false
	}
	if c.Trigger == TriggerAny || c.isTriggerDefault() {
		return true
	}
	return strings.EqualFold(c.Trigger, cmd.String())
}

// SupportsBooleanLikeState reports whether on/off or open/closed candidates
// are worth trying.
func (c *IOConnection) SupportsBooleanLikeState() bool {
	return signal.BooleanLike(c.AcceptedStates)
}

// RecordObservedValue stores the untransformed value that passed and stamps
// it with the next global sequence number.
func (c *IOConnection) RecordObservedValue(v signal.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked(v)
}

func (c *IOConnection) recordLocked(v signal.Value) {
	c.previous = v
	c.sequence = global.Next()
}

// PreviouslyObserved is nil until a value has been recorded.
func (c *IOConnection) PreviouslyObserved() signal.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}

// SequenceNumber is 0 until a value has been recorded.
func (c *IOConnection) SequenceNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// EffectiveValueType fails while the value type is still "default".
func (c *IOConnection) EffectiveValueType() (runtime.ValueType, error) {
	if strings.EqualFold(c.ValueType, ValueTypeDefault) {
		return 0, ErrDefaultValueType
	}
	vt, ok := runtime.StringToValueType[strings.ToLower(c.ValueType)]
	if !ok {
		return 0, fmt.Errorf("unknown value type %q", c.ValueType)
	}
	return vt, nil
}

// WithDefaultsReplaced returns a copy where a default trigger becomes * or
// CHANGED depending on updateUnchanged, and a default value type becomes
// the slave's. Recorded history is not copied.
func (c *IOConnection) WithDefaultsReplaced(updateUnchanged bool, slaveValueType runtime.ValueType) *IOConnection {
	trigger := c.Trigger
	if c.isTriggerDefault() {
		switch {
		case c.Direction == Command || updateUnchanged:
			trigger = TriggerAny
		default:
			trigger = TriggerChanged
		}
	}
	valueType := c.ValueType
	if strings.EqualFold(valueType, ValueTypeDefault) {
		valueType = slaveValueType.String()
	}
	return &IOConnection{
		Slave:            c.Slave,
		Index:            c.Index,
		Direction:        c.Direction,
		Trigger:          trigger,
		Transformation:   c.Transformation,
		ValueType:        valueType,
		AcceptedStates:   c.AcceptedStates,
		AcceptedCommands: c.AcceptedCommands,
	}
}

// MostRecent returns the connection with the highest sequence number, or
// nil when none has recorded a value.
func MostRecent(conns []*IOConnection) *IOConnection {
	var best *IOConnection
	var bestSeq int64
	for _, c := range conns {
		if seq := c.SequenceNumber(); seq > bestSeq {
			best, bestSeq = c, seq
		}
	}
	return best
}
