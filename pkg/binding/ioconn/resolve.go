package ioconn

import (
	"fmt"
	"github.com/pkg/errors"
	"harnspoller/pkg/binding/signal"
)

// ErrUnresolvedCommand means the command cannot be turned into a wire value.
// The write is skipped.
var ErrUnresolvedCommand = errors.New("Command cannot be resolved")

// TransformCommand applies the connection's transformation to cmd. A nil
// result means the transformation produced nothing acceptable.
func (c *IOConnection) TransformCommand(cmd signal.Value) signal.Value {
	if c.Transformation.IsIdentity() {
		return cmd
	}
	return c.Transformation.TransformCommand(c.AcceptedCommands, cmd)
}

// ResolveNumber turns cmd into the numeric value for a register write.
// Relative commands need the previously observed value.
func ResolveNumber(cmd, previous signal.Value) (float64, error) {
	switch v := cmd.(type) {
	case signal.Decimal:
		return float64(v), nil
	case signal.OnOff:
		return boolNumber(bool(v)), nil
	case signal.OpenClosed:
		return boolNumber(bool(v)), nil
	case signal.IncreaseDecrease:
		return step(previous, bool(v), cmd)
	case signal.UpDown:
		return step(previous, bool(v), cmd)
	}
	return 0, unresolved(cmd)
}

func step(previous signal.Value, up bool, cmd signal.Value) (float64, error) {
	prev, ok := previous.(signal.Decimal)
	if !ok {
		return 0, errors.Wrapf(ErrUnresolvedCommand, "%s without a previous number, have %v", cmd, previous)
	}
	if up {
		return float64(prev) + 1, nil
	}
	return float64(prev) - 1, nil
}

// ResolveCoil turns cmd into a coil value.
func ResolveCoil(cmd signal.Value) (bool, error) {
	switch v := cmd.(type) {
	case signal.OnOff:
		return bool(v), nil
	case signal.OpenClosed:
		return bool(v), nil
	case signal.UpDown:
		return bool(v), nil
	case signal.Decimal:
		return v != 0, nil
	}
	return false, unresolved(cmd)
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func unresolved(cmd signal.Value) error {
	if cmd == nil {
		return errors.Wrap(ErrUnresolvedCommand, "no command")
	}
	return errors.Wrap(ErrUnresolvedCommand, fmt.Sprintf("%s %s", cmd.Kind(), cmd))
}
