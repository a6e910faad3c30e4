package signal

import (
	"strconv"
	"strings"
)

// Kind is the class of a state or command value.
type Kind int8

const (
	KindDecimal Kind = iota
	KindOnOff
	KindOpenClosed
	KindUnDef
	KindString
	KindIncreaseDecrease
	KindUpDown
	KindStopMove
)

var KindToString = map[Kind]string{
	KindDecimal:          "Decimal",
	KindOnOff:            "OnOff",
	KindOpenClosed:       "OpenClosed",
	KindUnDef:            "UnDef",
	KindString:           "String",
	KindIncreaseDecrease: "IncreaseDecrease",
	KindUpDown:           "UpDown",
	KindStopMove:         "StopMove",
}

func (k Kind) String() string {
	return KindToString[k]
}

// Value is a state or a command. String returns the canonical text form
// that triggers are compared against.
type Value interface {
	Kind() Kind
	String() string
}

type Decimal float64

type OnOff bool

type OpenClosed bool

type UnDef struct{}

type Text string

type IncreaseDecrease bool

type UpDown bool

type StopMove bool

const (
	On        OnOff            = true
	Off       OnOff            = false
	Open      OpenClosed       = true
	Closed    OpenClosed       = false
	Increase  IncreaseDecrease = true
	Decrease  IncreaseDecrease = false
	Up        UpDown           = true
	Down      UpDown           = false
	Stop      StopMove         = true
	Move      StopMove         = false
	undefText                  = "UNDEF"
)

var Undefined = UnDef{}

func (Decimal) Kind() Kind          { return KindDecimal }
func (OnOff) Kind() Kind            { return KindOnOff }
func (OpenClosed) Kind() Kind       { return KindOpenClosed }
func (UnDef) Kind() Kind            { return KindUnDef }
func (Text) Kind() Kind             { return KindString }
func (IncreaseDecrease) Kind() Kind { return KindIncreaseDecrease }
func (UpDown) Kind() Kind           { return KindUpDown }
func (StopMove) Kind() Kind         { return KindStopMove }

func (d Decimal) String() string {
	return strconv.FormatFloat(float64(d), 'f', -1, 64)
}

func (v OnOff) String() string            { return pick(bool(v), "ON", "OFF") }
func (v OpenClosed) String() string       { return pick(bool(v), "OPEN", "CLOSED") }
func (UnDef) String() string              { return undefText }
func (v Text) String() string             { return string(v) }
func (v IncreaseDecrease) String() string { return pick(bool(v), "INCREASE", "DECREASE") }
func (v UpDown) String() string           { return pick(bool(v), "UP", "DOWN") }
func (v StopMove) String() string         { return pick(bool(v), "STOP", "MOVE") }

func pick(b bool, t, f string) string {
	if b {
		return t
	}
	return f
}

// Equal compares two values by kind and canonical text. A nil value equals
// only nil.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.String() == b.String()
}

// Parse reads s as a value of the given kind.
func Parse(kind Kind, s string) (Value, bool) {
	t := strings.TrimSpace(s)
	switch kind {
	case KindDecimal:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, false
		}
		return Decimal(f), true
	case KindOnOff:
		return parseBool(t, "ON", "OFF", func(b bool) Value { return OnOff(b) })
	case KindOpenClosed:
		return parseBool(t, "OPEN", "CLOSED", func(b bool) Value { return OpenClosed(b) })
	case KindUnDef:
		if strings.EqualFold(t, undefText) {
			return Undefined, true
		}
	case KindString:
		return Text(s), true
	case KindIncreaseDecrease:
		return parseBool(t, "INCREASE", "DECREASE", func(b bool) Value { return IncreaseDecrease(b) })
	case KindUpDown:
		return parseBool(t, "UP", "DOWN", func(b bool) Value { return UpDown(b) })
	case KindStopMove:
		return parseBool(t, "STOP", "MOVE", func(b bool) Value { return StopMove(b) })
	}
	return nil, false
}

func parseBool(s, t, f string, mk func(bool) Value) (Value, bool) {
	switch {
	case strings.EqualFold(s, t):
		return mk(true), true
	case strings.EqualFold(s, f):
		return mk(false), true
	}
	return nil, false
}

// ParseFirst parses s with the first kind that accepts it, or returns nil.
func ParseFirst(kinds []Kind, s string) Value {
	for _, k := range kinds {
		if v, ok := Parse(k, s); ok {
			return v
		}
	}
	return nil
}

// Accepts reports whether v is of one of the kinds.
func Accepts(kinds []Kind, v Value) bool {
	if v == nil {
		return false
	}
	for _, k := range kinds {
		if k == v.Kind() {
			return true
		}
	}
	return false
}

// BooleanLike reports whether the kinds contain an on/off or open/closed state.
func BooleanLike(kinds []Kind) bool {
	for _, k := range kinds {
		if k == KindOnOff || k == KindOpenClosed {
			return true
		}
	}
	return false
}
