package runtime

type ValueType int8

const (
	BIT ValueType = iota
	INT8
	UINT8
	INT16
	UINT16
	INT32
	UINT32
	FLOAT32
	INT32SWAP
	UINT32SWAP
	FLOAT32SWAP
)

// DefaultValueType is used when a slave does not name one
const DefaultValueType = UINT16

var ValueTypeToString = map[ValueType]string{
	BIT:         "bit",
	INT8:        "int8",
	UINT8:       "uint8",
	INT16:       "int16",
	UINT16:      "uint16",
	INT32:       "int32",
	UINT32:      "uint32",
	FLOAT32:     "float32",
	INT32SWAP:   "int32_swap",
	UINT32SWAP:  "uint32_swap",
	FLOAT32SWAP: "float32_swap",
}

var StringToValueType = map[string]ValueType{
	"bit":          BIT,
	"int8":         INT8,
	"uint8":        UINT8,
	"int16":        INT16,
	"uint16":       UINT16,
	"int32":        INT32,
	"uint32":       UINT32,
	"float32":      FLOAT32,
	"int32_swap":   INT32SWAP,
	"uint32_swap":  UINT32SWAP,
	"float32_swap": FLOAT32SWAP,
}

// ValueTypeBits is the width of one value on the wire
var ValueTypeBits = map[ValueType]int{
	BIT:         1,
	INT8:        8,
	UINT8:       8,
	INT16:       16,
	UINT16:      16,
	INT32:       32,
	UINT32:      32,
	FLOAT32:     32,
	INT32SWAP:   32,
	UINT32SWAP:  32,
	FLOAT32SWAP: 32,
}

func (v ValueType) String() string {
	return ValueTypeToString[v]
}

// Words is the number of 16 bit registers one value occupies, at least one
func (v ValueType) Words() int {
	bits := ValueTypeBits[v]
	if bits <= 16 {
		return 1
	}
	return bits / 16
}

type SlaveType int8

const (
	COIL SlaveType = iota
	DISCRETE
	HOLDING
	INPUT
)

var SlaveTypeToString = map[SlaveType]string{
	COIL:     "coil",
	DISCRETE: "discrete",
	HOLDING:  "holding",
	INPUT:    "input",
}

var StringToSlaveType = map[string]SlaveType{
	"coil":     COIL,
	"discrete": DISCRETE,
	"holding":  HOLDING,
	"input":    INPUT,
}

func (s SlaveType) String() string {
	return SlaveTypeToString[s]
}

// Writable reports whether commands may be written to this kind of slave
func (s SlaveType) Writable() bool {
	return s == COIL || s == HOLDING
}

// Bits reports whether the slave exchanges single bits instead of registers
func (s SlaveType) Bits() bool {
	return s == COIL || s == DISCRETE
}

type Encoding int8

const (
	RTU Encoding = iota
	ASCII
)

var EncodingToString = map[Encoding]string{
	RTU:   "rtu",
	ASCII: "ascii",
}

var StringToEncoding = map[string]Encoding{
	"rtu":   RTU,
	"ascii": ASCII,
}

func (e Encoding) String() string {
	return EncodingToString[e]
}

type StopBits int

const (
	// OneStopBit sets 1 stop bit (default)
	OneStopBit StopBits = iota
	// OnePointFiveStopBits sets 1.5 stop bits
	OnePointFiveStopBits
	// TwoStopBits sets 2 stop bits
	TwoStopBits
)

var StopBitsToString = map[StopBits]string{
	OneStopBit:           "1",
	OnePointFiveStopBits: "1.5",
	TwoStopBits:          "2",
}

var StringToStopBits = map[string]StopBits{
	"1":   OneStopBit,
	"1.5": OnePointFiveStopBits,
	"2":   TwoStopBits,
}

func (s StopBits) String() string {
	return StopBitsToString[s]
}

type Parity int

const (
	// NoParity disable parity control (default)
	NoParity Parity = iota
	// OddParity enable odd-parity check
	OddParity
	// EvenParity enable even-parity check
	EvenParity
	// MarkParity enable mark-parity (always 1) check
	MarkParity
	// SpaceParity enable space-parity (always 0) check
	SpaceParity
)

var ParityToString = map[Parity]string{
	NoParity:    "none",
	OddParity:   "odd",
	EvenParity:  "even",
	MarkParity:  "mark",
	SpaceParity: "space",
}

var StringToParity = map[string]Parity{
	"none":  NoParity,
	"odd":   OddParity,
	"even":  EvenParity,
	"mark":  MarkParity,
	"space": SpaceParity,
}

func (p Parity) String() string {
	return ParityToString[p]
}
