package modbus

import (
	"fmt"
	"harnspoller/pkg/modbus/codec"
)

type ReadFunction int8

const (
	ReadCoils ReadFunction = iota
	ReadDiscreteInputs
	ReadHoldingRegisters
	ReadInputRegisters
)

var ReadFunctionToString = map[ReadFunction]string{
	ReadCoils:            "ReadCoils",
	ReadDiscreteInputs:   "ReadDiscreteInputs",
	ReadHoldingRegisters: "ReadHoldingRegisters",
	ReadInputRegisters:   "ReadInputRegisters",
}

func (f ReadFunction) String() string {
	return ReadFunctionToString[f]
}

// Bits reports whether the function reads single bits.
func (f ReadFunction) Bits() bool {
	return f == ReadCoils || f == ReadDiscreteInputs
}

func (f ReadFunction) code() codec.FunctionCode {
	switch f {
	case ReadCoils:
		return codec.FuncReadCoils
	case ReadDiscreteInputs:
		return codec.FuncReadDiscreteInputs
	case ReadHoldingRegisters:
		return codec.FuncReadHoldingRegisters
	case ReadInputRegisters:
		return codec.FuncReadInputRegisters
	}
	panic(fmt.Sprintf("modbus: unknown read function %d", f))
}

// ReadRequest describes one read transaction independent of the transport.
type ReadRequest struct {
	UnitID    uint8
	Reference uint16
	Length    uint16
	Function  ReadFunction
}

func (r ReadRequest) Validate() error {
	if _, ok := ReadFunctionToString[r.Function]; !ok {
		return fmt.Errorf("unknown read function %d", r.Function)
	}
	limit := uint16(codec.MaxReadRegisters)
	if r.Function.Bits() {
		limit = codec.MaxReadBits
	}
	if r.Length == 0 || r.Length > limit {
		return fmt.Errorf("read length %d out of range 1..%d for %s", r.Length, limit, r.Function)
	}
	if int(r.Reference)+int(r.Length) > 0x10000 {
		return fmt.Errorf("read of %d from %d passes the end of the address space", r.Length, r.Reference)
	}
	return nil
}

func (r ReadRequest) PDU() codec.PDU {
	return codec.NewReadRequest(r.Function.code(), r.Reference, r.Length)
}

func (r ReadRequest) String() string {
	return fmt.Sprintf("%s(unit=%d, ref=%d, len=%d)", r.Function, r.UnitID, r.Reference, r.Length)
}

// WriteRequest is one of CoilWrite, CoilsWrite or RegisterWrite.
type WriteRequest interface {
	Unit() uint8
	Ref() uint16
	Validate() error
	PDU() codec.PDU

	writeRequest()
}

// CoilWrite sets a single coil with FC05.
type CoilWrite struct {
	UnitID    uint8
	Reference uint16
	Value     bool
}

// CoilsWrite sets consecutive coils with FC15.
type CoilsWrite struct {
	UnitID    uint8
	Reference uint16
	Values    []bool
}

// RegisterWrite writes one register with FC06 unless Multiple is set, and
// always uses FC16 for more than one register.
type RegisterWrite struct {
	UnitID    uint8
	Reference uint16
	Registers []uint16
	Multiple  bool
}

func (w CoilWrite) Unit() uint8     { return w.UnitID }
func (w CoilWrite) Ref() uint16     { return w.Reference }
func (w CoilWrite) Validate() error { return nil }
func (w CoilWrite) PDU() codec.PDU  { return codec.NewWriteSingleCoil(w.Reference, w.Value) }
func (CoilWrite) writeRequest()     {}

func (w CoilsWrite) Unit() uint8 { return w.UnitID }
func (w CoilsWrite) Ref() uint16 { return w.Reference }
func (w CoilsWrite) Validate() error {
	if len(w.Values) == 0 || len(w.Values) > codec.MaxWriteBits {
		return fmt.Errorf("coil count %d out of range 1..%d", len(w.Values), codec.MaxWriteBits)
	}
	return nil
}
func (w CoilsWrite) PDU() codec.PDU { return codec.NewWriteMultipleCoils(w.Reference, w.Values) }
func (CoilsWrite) writeRequest()    {}

func (w RegisterWrite) Unit() uint8 { return w.UnitID }
func (w RegisterWrite) Ref() uint16 { return w.Reference }
func (w RegisterWrite) Validate() error {
	if len(w.Registers) == 0 || len(w.Registers) > codec.MaxWriteRegisters {
		return fmt.Errorf("register count %d out of range 1..%d", len(w.Registers), codec.MaxWriteRegisters)
	}
	return nil
}
func (w RegisterWrite) PDU() codec.PDU {
	if len(w.Registers) == 1 && !w.Multiple {
		return codec.NewWriteSingleRegister(w.Reference, w.Registers[0])
	}
	return codec.NewWriteMultipleRegisters(w.Reference, w.Registers)
}
func (RegisterWrite) writeRequest() {}

// WriteResponse acknowledges a write.
type WriteResponse struct {
	Function codec.FunctionCode
	// Raw is the reply PDU data as received.
	Raw []byte
}
