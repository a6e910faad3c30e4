package codec

import (
	"fmt"
	"harnspoller/pkg/utils/binutil"
)

type FunctionCode byte

const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10

	exceptionBit = 0x80
)

const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)

var FunctionCodeToString = map[FunctionCode]string{
	FuncReadCoils:              "ReadCoils",
	FuncReadDiscreteInputs:     "ReadDiscreteInputs",
	FuncReadHoldingRegisters:   "ReadHoldingRegisters",
	FuncReadInputRegisters:     "ReadInputRegisters",
	FuncWriteSingleCoil:        "WriteSingleCoil",
	FuncWriteSingleRegister:    "WriteSingleRegister",
	FuncWriteMultipleCoils:     "WriteMultipleCoils",
	FuncWriteMultipleRegisters: "WriteMultipleRegisters",
}

func (f FunctionCode) String() string {
	if s, ok := FunctionCodeToString[f]; ok {
		return s
	}
	return fmt.Sprintf("FunctionCode(0x%02x)", byte(f))
}

// PDU is the protocol data unit, independent of the framing.
type PDU struct {
	Function FunctionCode
	Data     []byte
}

func (p PDU) Bytes() []byte {
	b := make([]byte, 1+len(p.Data))
	b[0] = byte(p.Function)
	copy(b[1:], p.Data)
	return b
}

func pduFromBytes(b []byte) (PDU, error) {
	if len(b) < 2 {
		return PDU{}, ErrShortFrame
	}
	data := make([]byte, len(b)-1)
	copy(data, b[1:])
	return PDU{Function: FunctionCode(b[0]), Data: data}, nil
}

// NewReadRequest builds a read of quantity bits or registers starting at address.
func NewReadRequest(fc FunctionCode, address, quantity uint16) PDU {
	data := make([]byte, 4)
	binutil.WriteUint16(data, address)
	binutil.WriteUint16(data[2:], quantity)
	return PDU{Function: fc, Data: data}
}

func NewWriteSingleCoil(address uint16, value bool) PDU {
	data := make([]byte, 4)
	binutil.WriteUint16(data, address)
	if value {
		binutil.WriteUint16(data[2:], 0xFF00)
	}
	return PDU{Function: FuncWriteSingleCoil, Data: data}
}

func NewWriteSingleRegister(address, value uint16) PDU {
	data := make([]byte, 4)
	binutil.WriteUint16(data, address)
	binutil.WriteUint16(data[2:], value)
	return PDU{Function: FuncWriteSingleRegister, Data: data}
}

func NewWriteMultipleCoils(address uint16, values []bool) PDU {
	packed := binutil.ShrinkBool(values)
	data := make([]byte, 5, 5+len(packed))
	binutil.WriteUint16(data, address)
	binutil.WriteUint16(data[2:], uint16(len(values)))
	data[4] = byte(len(packed))
	return PDU{Function: FuncWriteMultipleCoils, Data: append(data, packed...)}
}

func NewWriteMultipleRegisters(address uint16, values []uint16) PDU {
	regs := binutil.RegistersToBytes(values)
	data := make([]byte, 5, 5+len(regs))
	binutil.WriteUint16(data, address)
	binutil.WriteUint16(data[2:], uint16(len(values)))
	data[4] = byte(len(regs))
	return PDU{Function: FuncWriteMultipleRegisters, Data: append(data, regs...)}
}

// CheckResponse reports a remote exception or a reply to a different function.
func CheckResponse(req, resp PDU) error {
	if resp.Function == req.Function {
		return nil
	}
	if resp.Function == req.Function|exceptionBit {
		code := ExceptionCode(0)
		if len(resp.Data) > 0 {
			code = ExceptionCode(resp.Data[0])
		}
		return &ExceptionError{Function: req.Function, Code: code}
	}
	return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFunction, resp.Function, req.Function)
}

// ParseBits extracts quantity bits from a read coils or read discrete inputs reply.
func ParseBits(resp PDU, quantity int) ([]bool, error) {
	if len(resp.Data) < 1 {
		return nil, ErrShortFrame
	}
	count := int(resp.Data[0])
	if count != len(resp.Data)-1 || count*8 < quantity {
		return nil, fmt.Errorf("%w: byte count %d for %d bits", ErrByteCount, count, quantity)
	}
	return binutil.ExpandBool(resp.Data[1:], quantity), nil
}

// ParseRegisters extracts quantity registers from a read registers reply.
func ParseRegisters(resp PDU, quantity int) ([]uint16, error) {
	if len(resp.Data) < 1 {
		return nil, ErrShortFrame
	}
	count := int(resp.Data[0])
	if count != len(resp.Data)-1 || count != quantity*2 {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrByteCount, count, quantity)
	}
	return binutil.BytesToRegisters(resp.Data[1:]), nil
}

// VerifyWrite checks the echo of a write reply: address and value or quantity.
func VerifyWrite(req, resp PDU) error {
	if len(resp.Data) != 4 || len(req.Data) < 4 {
		return fmt.Errorf("%w: write reply of %d bytes", ErrShortFrame, len(resp.Data))
	}
	for i := 0; i < 4; i++ {
		if req.Data[i] != resp.Data[i] {
			return fmt.Errorf("%w: write echo % x, want % x", ErrByteCount, resp.Data, req.Data[:4])
		}
	}
	return nil
}
