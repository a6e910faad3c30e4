package valuetype

import (
	"errors"
	"fmt"
	"harnspoller/pkg/runtime"
	"harnspoller/pkg/utils/binutil"
	"math"
)

var ErrOutOfRange = errors.New("Value index out of range")

// Count is how many values of type vt fit into n registers.
func Count(n int, vt runtime.ValueType) int {
	switch vt {
	case runtime.BIT:
		return n * 16
	case runtime.INT8, runtime.UINT8:
		return n * 2
	}
	return n / vt.Words()
}

// Offset is the register holding the first word of value index.
func Offset(index int, vt runtime.ValueType) int {
	switch vt {
	case runtime.BIT:
		return index / 16
	case runtime.INT8, runtime.UINT8:
		return index / 2
	}
	return index * vt.Words()
}

// Decode reads value index of type vt. Indexes count values, not registers.
func Decode(registers []uint16, index int, vt runtime.ValueType) (float64, error) {
	if index < 0 || index >= Count(len(registers), vt) {
		return 0, fmt.Errorf("%w: %s index %d in %d registers", ErrOutOfRange, vt, index, len(registers))
	}
	reg := registers[Offset(index, vt)]
	switch vt {
	case runtime.BIT:
		return float64(reg >> (index % 16) & 1), nil
	case runtime.INT8:
		return float64(int8(byteOf(reg, index))), nil
	case runtime.UINT8:
		return float64(byteOf(reg, index)), nil
	case runtime.INT16:
		return float64(int16(reg)), nil
	case runtime.UINT16:
		return float64(reg), nil
	}

	buf := binutil.RegistersToBytes(registers[Offset(index, vt) : Offset(index, vt)+2])
	switch vt {
	case runtime.INT32:
		return float64(int32(binutil.ParseUint32BigEndian(buf))), nil
	case runtime.UINT32:
		return float64(binutil.ParseUint32BigEndian(buf)), nil
	case runtime.FLOAT32:
		return float64(binutil.ParseFloat32BigEndian(buf)), nil
	case runtime.INT32SWAP:
		return float64(int32(binutil.ParseUint32LittleEndianByteSwap(buf))), nil
	case runtime.UINT32SWAP:
		return float64(binutil.ParseUint32LittleEndianByteSwap(buf)), nil
	case runtime.FLOAT32SWAP:
		return float64(binutil.ParseFloat32LittleEndianByteSwap(buf)), nil
	}
	return 0, fmt.Errorf("unknown value type %d", vt)
}

// byteOf returns the low byte for even indexes and the high byte for odd ones.
func byteOf(reg uint16, index int) uint8 {
	if index%2 == 0 {
		return uint8(reg)
	}
	return uint8(reg >> 8)
}

// Encode lays v out as registers of type vt. Integer types truncate toward
// zero and wrap like a two's complement store. Sub register types cannot be
// written on their own.
func Encode(v float64, vt runtime.ValueType) ([]uint16, error) {
	switch vt {
	case runtime.INT16, runtime.UINT16:
		return []uint16{uint16(int64(v))}, nil
	}

	buf := make([]byte, 4)
	switch vt {
	case runtime.INT32, runtime.UINT32:
		binutil.WriteUint32BigEndian(buf, uint32(int64(v)))
	case runtime.FLOAT32:
		binutil.WriteUint32BigEndian(buf, math.Float32bits(float32(v)))
	case runtime.INT32SWAP, runtime.UINT32SWAP:
		binutil.WriteUint32LittleEndianByteSwap(buf, uint32(int64(v)))
	case runtime.FLOAT32SWAP:
		binutil.WriteUint32LittleEndianByteSwap(buf, math.Float32bits(float32(v)))
	default:
		return nil, fmt.Errorf("value type %s cannot be written to registers", vt)
	}
	return binutil.BytesToRegisters(buf), nil
}
