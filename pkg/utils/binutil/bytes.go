package binutil

import "math"

// ParseUint16 big-endian
func ParseUint16(buf []byte) uint16 {
	return uint16(buf[0])<<8 | uint16(buf[1])
}

// WriteUint16 big-endian
func WriteUint16(buf []byte, value uint16) {
	buf[0] = byte(value >> 8)
	buf[1] = byte(value)
}

// Uint16ToBytesLittleEndian is used for the RTU CRC which travels low byte first
func Uint16ToBytesLittleEndian(value uint16) []byte {
	return []byte{byte(value), byte(value >> 8)}
}

// ParseUint16LittleEndian 解析
func ParseUint16LittleEndian(buf []byte) uint16 {
	return uint16(buf[1])<<8 | uint16(buf[0])
}

// RegistersToBytes lays registers out high byte first, as on the wire
func RegistersToBytes(registers []uint16) []byte {
	buf := make([]byte, len(registers)*2)
	for i, r := range registers {
		WriteUint16(buf[i*2:], r)
	}
	return buf
}

// BytesToRegisters ignores a trailing odd byte
func BytesToRegisters(buf []byte) []uint16 {
	registers := make([]uint16, len(buf)/2)
	for i := range registers {
		registers[i] = ParseUint16(buf[i*2:])
	}
	return registers
}

// ABCD
func ParseUint32BigEndian(buf []byte) uint32 {
	return uint32(buf[0])<<24 |
		uint32(buf[1])<<16 |
		uint32(buf[2])<<8 |
		uint32(buf[3])
}

// CDAB
func ParseUint32LittleEndianByteSwap(buf []byte) uint32 {
	return uint32(buf[2])<<24 |
		uint32(buf[3])<<16 |
		uint32(buf[0])<<8 |
		uint32(buf[1])
}

func ParseFloat32BigEndian(buf []byte) float32 {
	return math.Float32frombits(ParseUint32BigEndian(buf))
}

func ParseFloat32LittleEndianByteSwap(buf []byte) float32 {
	return math.Float32frombits(ParseUint32LittleEndianByteSwap(buf))
}

// WriteUint32BigEndian ABCD
func WriteUint32BigEndian(buf []byte, value uint32) {
	buf[0] = byte(value >> 24)
	buf[1] = byte(value >> 16)
	buf[2] = byte(value >> 8)
	buf[3] = byte(value)
}

// WriteUint32LittleEndianByteSwap CDAB
func WriteUint32LittleEndianByteSwap(buf []byte, value uint32) {
	buf[2] = byte(value >> 24)
	buf[3] = byte(value >> 16)
	buf[0] = byte(value >> 8)
	buf[1] = byte(value)
}

// ShrinkBool packs bits LSB first into bytes, the coil layout
func ShrinkBool(bits []bool) []byte {
	length := len(bits)
	ln := length >> 3    // length/8
	if length&0x07 > 0 { // length%8
		ln++
	}

	b := make([]byte, ln)
	for i := 0; i < length; i++ {
		if bits[i] {
			b[i>>3] |= 1 << (i & 0x07)
		}
	}
	return b
}

// ExpandBool unpacks count bits, LSB first
func ExpandBool(buf []byte, count int) []bool {
	if max := len(buf) << 3; count > max {
		count = max
	}
	b := make([]bool, count)
	for i := 0; i < count; i++ {
		b[i] = buf[i>>3]&(1<<(i&0x07)) > 0
	}
	return b
}
