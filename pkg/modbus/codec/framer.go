package codec

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"harnspoller/pkg/utils/binutil"
)

const (
	MBAPHeaderLength = 7
	maxADULength     = 260
)

// Header carries the addressing fields of an application data unit.
// TransactionID is always 0 for headless framings.
type Header struct {
	TransactionID uint16
	UnitID        byte
}

// Framer wraps a PDU into an application data unit for one wire format and back.
type Framer interface {
	Encode(h Header, pdu PDU) []byte
	Decode(adu []byte) (Header, PDU, error)
	// Headless framings have no transaction id.
	Headless() bool
}

type TCPFramer struct{}

type RTUFramer struct{}

type ASCIIFramer struct{}

var _ Framer = TCPFramer{}
var _ Framer = RTUFramer{}
var _ Framer = ASCIIFramer{}

func (TCPFramer) Headless() bool { return false }

// Encode 报文头 transaction id(2) protocol id(2) length(2) unit id(1)
func (TCPFramer) Encode(h Header, pdu PDU) []byte {
	body := pdu.Bytes()
	adu := make([]byte, MBAPHeaderLength, MBAPHeaderLength+len(body))
	binutil.WriteUint16(adu[0:], h.TransactionID)
	binutil.WriteUint16(adu[2:], 0)
	binutil.WriteUint16(adu[4:], uint16(len(body)+1))
	adu[6] = h.UnitID
	return append(adu, body...)
}

func (TCPFramer) Decode(adu []byte) (Header, PDU, error) {
	if len(adu) < MBAPHeaderLength+1 {
		return Header{}, PDU{}, ErrShortFrame
	}
	h := Header{TransactionID: binutil.ParseUint16(adu[0:]), UnitID: adu[6]}
	if pid := binutil.ParseUint16(adu[2:]); pid != 0 {
		return h, PDU{}, fmt.Errorf("%w: %d", ErrProtocolID, pid)
	}
	if length := int(binutil.ParseUint16(adu[4:])); length != len(adu)-6 {
		return h, PDU{}, fmt.Errorf("%w: header says %d, got %d", ErrFrameLength, length, len(adu)-6)
	}
	pdu, err := pduFromBytes(adu[MBAPHeaderLength:])
	return h, pdu, err
}

// TCPFrameLength returns the total length of the frame whose MBAP header is given.
func TCPFrameLength(header []byte) (int, error) {
	if len(header) < MBAPHeaderLength {
		return 0, ErrShortFrame
	}
	length := int(binutil.ParseUint16(header[4:]))
	if length < 2 || length+6 > maxADULength {
		return 0, fmt.Errorf("%w: length field %d", ErrFrameLength, length)
	}
	return length + 6, nil
}

func (RTUFramer) Headless() bool { return true }

func (RTUFramer) Encode(h Header, pdu PDU) []byte {
	adu := make([]byte, 1, 1+len(pdu.Data)+3)
	adu[0] = h.UnitID
	adu = append(adu, pdu.Bytes()...)
	return append(adu, binutil.Uint16ToBytesLittleEndian(CRC16(adu))...)
}

func (RTUFramer) Decode(adu []byte) (Header, PDU, error) {
	if len(adu) < 5 {
		return Header{}, PDU{}, ErrShortFrame
	}
	h := Header{UnitID: adu[0]}
	n := len(adu)
	if got, want := binutil.ParseUint16LittleEndian(adu[n-2:]), CRC16(adu[:n-2]); got != want {
		return h, PDU{}, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrCRC, got, want)
	}
	pdu, err := pduFromBytes(adu[1 : n-2])
	return h, pdu, err
}

// RTUFrameLength derives the total reply length from the first three bytes of an RTU reply.
func RTUFrameLength(head []byte) (int, error) {
	if len(head) < 3 {
		return 0, ErrShortFrame
	}
	fc := FunctionCode(head[1])
	if fc&exceptionBit != 0 {
		return 5, nil
	}
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		return 3 + int(head[2]) + 2, nil
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 8, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnexpectedFunction, fc)
}

func (ASCIIFramer) Headless() bool { return true }

// Encode ':' + hex(unit pdu lrc) + CRLF
func (ASCIIFramer) Encode(h Header, pdu PDU) []byte {
	raw := append([]byte{h.UnitID}, pdu.Bytes()...)
	raw = append(raw, LRC(raw))
	adu := make([]byte, 0, 1+len(raw)*2+2)
	adu = append(adu, ':')
	adu = append(adu, bytes.ToUpper([]byte(hex.EncodeToString(raw)))...)
	return append(adu, '\r', '\n')
}

func (ASCIIFramer) Decode(adu []byte) (Header, PDU, error) {
	if len(adu) < 9 || adu[0] != ':' || !bytes.HasSuffix(adu, []byte("\r\n")) {
		return Header{}, PDU{}, ErrASCIIFrame
	}
	raw := make([]byte, hex.DecodedLen(len(adu)-3))
	if _, err := hex.Decode(raw, adu[1:len(adu)-2]); err != nil {
		return Header{}, PDU{}, fmt.Errorf("%w: %v", ErrASCIIFrame, err)
	}
	h := Header{UnitID: raw[0]}
	n := len(raw)
	if got, want := raw[n-1], LRC(raw[:n-1]); got != want {
		return h, PDU{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrLRC, got, want)
	}
	pdu, err := pduFromBytes(raw[1 : n-1])
	return h, pdu, err
}
