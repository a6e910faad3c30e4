package codec

import (
	"errors"
	"fmt"
)

var ErrShortFrame = errors.New("Modbus frame too short")
var ErrCRC = errors.New("Modbus rtu crc16 mismatch")
var ErrLRC = errors.New("Modbus ascii lrc mismatch")
var ErrProtocolID = errors.New("Modbus tcp protocol id is not 0")
var ErrFrameLength = errors.New("Modbus frame length does not match its header")
var ErrUnexpectedFunction = errors.New("Modbus reply function code does not match the request")
var ErrByteCount = errors.New("Modbus reply byte count does not match the request")
var ErrASCIIFrame = errors.New("Modbus ascii frame malformed")

type ExceptionCode byte

const (
	IllegalFunction                    ExceptionCode = 0x01
	IllegalDataAddress                 ExceptionCode = 0x02
	IllegalDataValue                   ExceptionCode = 0x03
	SlaveDeviceFailure                 ExceptionCode = 0x04
	Acknowledge                        ExceptionCode = 0x05
	SlaveDeviceBusy                    ExceptionCode = 0x06
	MemoryParityError                  ExceptionCode = 0x08
	GatewayPathUnavailable             ExceptionCode = 0x0A
	GatewayTargetDeviceFailedToRespond ExceptionCode = 0x0B
)

var ExceptionCodeToString = map[ExceptionCode]string{
	IllegalFunction:                    "illegal function",
	IllegalDataAddress:                 "illegal data address",
	IllegalDataValue:                   "illegal data value",
	SlaveDeviceFailure:                 "slave device failure",
	Acknowledge:                        "acknowledge",
	SlaveDeviceBusy:                    "slave device busy",
	MemoryParityError:                  "memory parity error",
	GatewayPathUnavailable:             "gateway path unavailable",
	GatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

// ExceptionError is a well formed exception reply from the slave.
type ExceptionError struct {
	Function FunctionCode
	Code     ExceptionCode
}

func (e *ExceptionError) Error() string {
	desc, ok := ExceptionCodeToString[e.Code]
	if !ok {
		desc = "unknown"
	}
	return fmt.Sprintf("modbus exception 0x%02x (%s) for %s", byte(e.Code), desc, e.Function)
}
