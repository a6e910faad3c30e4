package modbus

import (
	"errors"
	"fmt"
	"harnspoller/pkg/modbus/endpoint"
)

var ErrUnitMismatch = errors.New("Modbus reply from a different unit")
var ErrInvalidRequest = errors.New("Invalid modbus request")

type ErrorKind int8

const (
	// ConnectionError no transport could be borrowed for the endpoint.
	ConnectionError ErrorKind = iota
	// ProtocolError the transaction failed on the wire; the connection was invalidated.
	ProtocolError
	// TransactionIDMismatch the reply belongs to another transaction; the connection was kept.
	TransactionIDMismatch
)

var ErrorKindToString = map[ErrorKind]string{
	ConnectionError:       "connection error",
	ProtocolError:         "protocol error",
	TransactionIDMismatch: "transaction id mismatch",
}

func (k ErrorKind) String() string {
	return ErrorKindToString[k]
}

// TransactionError is the failure outcome handed to read and write callbacks.
type TransactionError struct {
	Kind     ErrorKind
	Endpoint endpoint.Endpoint
	Err      error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func kindOf(err error) (ErrorKind, bool) {
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

func IsConnectionError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ConnectionError
}

func IsProtocolError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ProtocolError
}

func IsTransactionIDMismatch(err error) bool {
	k, ok := kindOf(err)
	return ok && k == TransactionIDMismatch
}
