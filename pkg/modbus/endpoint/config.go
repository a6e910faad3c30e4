package endpoint

import (
	"k8s.io/apimachinery/pkg/util/validation/field"
	"time"
)

const (
	DefaultTCPPort  = 502
	DefaultBaudRate = 9600
	DefaultDataBits = 8

	DefaultIPInterTransactionDelay     = 60 * time.Millisecond
	DefaultSerialInterTransactionDelay = 35 * time.Millisecond
	DefaultConnectTimeout              = 10 * time.Second
	DefaultReceiveTimeout              = 1500 * time.Millisecond
)

// PoolConfiguration holds the per endpoint pool tunables. A replaced
// configuration applies to subsequent borrows only.
type PoolConfiguration struct {
	// InterTransactionDelay is the minimum time between two borrows of the endpoint.
	InterTransactionDelay time.Duration `json:"interTransactionDelay"`
	// InterConnectDelay is the minimum time between two connect attempts.
	InterConnectDelay time.Duration `json:"interConnectDelay"`
	ConnectMaxTries   int           `json:"connectMaxTries"`
	// ReconnectAfterIdle forces a reconnect when the connection has been open
	// longer than this. Negative means never.
	ReconnectAfterIdle time.Duration `json:"reconnectAfterIdle"`
	ConnectTimeout     time.Duration `json:"connectTimeout"`
	// ReceiveTimeout bounds a single transaction on the wire.
	ReceiveTimeout time.Duration `json:"receiveTimeout"`
}

func DefaultPoolConfiguration(kind Kind) PoolConfiguration {
	c := PoolConfiguration{
		InterTransactionDelay: DefaultIPInterTransactionDelay,
		ConnectMaxTries:       1,
		ReconnectAfterIdle:    -1,
		ConnectTimeout:        DefaultConnectTimeout,
		ReceiveTimeout:        DefaultReceiveTimeout,
	}
	if kind == KindSerial {
		c.InterTransactionDelay = DefaultSerialInterTransactionDelay
	}
	return c
}

// ConnectRetryDelay is the minimum wait between two connect attempts.
func (c PoolConfiguration) ConnectRetryDelay() time.Duration {
	if c.InterConnectDelay > c.InterTransactionDelay {
		return c.InterConnectDelay
	}
	return c.InterTransactionDelay
}

func (c PoolConfiguration) Validate(path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	if c.InterTransactionDelay < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("interTransactionDelay"), c.InterTransactionDelay, "must be greater than or equal to 0"))
	}
	if c.InterConnectDelay < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("interConnectDelay"), c.InterConnectDelay, "must be greater than or equal to 0"))
	}
	if c.ConnectMaxTries < 1 {
		allErrs = append(allErrs, field.Invalid(path.Child("connectMaxTries"), c.ConnectMaxTries, "must be greater than or equal to 1"))
	}
	if c.ConnectTimeout < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("connectTimeout"), c.ConnectTimeout, "must be greater than or equal to 0"))
	}
	if c.ReceiveTimeout < 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("receiveTimeout"), c.ReceiveTimeout, "must be greater than or equal to 0"))
	}
	return allErrs
}
