package endpoint

import (
	"fmt"
	"harnspoller/pkg/runtime"
	"net"
	"strconv"
)

type Kind int8

const (
	KindTCP Kind = iota
	KindUDP
	KindSerial
)

var KindToString = map[Kind]string{
	KindTCP:    "tcp",
	KindUDP:    "udp",
	KindSerial: "serial",
}

func (k Kind) String() string {
	return KindToString[k]
}

// Endpoint identifies a physical communication target. The set of
// implementations is closed: TCP, UDP and Serial.
type Endpoint interface {
	Kind() Kind
	// Key is comparable and equal for two descriptions of the same physical target.
	Key() Key
	// Headless framings carry no transaction id.
	Headless() bool
	String() string

	endpoint()
}

// Key is the pool and map identity of an Endpoint.
type Key struct {
	Kind    Kind
	Address string
	Port    int
}

func (k Key) String() string {
	if k.Kind == KindSerial {
		return fmt.Sprintf("serial://%s", k.Address)
	}
	return fmt.Sprintf("%s://%s", k.Kind, net.JoinHostPort(k.Address, strconv.Itoa(k.Port)))
}

type TCP struct {
	Host string
	Port int
}

func (e TCP) Kind() Kind      { return KindTCP }
func (e TCP) Key() Key        { return Key{Kind: KindTCP, Address: e.Host, Port: e.Port} }
func (e TCP) Headless() bool  { return false }
func (e TCP) String() string  { return e.Key().String() }
func (e TCP) Address() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }
func (TCP) endpoint()         {}

type UDP struct {
	Host string
	Port int
}

func (e UDP) Kind() Kind      { return KindUDP }
func (e UDP) Key() Key        { return Key{Kind: KindUDP, Address: e.Host, Port: e.Port} }
func (e UDP) Headless() bool  { return false }
func (e UDP) String() string  { return e.Key().String() }
func (e UDP) Address() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }
func (UDP) endpoint()         {}

// Serial is identified by its port name only, the line parameters do not
// make a second physical link.
type Serial struct {
	PortName string
	BaudRate int
	DataBits int
	Parity   runtime.Parity
	StopBits runtime.StopBits
	Encoding runtime.Encoding
}

func (e Serial) Kind() Kind     { return KindSerial }
func (e Serial) Key() Key       { return Key{Kind: KindSerial, Address: e.PortName} }
func (e Serial) Headless() bool { return true }
func (e Serial) String() string { return e.Key().String() }
func (Serial) endpoint()        {}

// Equal compares by Key.
func Equal(a, b Endpoint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key()
}

// NewSerial returns a serial endpoint with the usual 9600 8N1 RTU line defaults.
func NewSerial(portName string) Serial {
	return Serial{
		PortName: portName,
		BaudRate: DefaultBaudRate,
		DataBits: DefaultDataBits,
		Parity:   runtime.NoParity,
		StopBits: runtime.OneStopBit,
		Encoding: runtime.RTU,
	}
}
