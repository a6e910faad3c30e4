package binding

import (
	"fmt"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"harnspoller/pkg/binding/ioconn"
	"harnspoller/pkg/modbus"
	"harnspoller/pkg/modbus/endpoint"
	"harnspoller/pkg/runtime"
	"strconv"
	"strings"
	"time"
)

const DefaultPollInterval = 200 * time.Millisecond

// Config is one complete generation of slaves and items.
type Config struct {
	// PollInterval is the period of every slave poll. Zero or less disables
	// regular polling; manual polls still work.
	PollInterval time.Duration `json:"pollInterval"`
	Slaves       []SlaveConfig `json:"slaves"`
	Items        []ItemConfig  `json:"items"`
}

// SlaveConfig describes one block of coils, discrete inputs or registers.
type SlaveConfig struct {
	Name string `json:"name"`
	// Protocol is tcp, udp or serial.
	Protocol string `json:"protocol"`
	// Connection is either the compact colon separated form or a map decoded
	// into ConnectionBlock.
	Connection               interface{} `json:"connection"`
	Type                     string      `json:"type"`
	UnitID                   uint8       `json:"id"`
	Start                    uint16      `json:"start"`
	Length                   uint16      `json:"length"`
	ValueType                string      `json:"valueType,omitempty"`
	UpdateUnchangedItems     bool        `json:"updateUnchangedItems,omitempty"`
	PostUndefinedOnReadError bool        `json:"postUndefinedOnReadError,omitempty"`
	WriteMultipleRegisters   bool        `json:"writeMultipleRegisters,omitempty"`
}

// ConnectionBlock is the structured form of a slave connection. Unset pool
// values keep their defaults.
type ConnectionBlock struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baudRate"`
	DataBits int    `mapstructure:"dataBits"`
	Parity   string `mapstructure:"parity"`
	StopBits string `mapstructure:"stopBits"`
	Encoding string `mapstructure:"encoding"`

	InterTransactionDelayMillis *int64 `mapstructure:"interTransactionDelayMillis"`
	InterConnectDelayMillis     *int64 `mapstructure:"interConnectDelayMillis"`
	ReconnectAfterMillis        *int64 `mapstructure:"reconnectAfterMillis"`
	ConnectMaxTries             *int   `mapstructure:"connectMaxTries"`
	ConnectTimeoutMillis        *int64 `mapstructure:"connectTimeoutMillis"`
	ReceiveTimeoutMillis        *int64 `mapstructure:"receiveTimeoutMillis"`
}

// ItemConfig binds one item to slave locations, either through Bindings or
// the compact Binding string.
type ItemConfig struct {
	Name     string             `json:"name"`
	Type     string             `json:"type"`
	Binding  string             `json:"binding,omitempty"`
	Bindings []ConnectionConfig `json:"bindings,omitempty"`
}

type ConnectionConfig struct {
	Slave string `json:"slave"`
	Index int    `json:"index"`
	// Direction is state (read from the slave) or command (written to it).
	Direction      string `json:"direction"`
	Trigger        string `json:"trigger,omitempty"`
	Transformation string `json:"transformation,omitempty"`
	ValueType      string `json:"valueType,omitempty"`
}

func (s SlaveConfig) SlaveType() (runtime.SlaveType, bool) {
	t, ok := runtime.StringToSlaveType[strings.ToLower(s.Type)]
	return t, ok
}

func (s SlaveConfig) EffectiveValueType() runtime.ValueType {
	if s.ValueType == "" {
		return runtime.DefaultValueType
	}
	return runtime.StringToValueType[strings.ToLower(s.ValueType)]
}

// ReadFunction maps the slave type to the read used to poll it.
func (s SlaveConfig) ReadFunction() (modbus.ReadFunction, error) {
	t, ok := s.SlaveType()
	if !ok {
		return 0, fmt.Errorf("unknown slave type %q", s.Type)
	}
	switch t {
	case runtime.COIL:
		return modbus.ReadCoils, nil
	case runtime.DISCRETE:
		return modbus.ReadDiscreteInputs, nil
	case runtime.HOLDING:
		return modbus.ReadHoldingRegisters, nil
	case runtime.INPUT:
		return modbus.ReadInputRegisters, nil
	}
	return 0, fmt.Errorf("unknown slave type %q", s.Type)
}

func (s SlaveConfig) Request() (modbus.ReadRequest, error) {
	fn, err := s.ReadFunction()
	if err != nil {
		return modbus.ReadRequest{}, err
	}
	return modbus.ReadRequest{UnitID: s.UnitID, Reference: s.Start, Length: s.Length, Function: fn}, nil
}

func protocolKind(protocol string) (endpoint.Kind, bool) {
	for k, name := range endpoint.KindToString {
		if strings.EqualFold(name, protocol) {
			return k, true
		}
	}
	return 0, false
}

// Endpoint decodes the connection of the slave.
func (s SlaveConfig) Endpoint() (endpoint.Endpoint, endpoint.PoolConfiguration, error) {
	kind, ok := protocolKind(s.Protocol)
	if !ok {
		return nil, endpoint.PoolConfiguration{}, fmt.Errorf("unknown protocol %q", s.Protocol)
	}
	switch c := s.Connection.(type) {
	case string:
		if kind == endpoint.KindSerial {
			return endpoint.ParseSerial(c)
		}
		return endpoint.ParseIP(kind, c)
	case map[string]interface{}:
		var block ConnectionBlock
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           &block,
		})
		if err != nil {
			return nil, endpoint.PoolConfiguration{}, err
		}
		if err = decoder.Decode(c); err != nil {
			return nil, endpoint.PoolConfiguration{}, errors.Wrap(endpoint.ErrMalformedConnection, err.Error())
		}
		return block.endpoint(kind)
	case nil:
		return nil, endpoint.PoolConfiguration{}, errors.Wrap(endpoint.ErrMalformedConnection, "missing")
	}
	return nil, endpoint.PoolConfiguration{}, errors.Wrapf(endpoint.ErrMalformedConnection, "unsupported form %T", s.Connection)
}

func (b ConnectionBlock) endpoint(kind endpoint.Kind) (endpoint.Endpoint, endpoint.PoolConfiguration, error) {
	cfg := endpoint.DefaultPoolConfiguration(kind)
	setMillis(&cfg.InterTransactionDelay, b.InterTransactionDelayMillis)
	setMillis(&cfg.InterConnectDelay, b.InterConnectDelayMillis)
	setMillis(&cfg.ReconnectAfterIdle, b.ReconnectAfterMillis)
	setMillis(&cfg.ConnectTimeout, b.ConnectTimeoutMillis)
	setMillis(&cfg.ReceiveTimeout, b.ReceiveTimeoutMillis)
	if b.ConnectMaxTries != nil {
		cfg.ConnectMaxTries = *b.ConnectMaxTries
	}

	switch kind {
	case endpoint.KindTCP, endpoint.KindUDP:
		port := b.Port
		if port == 0 {
			port = endpoint.DefaultTCPPort
		}
		if kind == endpoint.KindUDP {
			return endpoint.UDP{Host: b.Host, Port: port}, cfg, nil
		}
		return endpoint.TCP{Host: b.Host, Port: port}, cfg, nil
	}

	ep := endpoint.NewSerial(b.Device)
	if b.BaudRate != 0 {
		ep.BaudRate = b.BaudRate
	}
	if b.DataBits != 0 {
		ep.DataBits = b.DataBits
	}
	if b.Parity != "" {
		p, ok := runtime.StringToParity[strings.ToLower(b.Parity)]
		if !ok {
			return nil, cfg, errors.Wrapf(endpoint.ErrMalformedConnection, "parity %q", b.Parity)
		}
		ep.Parity = p
	}
	if b.StopBits != "" {
		sb, ok := runtime.StringToStopBits[b.StopBits]
		if !ok {
			return nil, cfg, errors.Wrapf(endpoint.ErrMalformedConnection, "stop bits %q", b.StopBits)
		}
		ep.StopBits = sb
	}
	if b.Encoding != "" {
		enc, ok := runtime.StringToEncoding[strings.ToLower(b.Encoding)]
		if !ok {
			return nil, cfg, errors.Wrapf(endpoint.ErrMalformedConnection, "encoding %q", b.Encoding)
		}
		ep.Encoding = enc
	}
	return ep, cfg, nil
}

func setMillis(d *time.Duration, ms *int64) {
	if ms != nil {
		*d = time.Duration(*ms) * time.Millisecond
	}
}

func parseDirection(s string) (ioconn.Direction, bool) {
	switch strings.ToLower(s) {
	case "state", "<", "read", "":
		return ioconn.State, true
	case "command", ">", "write":
		return ioconn.Command, true
	}
	return 0, false
}

// ParseBinding reads the compact item binding. "slave:index" binds both
// directions with default settings; "<[slave:index:key=value,...]" binds
// the state direction and ">[...]" the command direction. Keys are
// trigger, transformation and valueType. Several bindings are separated by
// commas.
func ParseBinding(s string) ([]ConnectionConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty binding")
	}
	if !strings.ContainsAny(s, "[]") {
		slave, index, err := slaveIndex(s)
		if err != nil {
			return nil, err
		}
		return []ConnectionConfig{
			{Slave: slave, Index: index, Direction: "state"},
			{Slave: slave, Index: index, Direction: "command"},
		}, nil
	}

	var out []ConnectionConfig
	for _, part := range splitTopLevel(s) {
		part = strings.TrimSpace(part)
		if len(part) < 4 || part[1] != '[' || part[len(part)-1] != ']' {
			return nil, fmt.Errorf("binding %q must look like <[slave:index] or >[slave:index]", part)
		}
		direction := part[:1]
		if direction != "<" && direction != ">" {
			return nil, fmt.Errorf("binding %q has unknown direction %q", part, direction)
		}
		fields := strings.SplitN(part[2:len(part)-1], ":", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("binding %q needs slave and index", part)
		}
		slave, index, err := slaveIndex(fields[0] + ":" + fields[1])
		if err != nil {
			return nil, err
		}
		c := ConnectionConfig{Slave: slave, Index: index, Direction: direction}
		if len(fields) == 3 {
			for _, opt := range strings.Split(fields[2], ",") {
				key, value, ok := strings.Cut(opt, "=")
				if !ok {
					return nil, fmt.Errorf("binding option %q is not key=value", opt)
				}
				switch strings.ToLower(strings.TrimSpace(key)) {
				case "trigger":
					c.Trigger = strings.TrimSpace(value)
				case "transformation":
					c.Transformation = strings.TrimSpace(value)
				case "valuetype":
					c.ValueType = strings.TrimSpace(value)
				default:
					return nil, fmt.Errorf("unknown binding option %q", key)
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func slaveIndex(s string) (string, int, error) {
	slave, idx, ok := strings.Cut(s, ":")
	if !ok || slave == "" {
		return "", 0, fmt.Errorf("binding %q must be slave:index", s)
	}
	index, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil {
		return "", 0, fmt.Errorf("binding %q has a non numeric index", s)
	}
	return strings.TrimSpace(slave), index, nil
}

// splitTopLevel splits on commas outside brackets and parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// Connections returns the explicit bindings followed by the parsed compact one.
func (i ItemConfig) Connections() ([]ConnectionConfig, error) {
	conns := append([]ConnectionConfig(nil), i.Bindings...)
	if i.Binding != "" {
		parsed, err := ParseBinding(i.Binding)
		if err != nil {
			return nil, err
		}
		conns = append(conns, parsed...)
	}
	return conns, nil
}
