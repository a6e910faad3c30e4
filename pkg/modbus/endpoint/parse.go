package endpoint

import (
	"github.com/pkg/errors"
	"harnspoller/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedConnection = errors.New("Malformed connection string")

// ParseIP parses host[:port[:interTransactionDelay[:reconnectAfterIdle[:interConnectDelay[:connectMaxTries[:connectTimeout]]]]]]
// with all durations in milliseconds. Empty fields keep their defaults.
func ParseIP(kind Kind, s string) (Endpoint, PoolConfiguration, error) {
	cfg := DefaultPoolConfiguration(kind)
	parts := strings.Split(s, ":")
	if len(parts) > 7 {
		return nil, cfg, errors.Wrapf(ErrMalformedConnection, "%q has %d fields, at most 7 allowed", s, len(parts))
	}
	host := parts[0]
	port := DefaultTCPPort
	var err error
	if len(parts) > 1 && parts[1] != "" {
		if port, err = strconv.Atoi(parts[1]); err != nil {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "port %q", parts[1])
		}
	}
	durations := []*time.Duration{&cfg.InterTransactionDelay, &cfg.ReconnectAfterIdle, &cfg.InterConnectDelay}
	for i, d := range durations {
		if err = parseMillis(parts, 2+i, d); err != nil {
			return nil, cfg, err
		}
	}
	if len(parts) > 5 && parts[5] != "" {
		if cfg.ConnectMaxTries, err = strconv.Atoi(parts[5]); err != nil {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "connectMaxTries %q", parts[5])
		}
	}
	if err = parseMillis(parts, 6, &cfg.ConnectTimeout); err != nil {
		return nil, cfg, err
	}

	var ep Endpoint
	switch kind {
	case KindTCP:
		ep = TCP{Host: host, Port: port}
	case KindUDP:
		ep = UDP{Host: host, Port: port}
	default:
		return nil, cfg, errors.Errorf("endpoint kind %s is not an IP kind", kind)
	}
	return ep, cfg, nil
}

// ParseSerial parses port[:baud[:dataBits[:parity[:stopBits[:encoding[:interTransactionDelay[:receiveTimeout]]]]]]]
// with durations in milliseconds.
func ParseSerial(s string) (Endpoint, PoolConfiguration, error) {
	cfg := DefaultPoolConfiguration(KindSerial)
	parts := strings.Split(s, ":")
	if len(parts) > 8 {
		return nil, cfg, errors.Wrapf(ErrMalformedConnection, "%q has %d fields, at most 8 allowed", s, len(parts))
	}
	ep := NewSerial(parts[0])
	var err error
	if len(parts) > 1 && parts[1] != "" {
		if ep.BaudRate, err = strconv.Atoi(parts[1]); err != nil {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "baud rate %q", parts[1])
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if ep.DataBits, err = strconv.Atoi(parts[2]); err != nil {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "data bits %q", parts[2])
		}
	}
	if len(parts) > 3 && parts[3] != "" {
		p, ok := runtime.StringToParity[strings.ToLower(parts[3])]
		if !ok {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "parity %q", parts[3])
		}
		ep.Parity = p
	}
	if len(parts) > 4 && parts[4] != "" {
		sb, ok := runtime.StringToStopBits[parts[4]]
		if !ok {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "stop bits %q", parts[4])
		}
		ep.StopBits = sb
	}
	if len(parts) > 5 && parts[5] != "" {
		enc, ok := runtime.StringToEncoding[strings.ToLower(parts[5])]
		if !ok {
			return nil, cfg, errors.Wrapf(ErrMalformedConnection, "encoding %q", parts[5])
		}
		ep.Encoding = enc
	}
	if err = parseMillis(parts, 6, &cfg.InterTransactionDelay); err != nil {
		return nil, cfg, err
	}
	if err = parseMillis(parts, 7, &cfg.ReceiveTimeout); err != nil {
		return nil, cfg, err
	}
	return ep, cfg, nil
}

func parseMillis(parts []string, i int, d *time.Duration) error {
	if len(parts) <= i || parts[i] == "" {
		return nil
	}
	ms, err := strconv.ParseInt(parts[i], 10, 64)
	if err != nil {
		return errors.Wrapf(ErrMalformedConnection, "field %d %q is not a number of milliseconds", i, parts[i])
	}
	*d = time.Duration(ms) * time.Millisecond
	return nil
}

// Validate checks the physical parameters of an endpoint.
func Validate(ep Endpoint, path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	switch e := ep.(type) {
	case TCP:
		allErrs = append(allErrs, validateIP(e.Host, e.Port, path)...)
	case UDP:
		allErrs = append(allErrs, validateIP(e.Host, e.Port, path)...)
	case Serial:
		if len(e.PortName) == 0 {
			allErrs = append(allErrs, field.Required(path.Child("port"), ""))
		}
		if e.BaudRate <= 0 {
			allErrs = append(allErrs, field.Invalid(path.Child("baudRate"), e.BaudRate, "must be greater than 0"))
		}
		if e.DataBits < 5 || e.DataBits > 8 {
			allErrs = append(allErrs, field.Invalid(path.Child("dataBits"), e.DataBits, "must be between 5 and 8"))
		}
	case nil:
		allErrs = append(allErrs, field.Required(path, ""))
	}
	return allErrs
}

func validateIP(host string, port int, path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	if len(host) == 0 {
		allErrs = append(allErrs, field.Required(path.Child("host"), ""))
	}
	if port < 1 || port > 65535 {
		allErrs = append(allErrs, field.Invalid(path.Child("port"), port, "must be between 1 and 65535"))
	}
	return allErrs
}
