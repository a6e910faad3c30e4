package endpoint

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnspoller/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"testing"
	"time"
)

func TestKeyEquality(t *testing.T) {
	assert.Equal(t, TCP{Host: "127.0.0.1", Port: 502}.Key(), TCP{Host: "127.0.0.1", Port: 502}.Key())
	assert.NotEqual(t, TCP{Host: "127.0.0.1", Port: 502}.Key(), UDP{Host: "127.0.0.1", Port: 502}.Key())
	assert.NotEqual(t, TCP{Host: "127.0.0.1", Port: 502}.Key(), TCP{Host: "127.0.0.1", Port: 503}.Key())

	a := NewSerial("/dev/ttyS0")
	b := a
	b.BaudRate = 19200
	b.Parity = runtime.EvenParity
	assert.True(t, Equal(a, b), "serial endpoints are identified by port name")
	assert.False(t, Equal(a, NewSerial("/dev/ttyS1")))

	keys := map[Key]int{}
	keys[a.Key()]++
	keys[b.Key()]++
	assert.Len(t, keys, 1)
}

func TestHeadless(t *testing.T) {
	assert.False(t, TCP{}.Headless())
	assert.False(t, UDP{}.Headless())
	assert.True(t, Serial{}.Headless())
}

func TestString(t *testing.T) {
	assert.Equal(t, "tcp://127.0.0.1:502", TCP{Host: "127.0.0.1", Port: 502}.String())
	assert.Equal(t, "udp://[::1]:502", UDP{Host: "::1", Port: 502}.String())
	assert.Equal(t, "serial:///dev/ttyUSB0", NewSerial("/dev/ttyUSB0").String())
}

func TestParseIP(t *testing.T) {
	ep, cfg, err := ParseIP(KindTCP, "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, TCP{Host: "192.168.1.5", Port: 502}, ep)
	assert.Equal(t, DefaultPoolConfiguration(KindTCP), cfg)

	ep, cfg, err = ParseIP(KindUDP, "10.0.0.1:1502:100:-1:500:3:2000")
	require.NoError(t, err)
	assert.Equal(t, UDP{Host: "10.0.0.1", Port: 1502}, ep)
	assert.Equal(t, 100*time.Millisecond, cfg.InterTransactionDelay)
	assert.Equal(t, -time.Millisecond, cfg.ReconnectAfterIdle)
	assert.Equal(t, 500*time.Millisecond, cfg.InterConnectDelay)
	assert.Equal(t, 3, cfg.ConnectMaxTries)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)

	_, _, err = ParseIP(KindTCP, "host:abc")
	assert.True(t, errors.Is(err, ErrMalformedConnection))
	_, _, err = ParseIP(KindTCP, "h:1:2:3:4:5:6:7")
	assert.True(t, errors.Is(err, ErrMalformedConnection))
}

func TestParseSerial(t *testing.T) {
	ep, cfg, err := ParseSerial("/dev/ttyS0:19200:7:even:2:ascii:50:800")
	require.NoError(t, err)
	assert.Equal(t, Serial{
		PortName: "/dev/ttyS0",
		BaudRate: 19200,
		DataBits: 7,
		Parity:   runtime.EvenParity,
		StopBits: runtime.TwoStopBits,
		Encoding: runtime.ASCII,
	}, ep)
	assert.Equal(t, 50*time.Millisecond, cfg.InterTransactionDelay)
	assert.Equal(t, 800*time.Millisecond, cfg.ReceiveTimeout)

	ep, cfg, err = ParseSerial("COM3")
	require.NoError(t, err)
	assert.Equal(t, NewSerial("COM3"), ep)
	assert.Equal(t, DefaultSerialInterTransactionDelay, cfg.InterTransactionDelay)

	_, _, err = ParseSerial("/dev/ttyS0:9600:8:none:1:bin")
	assert.True(t, errors.Is(err, ErrMalformedConnection))
	_, _, err = ParseSerial("/dev/ttyS0:9600:8:sometimes")
	assert.True(t, errors.Is(err, ErrMalformedConnection))
}

func TestValidate(t *testing.T) {
	path := field.NewPath("connection")
	assert.Empty(t, Validate(TCP{Host: "localhost", Port: 502}, path))
	assert.Len(t, Validate(TCP{Port: 0}, path), 2)
	assert.Len(t, Validate(Serial{PortName: "/dev/ttyS0", BaudRate: 9600, DataBits: 9}, path), 1)
	assert.Len(t, Validate(nil, path), 1)

	cfg := DefaultPoolConfiguration(KindTCP)
	assert.Empty(t, cfg.Validate(path))
	cfg.ConnectMaxTries = 0
	cfg.InterConnectDelay = -time.Second
	assert.Len(t, cfg.Validate(path), 2)
}

func TestConnectRetryDelay(t *testing.T) {
	cfg := PoolConfiguration{InterTransactionDelay: 10 * time.Millisecond, InterConnectDelay: 30 * time.Millisecond}
	assert.Equal(t, 30*time.Millisecond, cfg.ConnectRetryDelay())
	cfg.InterConnectDelay = 0
	assert.Equal(t, 10*time.Millisecond, cfg.ConnectRetryDelay())
}
