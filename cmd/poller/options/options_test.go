package options

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnspoller/pkg/binding"
	baseoptions "harnspoller/pkg/generic/options"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const pollerYAML = `
port: "32201"
pollInterval: 1s
mqtt:
  broker: ${TEST_MQTT_BROKER}
  clientId: plant-poller
  topicPrefix: plant
  qos: 1
  retained: true
  timeout: 5s
slaves:
- name: plc
  protocol: tcp
  connection: 127.0.0.1:502
  type: holding
  start: 100
  length: 4
  valueType: int32
- name: valves
  protocol: serial
  connection:
    device: /dev/ttyUSB0
    baudRate: "19200"
    parity: even
  type: coil
  length: 8
items:
- name: flow
  type: Number
  binding: plc:0
- name: valve1
  type: Switch
  bindings:
  - slave: valves
    index: 1
    direction: command
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poller.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestParseConfigFile(t *testing.T) {
	t.Setenv("TEST_MQTT_BROKER", "tcp://broker:1883")
	o := NewDefaultOptions()
	o.ConfigFile = writeConfig(t, pollerYAML)

	require.NoError(t, baseoptions.ParseAndApplyConfigFile(o, []string{"--config", o.ConfigFile, "--port", "8080"}))

	assert.Equal(t, "8080", o.Port)
	assert.Equal(t, time.Second, o.PollInterval.Duration)
	assert.Equal(t, "tcp://broker:1883", o.Mqtt.Broker)
	assert.Equal(t, "plant", o.Mqtt.TopicPrefix)
	assert.Equal(t, 5*time.Second, o.Mqtt.Timeout.Duration)
	require.Len(t, o.Slaves, 2)
	assert.Equal(t, "127.0.0.1:502", o.Slaves[0].Connection)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "plc:0", o.Items[0].Binding)

	cfg := o.BindingConfig()
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Empty(t, Validate(o))
}

func TestParseConfigFileRejectsUnknownFields(t *testing.T) {
	o := NewDefaultOptions()
	o.ConfigFile = writeConfig(t, "port: \"1\"\nbogus: true\n")

	err := baseoptions.ParseAndApplyConfigFile(o, nil)

	assert.ErrorContains(t, err, "bogus")
}

func TestValidate(t *testing.T) {
	assert.Empty(t, Validate(NewDefaultOptions()))

	o := NewDefaultOptions()
	o.Port = "70000"
	o.Wait.Duration = 0
	o.PollWorkers = 0
	o.Retries = -1
	o.CertFile = "server.crt"
	o.Mqtt.Broker = "tcp://broker:1883"
	o.Mqtt.QoS = 5
	o.Items = append(o.Items, binding.ItemConfig{Name: "orphan", Type: "Switch", Binding: "missing:0"})

	errs := Validate(o)

	var fields []string
	for _, err := range errs {
		fields = append(fields, err.(*field.Error).Field)
	}
	assert.ElementsMatch(t, []string{"port", "gracefulTimeout", "pollWorkers", "retries", "certFile", "mqtt.qos",
		"items[0].bindings[0].slave", "items[0].bindings[1].slave"}, fields)
}
