package publisher

import (
	"errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnspoller/pkg/binding/signal"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"sync"
	"testing"
	"time"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  interface{}
}

type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	published    []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	disconnected bool
	subscribeErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, retained: retained, payload: payload})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return &fakeToken{err: c.subscribeErr}
	}
	c.handlers[topic] = callback
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) deliver(filter, topic, payload string) {
	c.mu.Lock()
	h := c.handlers[filter]
	c.mu.Unlock()
	h(c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestMQTTPublisherPostUpdate(t *testing.T) {
	client := newFakeClient()
	p := NewMQTTPublisher(client, NewDefaultMQTTConfig())

	p.PostUpdate("temp", signal.Decimal(21.5))
	p.PostUpdate("lamp", signal.On)

	assert.Equal(t, []published{
		{topic: "harnspoller/temp/state", qos: 1, retained: true, payload: "21.5"},
		{topic: "harnspoller/lamp/state", qos: 1, retained: true, payload: "ON"},
	}, client.published)
}

func TestMQTTPublisherSubscribeCommands(t *testing.T) {
	client := newFakeClient()
	cfg := NewDefaultMQTTConfig()
	cfg.TopicPrefix = "site/plant"
	p := NewMQTTPublisher(client, cfg)

	type received struct {
		item string
		cmd  signal.Value
	}
	var got []received
	kinds := func(item string) ([]signal.Kind, bool) {
		switch item {
		case "lamp":
			return signal.SwitchItem.AcceptedCommands(), true
		case "dimmer":
			return signal.DimmerItem.AcceptedCommands(), true
		}
		return nil, false
	}
	require.NoError(t, p.SubscribeCommands(kinds, func(item string, cmd signal.Value) {
		got = append(got, received{item: item, cmd: cmd})
	}))

	filter := "site/plant/+/command"
	client.deliver(filter, "site/plant/lamp/command", " on ")
	client.deliver(filter, "site/plant/dimmer/command", "INCREASE")
	client.deliver(filter, "site/plant/dimmer/command", "40")
	client.deliver(filter, "site/plant/lamp/command", "OPEN")
	client.deliver(filter, "site/plant/ghost/command", "ON")
	client.deliver(filter, "other/lamp/command", "ON")

	assert.Equal(t, []received{
		{item: "lamp", cmd: signal.On},
		{item: "dimmer", cmd: signal.Increase},
		{item: "dimmer", cmd: signal.Decimal(40)},
	}, got)

	p.Close()
	assert.Equal(t, []string{filter}, client.unsubscribed)
	assert.True(t, client.disconnected)
}

func TestMQTTPublisherSubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subscribeErr = errors.New("not authorized")
	p := NewMQTTPublisher(client, NewDefaultMQTTConfig())

	err := p.SubscribeCommands(func(string) ([]signal.Kind, bool) { return nil, false }, func(string, signal.Value) {})

	assert.ErrorContains(t, err, "not authorized")
}

func TestMultiFansOut(t *testing.T) {
	var calls []string
	record := func(name string) Publisher {
		return recorder(func(item string, v signal.Value) { calls = append(calls, name+":"+item+"="+v.String()) })
	}

	Multi{record("a"), nil, record("b")}.PostUpdate("door", signal.Closed)

	assert.Equal(t, []string{"a:door=CLOSED", "b:door=CLOSED"}, calls)
}

type recorder func(item string, v signal.Value)

func (r recorder) PostUpdate(item string, v signal.Value) { r(item, v) }

func TestMQTTConfigValidate(t *testing.T) {
	assert.Empty(t, MQTTConfig{}.Validate(field.NewPath("mqtt")))

	cfg := NewDefaultMQTTConfig()
	cfg.Broker = "tcp://localhost:1883"
	assert.Empty(t, cfg.Validate(field.NewPath("mqtt")))

	cfg.QoS = 3
	cfg.TopicPrefix = "a//b"
	cfg.Timeout = metav1.Duration{}
	assert.Len(t, cfg.Validate(field.NewPath("mqtt")), 3)
}
