package publisher

import (
	"fmt"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"harnspoller/pkg/binding/signal"
	"harnspoller/pkg/runtime"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
	"strings"
	"time"
)

const (
	stateSuffix   = "state"
	commandSuffix = "command"

	DefaultTopicPrefix = "harnspoller"
	DefaultTimeout     = 3 * time.Second
)

var ErrMQTTTimeout = errors.New("MQTT operation timed out")

// MQTTConfig is the broker block of the options. An empty Broker disables
// MQTT.
type MQTTConfig struct {
	Broker      string          `json:"broker"`
	ClientID    string          `json:"clientId"`
	Username    string          `json:"username,omitempty"`
	Password    string          `json:"password,omitempty"`
	TopicPrefix string          `json:"topicPrefix"`
	QoS         byte            `json:"qos"`
	Retained    bool            `json:"retained"`
	Timeout     metav1.Duration `json:"timeout"`
}

func NewDefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientID:    "harns-poller",
		TopicPrefix: DefaultTopicPrefix,
		QoS:         1,
		Retained:    true,
		Timeout:     metav1.Duration{Duration: DefaultTimeout},
	}
}

func (c MQTTConfig) Enabled() bool {
	return len(c.Broker) > 0
}

func (c MQTTConfig) Validate(path *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	if !c.Enabled() {
		return nil
	}
	if c.QoS > 2 {
		allErrs = append(allErrs, field.Invalid(path.Child("qos"), c.QoS, "must be 0, 1 or 2"))
	}
	if c.Timeout.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(path.Child("timeout"), c.Timeout, "must be greater than 0"))
	}
	for i, segment := range strings.Split(c.TopicPrefix, "/") {
		allErrs = append(allErrs, runtime.ValidateName(path.Child("topicPrefix").Index(i), segment)...)
	}
	return allErrs
}

// Connect opens a client to the configured broker.
func Connect(c MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(c.Timeout.Duration)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(c.Timeout.Duration) {
		return nil, errors.Wrapf(ErrMQTTTimeout, "connect to %s", c.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to %s", c.Broker)
	}
	klog.V(1).InfoS("Connected to MQTT broker", "broker", c.Broker, "clientId", c.ClientID)
	return client, nil
}

// MQTTPublisher publishes states to <prefix>/<item>/state and takes
// commands from <prefix>/<item>/command.
type MQTTPublisher struct {
	client   mqtt.Client
	prefix   string
	qos      byte
	retained bool
	timeout  time.Duration
}

func NewMQTTPublisher(client mqtt.Client, c MQTTConfig) *MQTTPublisher {
	timeout := c.Timeout.Duration
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MQTTPublisher{
		client:   client,
		prefix:   strings.TrimSuffix(c.TopicPrefix, "/"),
		qos:      c.QoS,
		retained: c.Retained,
		timeout:  timeout,
	}
}

func (p *MQTTPublisher) StateTopic(item string) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, item, stateSuffix)
}

func (p *MQTTPublisher) commandFilter() string {
	return fmt.Sprintf("%s/+/%s", p.prefix, commandSuffix)
}

// itemOf extracts the item of a command topic.
func (p *MQTTPublisher) itemOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, p.prefix+"/")
	if !ok {
		return "", false
	}
	item, ok := strings.CutSuffix(rest, "/"+commandSuffix)
	if !ok || len(item) == 0 || strings.Contains(item, "/") {
		return "", false
	}
	return item, true
}

func (p *MQTTPublisher) PostUpdate(item string, v signal.Value) {
	topic := p.StateTopic(item)
	token := p.client.Publish(topic, p.qos, p.retained, v.String())
	if token.WaitTimeout(p.timeout) && token.Error() == nil {
		klog.V(5).InfoS("Succeed to publish MQTT", "topic", topic, "value", v)
	} else {
		klog.V(1).InfoS("Failed to publish MQTT", "topic", topic, "err", token.Error())
	}
}

// CommandHandler receives a command parsed from an MQTT payload.
type CommandHandler func(item string, cmd signal.Value)

// CommandKinds returns the command kinds an item accepts, false for an
// unknown item.
type CommandKinds func(item string) ([]signal.Kind, bool)

// SubscribeCommands routes payloads on <prefix>/+/command to handler after
// parsing them with the item's accepted command kinds. Payloads no kind
// accepts are dropped.
func (p *MQTTPublisher) SubscribeCommands(kinds CommandKinds, handler CommandHandler) error {
	filter := p.commandFilter()
	token := p.client.Subscribe(filter, p.qos, func(_ mqtt.Client, msg mqtt.Message) {
		item, ok := p.itemOf(msg.Topic())
		if !ok {
			klog.V(2).InfoS("Ignoring MQTT message", "topic", msg.Topic())
			return
		}
		accepted, ok := kinds(item)
		if !ok {
			klog.V(2).InfoS("Command for unknown item", "item", item)
			return
		}
		payload := strings.TrimSpace(string(msg.Payload()))
		cmd := signal.ParseFirst(accepted, payload)
		if cmd == nil {
			klog.V(2).InfoS("Command not accepted by item", "item", item, "payload", payload, "accepted", accepted)
			return
		}
		handler(item, cmd)
	})
	if !token.WaitTimeout(p.timeout) {
		return errors.Wrapf(ErrMQTTTimeout, "subscribe %s", filter)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribe %s", filter)
	}
	klog.V(2).InfoS("Subscribed to commands", "topic", filter)
	return nil
}

// Close drops the command subscription and disconnects.
func (p *MQTTPublisher) Close() {
	token := p.client.Unsubscribe(p.commandFilter())
	if !token.WaitTimeout(p.timeout) || token.Error() != nil {
		klog.V(1).InfoS("Failed to unsubscribe MQTT", "topic", p.commandFilter(), "err", token.Error())
	}
	p.client.Disconnect(2000)
}
