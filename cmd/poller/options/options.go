package options

import (
	"context"
	"github.com/spf13/pflag"
	"harnspoller/cmd/poller/config"
	"harnspoller/pkg/binding"
	"harnspoller/pkg/binding/signal"
	"harnspoller/pkg/binding/transform"
	baseoptions "harnspoller/pkg/generic/options"
	"harnspoller/pkg/modbus"
	"harnspoller/pkg/modbus/pool"
	"harnspoller/pkg/publisher"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
	"time"
)

type Options struct {
	Port         string                `json:"port"`
	Wait         metav1.Duration       `json:"gracefulTimeout"`
	PollInterval metav1.Duration       `json:"pollInterval"`
	PollWorkers  int                   `json:"pollWorkers"`
	Retries      int                   `json:"retries"`
	TransformDir string                `json:"transformDir,omitempty"`
	CertFile     string                `json:"certFile,omitempty"`
	KeyFile      string                `json:"keyFile,omitempty"`
	Mqtt         publisher.MQTTConfig  `json:"mqtt"`
	Slaves       []binding.SlaveConfig `json:"slaves"`
	Items        []binding.ItemConfig  `json:"items"`
	baseoptions.BaseOptions
}

const (
	_defaultPort = "32200"
	_defaultWait = 15 * time.Second
)

func NewDefaultOptions() *Options {
	return &Options{
		Port:         _defaultPort,
		Wait:         metav1.Duration{Duration: _defaultWait},
		PollInterval: metav1.Duration{Duration: binding.DefaultPollInterval},
		PollWorkers:  modbus.DefaultPollWorkers,
		Mqtt:         publisher.NewDefaultMQTTConfig(),
		Slaves:       []binding.SlaveConfig{},
		Items:        []binding.ItemConfig{},
		BaseOptions:  baseoptions.NewDefaultBaseOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Port, "port", "P", o.Port, "Port exposed")
	fs.DurationVar(&o.Wait.Duration, "graceful-timeout", o.Wait.Duration, "The duration for which the server gracefully wait for existing connections and transactions to finish - e.g. 15s or 1m")
	fs.DurationVar(&o.PollInterval.Duration, "poll-interval", o.PollInterval.Duration, "Interval between two reads of every slave. 0 disables regular polling")
	fs.IntVar(&o.PollWorkers, "poll-workers", o.PollWorkers, "Maximum number of polls running at the same time")
	fs.IntVar(&o.Retries, "retries", o.Retries, "How many times a failed transaction is resent before it is reported")
	fs.StringVar(&o.TransformDir, "transform-dir", o.TransformDir, "Directory holding the .map files used by MAP(...) transformations")
	fs.StringVar(&o.CertFile, "tls-cert-file", o.CertFile, "x509 certificate for HTTPS. Plain HTTP is served when empty")
	fs.StringVar(&o.KeyFile, "tls-private-key-file", o.KeyFile, "x509 private key matching --tls-cert-file")
	fs.StringVar(&o.Mqtt.Broker, "mqtt-broker", o.Mqtt.Broker, "MQTT broker URL, e.g. tcp://127.0.0.1:1883. MQTT is disabled when empty")
	fs.StringVar(&o.Mqtt.ClientID, "mqtt-client-id", o.Mqtt.ClientID, "MQTT client id")
	fs.StringVar(&o.Mqtt.TopicPrefix, "mqtt-topic-prefix", o.Mqtt.TopicPrefix, "Prefix of the <prefix>/<item>/state and <prefix>/<item>/command topics")
}

// BindingConfig returns the slaves and items the manager is activated with.
func (o *Options) BindingConfig() *binding.Config {
	return &binding.Config{
		PollInterval: o.PollInterval.Duration,
		Slaves:       o.Slaves,
		Items:        o.Items,
	}
}

func (o *Options) Config(stopCh <-chan struct{}) (*config.Config, error) {
	c := &config.Config{
		CertFile: o.CertFile,
		KeyFile:  o.KeyFile,
	}

	c.Pool = pool.New()
	executor := modbus.NewExecutor(c.Pool, modbus.WithRetries(o.Retries))
	c.Scheduler = modbus.NewScheduler(executor, modbus.WithPollWorkers(o.PollWorkers))

	publishers := publisher.Multi{publisher.LogPublisher{}}
	if o.Mqtt.Enabled() {
		client, err := publisher.Connect(o.Mqtt)
		if err != nil {
			c.Scheduler.Close()
			c.Pool.Close()
			return nil, err
		}
		c.MQTT = publisher.NewMQTTPublisher(client, o.Mqtt)
		publishers = append(publishers, c.MQTT)
	}

	c.Manager = binding.NewManager(c.Scheduler,
		binding.WithPublisher(publishers),
		binding.WithTransformRegistry(transform.NewRegistry(o.TransformDir)),
	)
	if err := c.Manager.Activate(o.BindingConfig()); err != nil {
		o.release(c)
		return nil, err
	}

	if c.MQTT != nil {
		err := c.MQTT.SubscribeCommands(c.Manager.AcceptedCommands, o.commandHandler(c.Manager, stopCh))
		if err != nil {
			o.release(c)
			return nil, err
		}
	}
	return c, nil
}

// commandHandler runs each MQTT command on its own goroutine so a slow slave
// never blocks the client's message router.
func (o *Options) commandHandler(mgr *binding.Manager, stopCh <-chan struct{}) publisher.CommandHandler {
	return func(item string, cmd signal.Value) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.Wait.Duration)
			defer cancel()
			go func() {
				select {
				case <-stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			result, err := mgr.ReceiveCommand(ctx, item, cmd)
			if err != nil {
				klog.ErrorS(err, "Failed to execute command", "item", item, "command", cmd)
				return
			}
			klog.V(2).InfoS("Executed command", "item", item, "command", cmd, "written", result.Written, "skipped", result.Skipped)
		}()
	}
}

func (o *Options) release(c *config.Config) {
	if c.Manager != nil {
		c.Manager.Close()
	}
	if c.MQTT != nil {
		c.MQTT.Close()
	}
	c.Scheduler.Close()
	c.Pool.Close()
}
