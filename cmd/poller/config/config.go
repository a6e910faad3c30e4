package config

import (
	"harnspoller/pkg/binding"
	"harnspoller/pkg/modbus"
	"harnspoller/pkg/modbus/pool"
	"harnspoller/pkg/publisher"
)

type Config struct {
	Manager   *binding.Manager
	Scheduler *modbus.Scheduler
	Pool      *pool.Pool
	// nil when no broker is configured
	MQTT     *publisher.MQTTPublisher
	CertFile string
	KeyFile  string
}
