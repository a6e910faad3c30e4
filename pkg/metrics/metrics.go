package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

const namespace = "harnspoller"

const (
	KindRead  = "read"
	KindWrite = "write"

	OutcomeSuccess    = "success"
	OutcomeConnection = "connection_error"
	OutcomeProtocol   = "protocol_error"
	OutcomeMismatch   = "transaction_id_mismatch"
)

var (
	Transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Modbus transactions by kind and outcome.",
	}, []string{"kind", "outcome"})

	TransactionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transaction_duration_seconds",
		Help:      "Time from borrowing a connection to handing it back.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"kind"})

	RegisteredPolls = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_polls",
		Help:      "Regular polls currently scheduled.",
	})

	PostedUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posted_updates_total",
		Help:      "State updates posted per item.",
	}, []string{"item"})
)

func init() {
	prometheus.MustRegister(Transactions, TransactionDuration, RegisteredPolls, PostedUpdates)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
