package dcsim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters of one datacenter, registered with a registry of its own
// so that datacenters built in the same process do not share counts
type Metrics struct {
	Registry *prometheus.Registry

	// DataTransferred is the payload, in bytes, hosts have sent into the network
	DataTransferred prometheus.Counter

	// PacketsDelivered counts packets reaching a destination host, labeled
	// "local" when sender and receiver share the host and "global" otherwise
	PacketsDelivered *prometheus.CounterVec

	// SwitchFlushes counts executed flushes by switch level
	SwitchFlushes *prometheus.CounterVec

	// PacketsForwarded counts packets sent on by switches, by switch level
	PacketsForwarded *prometheus.CounterVec
}

// CreateMetrics is a constructor
func CreateMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{Registry: reg}
	m.DataTransferred = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "dcsim_data_transferred_bytes_total",
			Help: "Total payload bytes sent by hosts to the network",
		},
	)
	m.PacketsDelivered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_packets_delivered_total",
			Help: "Total packets delivered to their destination host",
		},
		[]string{"scope"},
	)
	m.SwitchFlushes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_switch_flushes_total",
			Help: "Total switch queue flushes executed",
		},
		[]string{"level"},
	)
	m.PacketsForwarded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_packets_forwarded_total",
			Help: "Total packets forwarded by switches",
		},
		[]string{"level"},
	)
	return m
}
