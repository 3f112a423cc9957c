package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "otbr_gateway"

// Collector is a prometheus.Collector for the command gateway.
type Collector struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	gateWait      prometheus.Histogram
	scanInFlight  prometheus.Gauge
	diagQueries   prometheus.Counter
	diagResponses prometheus.Counter
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Commands handled, by command and status code.",
			}, []string{"command", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent handling a command.",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30},
			}, []string{"command"},
		),
		gateWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "gate_wait_seconds",
				Help:      "Time spent waiting to acquire the stack gate.",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
			},
		),
		scanInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "scan_in_flight",
				Help:      "Whether an active scan is running.",
			},
		),
		diagQueries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "diagnostic_queries_total",
				Help:      "Diagnostic get requests sent to the mesh.",
			},
		),
		diagResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "diagnostic_responses_total",
				Help:      "Diagnostic answers folded into the cache.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.duration.Describe(ch)
	c.gateWait.Describe(ch)
	c.scanInFlight.Describe(ch)
	c.diagQueries.Describe(ch)
	c.diagResponses.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.duration.Collect(ch)
	c.gateWait.Collect(ch)
	c.scanInFlight.Collect(ch)
	c.diagQueries.Collect(ch)
	c.diagResponses.Collect(ch)
}
