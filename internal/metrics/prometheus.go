package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter publishes channel and router snapshots as Prometheus
// metrics. The monitor feeds it on every sampling pass.
type PrometheusExporter struct {
	registry *prometheus.Registry

	processed       *prometheus.GaugeVec
	errors          *prometheus.GaugeVec
	eventsGenerated *prometheus.GaugeVec
	emaLatency      *prometheus.GaugeVec
	p95Latency      *prometheus.GaugeVec
	queueSize       *prometheus.GaugeVec
	queueOverflows  *prometheus.GaugeVec
	circuitOpens    *prometheus.GaugeVec

	routerRouted   prometheus.Gauge
	routerFailures prometheus.Gauge
	routerTimeouts prometheus.Gauge
	routerFallback prometheus.Gauge
}

// NewPrometheusExporter creates an exporter backed by its own registry
func NewPrometheusExporter() *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_processed_total",
			Help: "Items processed per channel",
		}, []string{"channel"}),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_errors_total",
			Help: "Processing errors per channel",
		}, []string{"channel"}),
		eventsGenerated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_events_generated_total",
			Help: "Domain events generated per channel",
		}, []string{"channel"}),
		emaLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_latency_ema_ms",
			Help: "Exponential moving average processing latency per channel",
		}, []string{"channel"}),
		p95Latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_latency_p95_ms",
			Help: "95th percentile processing latency per channel",
		}, []string{"channel"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_queue_size",
			Help: "Current input queue depth per channel",
		}, []string{"channel"}),
		queueOverflows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_queue_overflows_total",
			Help: "Rejected enqueues per channel",
		}, []string{"channel"}),
		circuitOpens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickcore_channel_circuit_opens_total",
			Help: "Circuit breaker open transitions per channel",
		}, []string{"channel"}),
		routerRouted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcore_router_routed_total",
			Help: "Items dispatched by the router",
		}),
		routerFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcore_router_failures_total",
			Help: "Failed dispatches",
		}),
		routerTimeouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcore_router_timeouts_total",
			Help: "Dispatches that exceeded the routing deadline",
		}),
		routerFallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickcore_router_fallback_total",
			Help: "Dispatches served by the fallback path",
		}),
	}

	e.registry.MustRegister(
		e.processed, e.errors, e.eventsGenerated, e.emaLatency, e.p95Latency,
		e.queueSize, e.queueOverflows, e.circuitOpens,
		e.routerRouted, e.routerFailures, e.routerTimeouts, e.routerFallback,
	)
	return e
}

// Registry exposes the backing registry for the HTTP handler
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// UpdateChannel publishes one channel snapshot
func (e *PrometheusExporter) UpdateChannel(name string, s Snapshot, queueSize int) {
	e.processed.WithLabelValues(name).Set(float64(s.Processed))
	e.errors.WithLabelValues(name).Set(float64(s.Errors))
	e.eventsGenerated.WithLabelValues(name).Set(float64(s.EventsGenerated))
	e.emaLatency.WithLabelValues(name).Set(s.EMALatencyMs)
	e.p95Latency.WithLabelValues(name).Set(s.P95LatencyMs)
	e.queueSize.WithLabelValues(name).Set(float64(queueSize))
	e.queueOverflows.WithLabelValues(name).Set(float64(s.QueueOverflows))
	e.circuitOpens.WithLabelValues(name).Set(float64(s.CircuitOpens))
}

// UpdateRouter publishes the router snapshot
func (e *PrometheusExporter) UpdateRouter(s RouterSnapshot) {
	e.routerRouted.Set(float64(s.Routed))
	e.routerFailures.Set(float64(s.Failures))
	e.routerTimeouts.Set(float64(s.Timeouts))
	e.routerFallback.Set(float64(s.FallbackUsed))
}
