package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons.
const (
	DropDuplicate     = "duplicate"
	DropUnverified    = "unverified"
	DropParse         = "parse"
	DropNoHandler     = "no_handler"
	DropStaleEpoch    = "stale_epoch"
	DropSlowConsumer  = "slow_consumer"
	DropPublishFailed = "publish_failed"
)

// Native call results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics counts bridge activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	emitted     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	nativeCalls *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iap_bridge",
			Name:      "events_emitted_total",
			Help:      "Push events delivered to the application, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iap_bridge",
			Name:      "events_dropped_total",
			Help:      "Purchase updates and push events that were not delivered, by reason.",
		}, []string{"reason"}),
		nativeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iap_bridge",
			Name:      "native_calls_total",
			Help:      "Calls into the native store, by method and result.",
		}, []string{"method", "result"}),
	}

	m.registry.MustRegister(
		m.emitted,
		m.dropped,
		m.nativeCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// NativeCall records the outcome of a store call.
func (m *Metrics) NativeCall(method string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.nativeCalls.WithLabelValues(method, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Emitted returns the emitted-events counter for eventType.
func (m *Metrics) Emitted(eventType string) prometheus.Counter {
	return m.emitted.WithLabelValues(eventType)
}

// Dropped returns the dropped-events counter for reason.
func (m *Metrics) Dropped(reason string) prometheus.Counter {
	return m.dropped.WithLabelValues(reason)
}
