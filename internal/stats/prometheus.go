package stats

import "github.com/prometheus/client_golang/prometheus"

// PrometheusHooks mirrors Counters into Prometheus collectors. It is only
// constructed when the embedding application supplies a Registerer —
// nothing forces Prometheus on a caller who doesn't want it, matching
// modules/backendscheduler's package-level metricXxx vars but scoped to an
// instance instead of package globals, since a process may host more than
// one client.
type PrometheusHooks struct {
	compressionOps *prometheus.CounterVec
	requests       prometheus.Counter
	errors         *prometheus.CounterVec
	timeouts       prometheus.Counter
	reconnects     prometheus.Counter
}

// NewPrometheusHooks registers a fresh set of collectors with reg under
// the given subsystem label and returns a hook set whose Observe* methods
// update them. reg must not be nil.
func NewPrometheusHooks(reg prometheus.Registerer, subsystem string) *PrometheusHooks {
	h := &PrometheusHooks{
		compressionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valkeyglide",
			Subsystem: subsystem,
			Name:      "compression_operations_total",
			Help:      "Count of compression attempts by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valkeyglide",
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total requests dispatched.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valkeyglide",
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total request errors by kind.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valkeyglide",
			Subsystem: subsystem,
			Name:      "timeouts_total",
			Help:      "Total requests that hit their deadline.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valkeyglide",
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Total successful reconnections.",
		}),
	}
	reg.MustRegister(h.compressionOps, h.requests, h.errors, h.timeouts, h.reconnects)
	return h
}

func (h *PrometheusHooks) ObserveCompressed() { h.compressionOps.WithLabelValues("compressed").Inc() }
func (h *PrometheusHooks) ObserveSkipped()    { h.compressionOps.WithLabelValues("skipped").Inc() }
func (h *PrometheusHooks) ObserveRequest()    { h.requests.Inc() }
func (h *PrometheusHooks) ObserveError(kind string) { h.errors.WithLabelValues(kind).Inc() }
func (h *PrometheusHooks) ObserveTimeout()    { h.timeouts.Inc() }
func (h *PrometheusHooks) ObserveReconnect()  { h.reconnects.Inc() }
