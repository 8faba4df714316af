package focus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the client's Prometheus collectors. All methods are
// nil-safe so an unconfigured client simply skips instrumentation.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  prometheus.Histogram
	throttledTotal   prometheus.Counter
	throttleDelaySec prometheus.Counter
	rateLimitedTotal prometheus.Counter
}

// NewMetrics registers the client collectors with the given registerer.
// Pass prometheus.DefaultRegisterer for the usual global registry, or a
// private registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "focuskit_requests_total",
			Help: "Total API requests by method and response status",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "focuskit_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		throttledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "focuskit_throttled_requests_total",
			Help: "Requests delayed by the client-side limiter",
		}),
		throttleDelaySec: factory.NewCounter(prometheus.CounterOpts{
			Name: "focuskit_throttle_delay_seconds_total",
			Help: "Cumulative artificial delay applied before requests",
		}),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "focuskit_rate_limited_total",
			Help: "429 responses received from the API",
		}),
	}
}

func (m *Metrics) observeRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeThrottle(delay time.Duration) {
	if m == nil {
		return
	}
	m.throttledTotal.Inc()
	m.throttleDelaySec.Add(delay.Seconds())
}

func (m *Metrics) observeRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}
