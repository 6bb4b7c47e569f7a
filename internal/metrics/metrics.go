// Package metrics exposes widget and fetcher counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/passbi/localtransport/internal/models"
)

// Collector holds the widget and fetcher metrics. It serves as the session
// observer, the fetch observer and the NATS connection observer.
type Collector struct {
	reg *prometheus.Registry

	Polls          *prometheus.CounterVec // kind: full|minor|calendar
	Responses      *prometheus.CounterVec // channel, status
	RejectedRoutes prometheus.Counter
	DisplayedItems prometheus.Gauge

	Fetches       *prometheus.CounterVec // channel, result
	FetchDuration prometheus.Histogram

	NATSConnected prometheus.Gauge
}

// NewCollector registers all metrics on a fresh private registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localtransport_polls_total",
			Help: "Ticks handled by the session controller.",
		}, []string{"kind"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localtransport_responses_total",
			Help: "Responses applied by the session controller.",
		}, []string{"channel", "status"}),
		RejectedRoutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localtransport_rejected_routes_total",
			Help: "Routes dropped for long walks or missing fields.",
		}),
		DisplayedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localtransport_displayed_items",
			Help: "Rows in the current display list.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localtransport_fetches_total",
			Help: "Directions API calls made by fetchers.",
		}, []string{"channel", "result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "localtransport_fetch_duration_seconds",
			Help:    "Duration of Directions API calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localtransport_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.Responses, c.RejectedRoutes, c.DisplayedItems,
		c.Fetches, c.FetchDuration, c.NATSConnected,
	)
	return c
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the private registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Poll counts a controller tick by kind
func (c *Collector) Poll(kind string) { c.Polls.WithLabelValues(kind).Inc() }

// Response counts an applied response; a missing payload is recorded as "absent"
func (c *Collector) Response(channel models.Channel, status string) {
	if status == "" {
		status = "absent"
	}
	c.Responses.WithLabelValues(string(channel), status).Inc()
}

// Rejected adds routes dropped by the evaluator
func (c *Collector) Rejected(n int) { c.RejectedRoutes.Add(float64(n)) }

// Displayed sets the current display list length
func (c *Collector) Displayed(n int) { c.DisplayedItems.Set(float64(n)) }

// Fetched records one Directions call; transport failures count as "transport_error"
func (c *Collector) Fetched(channel models.Channel, status string, d time.Duration, err error) {
	result := status
	if err != nil {
		result = "transport_error"
	}
	c.Fetches.WithLabelValues(string(channel), result).Inc()
	c.FetchDuration.Observe(d.Seconds())
}

// NATSSetConnected tracks the NATS connection state
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
