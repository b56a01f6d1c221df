package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "social",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Users with at least one live realtime connection",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "social",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Live realtime connections",
	})

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Realtime deliveries by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social",
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Notification candidates by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidation passes by mutation and status",
		},
		[]string{"mutation", "status"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Read-through cache lookups by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "social",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "social",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordDelivery(event, outcome string) {
	DeliveriesTotal.WithLabelValues(event, outcome).Inc()
}

func RecordNotification(kind, outcome string) {
	NotificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordInvalidation(mutation, status string) {
	CacheInvalidationsTotal.WithLabelValues(mutation, status).Inc()
}

func RecordCacheLookup(namespace, result string) {
	CacheLookupsTotal.WithLabelValues(namespace, result).Inc()
}

func RecordRequest(method, route, status string, durationSec float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSec)
}
