package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatline_ws_active_connections",
		Help: "Active websocket connections",
	})

	ActiveTopics = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatline_hub_topics",
		Help: "Chat topics with at least one local subscriber",
	})

	DroppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatline_hub_dropped_events_total",
		Help: "Events dropped because a client buffer was full",
	})

	MessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_messages_total",
		Help: "Persisted message operations",
	}, []string{"op"})

	PersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_persist_failures_total",
		Help: "Failed persistence calls by domain error code",
	}, []string{"code"})

	RelayEnvelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_relay_envelopes_total",
		Help: "Cross-instance relay traffic",
	}, []string{"direction"})

	SweptRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatline_swept_records_total",
		Help: "Records repaired by the recovery sweeper",
	}, []string{"kind"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatline_ws_rate_limited_total",
		Help: "Inbound websocket frames rejected by the rate limiter",
	})
)

var registerOnce sync.Once

// Init registers collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ActiveConnections,
			ActiveTopics,
			DroppedEvents,
			MessagesPersisted,
			PersistFailures,
			RelayEnvelopes,
			SweptRecords,
			RateLimited,
		)
	})
}

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
