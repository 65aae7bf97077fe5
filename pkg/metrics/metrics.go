package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_received_total",
			Help: "Total number of messages received per link (count)",
		},
		[]string{"link"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_sent_total",
			Help: "Total number of messages sent per link (count)",
		},
		[]string{"link"},
	)

	SendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_send_errors_total",
			Help: "Total number of failed send attempts per link (count)",
		},
		[]string{"link"},
	)

	MessagesForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_forwarded_total",
			Help: "Total number of messages forwarded to at least one link (count)",
		},
	)

	MessagesDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_duplicate_total",
			Help: "Total number of messages dropped as already-seen duplicates (count)",
		},
	)

	MessagesFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_filtered_total",
			Help: "Total number of messages blocked by the admission filter (count)",
		},
		[]string{"reason"},
	)

	MessagesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_messages_dropped_total",
			Help: "Total number of messages dropped without delivery to any target (count)",
		},
	)

	MalformedPacketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_malformed_packets_total",
			Help: "Total number of unparseable packets dropped at the transport boundary (count)",
		},
		[]string{"link"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_processing_duration_ms",
			Help:    "End-to-end routing duration per message in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	TrackedMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_tracked_messages",
			Help: "Number of message ids currently held by the history tracker (count)",
		},
	)

	ConnectedLinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_connected_links",
			Help: "Number of registered transport links (count)",
		},
	)

	FilterActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_filter_active_rules",
			Help: "Number of loaded custom filter rules (count)",
		},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_events_dropped_total",
			Help: "Total number of outcome events dropped because the dispatch queue was full (count)",
		},
		[]string{"sink"},
	)

	EventQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_event_queue_size",
			Help: "Current depth of the outcome event dispatch queue (count)",
		},
	)

	BusMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total number of records published to the message bus (count)",
		},
		[]string{"topic"},
	)

	BusMessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Total number of records consumed from the message bus (count)",
		},
		[]string{"topic"},
	)

	BusPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publish_errors_total",
			Help: "Total number of failed publishes to the message bus (count)",
		},
		[]string{"topic"},
	)

	StorageQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_queries_total",
			Help: "Total number of storage operations (count)",
		},
		[]string{"operation", "status"},
	)

	StorageQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_query_duration_ms",
			Help:    "Duration of storage operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of API requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

func RegisterRouterMetrics() {
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(MessagesSentTotal)
	prometheus.MustRegister(SendErrorsTotal)
	prometheus.MustRegister(MessagesForwardedTotal)
	prometheus.MustRegister(MessagesDuplicateTotal)
	prometheus.MustRegister(MessagesFilteredTotal)
	prometheus.MustRegister(MessagesDroppedTotal)
	prometheus.MustRegister(MalformedPacketsTotal)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(TrackedMessages)
	prometheus.MustRegister(ConnectedLinks)
	prometheus.MustRegister(FilterActiveRules)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(EventQueueSize)
}

func RegisterBusMetrics() {
	prometheus.MustRegister(BusMessagesPublishedTotal)
	prometheus.MustRegister(BusMessagesConsumedTotal)
	prometheus.MustRegister(BusPublishErrorsTotal)
}

func RegisterStorageMetrics() {
	prometheus.MustRegister(StorageQueriesTotal)
	prometheus.MustRegister(StorageQueryDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveProcessingDuration(duration time.Duration, outcome string) {
	ProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func ObserveStorageQuery(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StorageQueriesTotal.WithLabelValues(operation, status).Inc()
	StorageQueryDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func SetTrackedMessages(count int) {
	TrackedMessages.Set(float64(count))
}

func SetConnectedLinks(count int) {
	ConnectedLinks.Set(float64(count))
}

func SetFilterActiveRules(count int) {
	FilterActiveRules.Set(float64(count))
}
