package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ConnectionsStarted    prometheus.Counter
	TokensIssued          prometheus.Counter
	BrokerRejections      *prometheus.CounterVec
	MandatsCreated        prometheus.Counter
	AutorisationsRevoked  prometheus.Counter
	JournalEntriesWritten *prometheus.CounterVec
	RequestLatencySeconds *prometheus.HistogramVec
	ConnectionStoreOps    *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConnectionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidantsconnect_broker_connections_started_total",
			Help: "Broker exchanges initiated via the authorize endpoint",
		}),
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidantsconnect_broker_tokens_issued_total",
			Help: "Access tokens issued by the token endpoint",
		}),
		BrokerRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aidantsconnect_broker_rejections_total",
			Help: "Requests rejected by the broker, by endpoint",
		}, []string{"endpoint"}),
		MandatsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidantsconnect_mandats_created_total",
			Help: "Mandates created",
		}),
		AutorisationsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidantsconnect_autorisations_revoked_total",
			Help: "Autorisations revoked before expiry",
		}),
		JournalEntriesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aidantsconnect_journal_entries_total",
			Help: "Journal entries appended, by action",
		}, []string{"action"}),
		RequestLatencySeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aidantsconnect_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		ConnectionStoreOps: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aidantsconnect_connection_store_op_seconds",
			Help:    "Connection store operation latency, by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}
