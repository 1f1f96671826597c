// Package metrics holds the Prometheus metrics of a backup peer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of one peer.
type Metrics struct {
	// Datagram traffic
	MessagesReceived *prometheus.CounterVec // dbs_messages_received_total{channel,type}
	MessagesSent     *prometheus.CounterVec // dbs_messages_sent_total{channel,type}
	MessagesDropped  *prometheus.CounterVec // dbs_messages_dropped_total{channel,reason}

	// Subprotocol outcomes
	ChunksStored   prometheus.Counter
	Suppressed     *prometheus.CounterVec // dbs_suppressed_total{kind}
	BackupOutcomes *prometheus.CounterVec // dbs_backup_chunks_total{outcome}
	RestoreResults *prometheus.CounterVec // dbs_restore_chunks_total{outcome}

	// Storage gauges
	StoredChunks    prometheus.Gauge
	StoredBytes     prometheus.Gauge
	UnderReplicated prometheus.Gauge
}

// New registers the peer metrics with registry. Each metric carries a constant
// peer label. A nil registry registers with a private registry that is never
// exposed.
func New(registry prometheus.Registerer, peerID string) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	labels := prometheus.Labels{"peer": peerID}
	factory := promauto.With(registry)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dbs_messages_received_total",
			Help:        "Datagrams received and parsed, by channel and message type",
			ConstLabels: labels,
		}, []string{"channel", "type"}),

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dbs_messages_sent_total",
			Help:        "Datagrams sent, by channel and message type",
			ConstLabels: labels,
		}, []string{"channel", "type"}),

		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dbs_messages_dropped_total",
			Help:        "Datagrams dropped before dispatch, by channel and reason",
			ConstLabels: labels,
		}, []string{"channel", "reason"}),

		ChunksStored: factory.NewCounter(prometheus.CounterOpts{
			Name:        "dbs_chunks_stored_total",
			Help:        "Chunks stored in response to PUTCHUNK",
			ConstLabels: labels,
		}),

		Suppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dbs_suppressed_total",
			Help:        "Actions suppressed at the end of an observation window, by window kind",
			ConstLabels: labels,
		}, []string{"kind"}),

		BackupOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dbs_backup_chunks_total",
			Help:        "Initiated chunk backups, by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),

		RestoreResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "dbs_restore_chunks_total",
			Help:        "Requested chunk restores, by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),

		StoredChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "dbs_stored_chunks",
			Help:        "Chunks currently held in the local store",
			ConstLabels: labels,
		}),

		StoredBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "dbs_stored_bytes",
			Help:        "Bytes currently held in the local store",
			ConstLabels: labels,
		}),

		UnderReplicated: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "dbs_under_replicated_chunks",
			Help:        "Locally stored chunks whose known replication is below the desired degree",
			ConstLabels: labels,
		}),
	}
}
