package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a GMU node
type Metrics struct {
	// Commit log metrics
	CommitLogCurrentCounter prometheus.Gauge
	CommitLogHistoryEntries prometheus.Gauge
	CommitLogPublishesTotal prometheus.Counter
	CommitLogWaitDuration   prometheus.Histogram
	CommitLogWaitTimeouts   prometheus.Counter

	// Commit queue metrics
	CommitQueueDepth          prometheus.Gauge
	CommitQueuePreparesTotal  prometheus.Counter
	CommitQueueCommitsTotal   prometheus.Counter
	CommitQueueRollbacksTotal prometheus.Counter
	CommitQueueBatchSize      prometheus.Histogram

	// Remote transaction metrics
	RemoteTxDeferredTotal *prometheus.CounterVec
	RemoteTxRejectedTotal prometheus.Counter

	// Read metrics
	ReadsTotal             *prometheus.CounterVec
	RemoteReadsTotal       prometheus.Counter
	RemoteReadDuration     prometheus.Histogram
	RemoteReadRetriesTotal prometheus.Counter
	RemoteReadExhausted    prometheus.Counter

	// Near-cache metrics
	NearCacheHitsTotal      prometheus.Counter
	NearCacheMissesTotal    prometheus.Counter
	NearCacheEvictionsTotal prometheus.Counter
	NearCacheEntries        prometheus.Gauge

	// Garbage collection metrics
	GCCommittedTransactions prometheus.Counter
	GCRunsTotal             prometheus.Counter
	GCVersionsRemoved       prometheus.Counter

	// Membership metrics
	ClusterViewID  prometheus.Gauge
	ClusterMembers prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on reg
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		CommitLogCurrentCounter: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitlog",
			Name:        "current_counter",
			Help:        "This node's counter in the most recently committed version",
			ConstLabels: labels,
		}),
		CommitLogHistoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitlog",
			Name:        "history_entries",
			Help:        "Number of committed versions retained for boundary lookups",
			ConstLabels: labels,
		}),
		CommitLogPublishesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitlog",
			Name:        "publishes_total",
			Help:        "Total number of committed versions published",
			ConstLabels: labels,
		}),
		CommitLogWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitlog",
			Name:        "wait_for_version_duration_seconds",
			Help:        "Histogram of time spent waiting for a minimum version",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		CommitLogWaitTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitlog",
			Name:        "wait_for_version_timeouts_total",
			Help:        "Total number of version waits that gave up",
			ConstLabels: labels,
		}),

		CommitQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitqueue",
			Name:        "depth",
			Help:        "Number of transactions waiting in the commit queue",
			ConstLabels: labels,
		}),
		CommitQueuePreparesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitqueue",
			Name:        "prepares_total",
			Help:        "Total number of prepared transactions",
			ConstLabels: labels,
		}),
		CommitQueueCommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitqueue",
			Name:        "commits_total",
			Help:        "Total number of commit requests",
			ConstLabels: labels,
		}),
		CommitQueueRollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitqueue",
			Name:        "rollbacks_total",
			Help:        "Total number of rolled back transactions",
			ConstLabels: labels,
		}),
		CommitQueueBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "commitqueue",
			Name:        "drained_batch_size",
			Help:        "Histogram of transactions published per drain",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 8),
		}),

		RemoteTxDeferredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "remotetx",
			Name:        "deferred_commands_total",
			Help:        "Commit or rollback commands that arrived before prepare",
			ConstLabels: labels,
		}, []string{"command"}),
		RemoteTxRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "remotetx",
			Name:        "rejected_messages_total",
			Help:        "Late or duplicate messages for finished or invalidated transactions",
			ConstLabels: labels,
		}),

		ReadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "read",
			Name:        "requests_total",
			Help:        "Total number of container reads by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		RemoteReadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "read",
			Name:        "remote_total",
			Help:        "Total number of remote versioned gets issued",
			ConstLabels: labels,
		}),
		RemoteReadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "read",
			Name:        "remote_duration_seconds",
			Help:        "Histogram of remote versioned get durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		RemoteReadRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "read",
			Name:        "remote_retries_total",
			Help:        "Remote gets retried after an ownership change",
			ConstLabels: labels,
		}),
		RemoteReadExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "read",
			Name:        "remote_exhausted_total",
			Help:        "Remote gets where no owner returned a value",
			ConstLabels: labels,
		}),

		NearCacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "nearcache",
			Name:        "hits_total",
			Help:        "Total number of near-cache hits",
			ConstLabels: labels,
		}),
		NearCacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "nearcache",
			Name:        "misses_total",
			Help:        "Total number of near-cache misses",
			ConstLabels: labels,
		}),
		NearCacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "nearcache",
			Name:        "evictions_total",
			Help:        "Total number of near-cache evictions",
			ConstLabels: labels,
		}),
		NearCacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "nearcache",
			Name:        "entries_total",
			Help:        "Current number of entries in the near-cache",
			ConstLabels: labels,
		}),

		GCCommittedTransactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "gc",
			Name:        "committed_transactions_total",
			Help:        "Transactions reported committed to the garbage collector",
			ConstLabels: labels,
		}),
		GCRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "gc",
			Name:        "runs_total",
			Help:        "Total number of garbage collection passes",
			ConstLabels: labels,
		}),
		GCVersionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "gc",
			Name:        "versions_removed_total",
			Help:        "Superseded versions removed from the container",
			ConstLabels: labels,
		}),

		ClusterViewID: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "cluster",
			Name:        "view_id",
			Help:        "Current cluster view id",
			ConstLabels: labels,
		}),
		ClusterMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "cluster",
			Name:        "members",
			Help:        "Number of members in the current view",
			ConstLabels: labels,
		}),
	}
}

// NewNopMetrics returns metrics registered on a private registry, for tests
// and tools that do not export them
func NewNopMetrics() *Metrics {
	return NewMetrics("nop", prometheus.NewRegistry())
}
