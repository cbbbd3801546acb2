package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bufferserver_records_appended_total",
		Help: "Total number of records appended to upstream buffers",
	}, []string{"upstream"})

	RecordsDistributed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bufferserver_records_distributed_total",
		Help: "Total number of records handed to a distribution policy or broadcast, by kind",
	}, []string{"kind"})

	RecordsFiltered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bufferserver_records_filtered_total",
		Help: "Total number of records not delivered to a group, by reason",
	}, []string{"reason"})

	RecordsDrained = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bufferserver_records_drained_total",
		Help: "Total number of records advanced past by group cursors",
	})

	DrainLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bufferserver_drain_latency_seconds",
		Help:    "Histogram of time spent draining a group cursor",
		Buckets: prometheus.DefBuckets,
	})

	CatchUpDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bufferserver_catchup_duration_seconds",
		Help:    "Histogram of time spent fast-forwarding late groups",
		Buckets: prometheus.DefBuckets,
	})

	ConsumerDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bufferserver_consumer_drops_total",
		Help: "Total number of frames dropped by full consumer queues",
	}, []string{"policy"})

	ConsumerSendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bufferserver_consumer_send_failures_total",
		Help: "Total number of consumer writes that failed and closed the consumer",
	})

	ActiveGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bufferserver_active_groups",
		Help: "Current number of consumer groups",
	})

	ActiveConsumers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bufferserver_active_consumers",
		Help: "Current number of attached consumers",
	})
)
