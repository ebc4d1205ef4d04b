package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector publishes the TaskMetrics of finished tasks to Prometheus
type Collector struct {
	rows            *prometheus.CounterVec
	batches         *prometheus.CounterVec
	tasks           prometheus.Counter
	workersLaunched prometheus.Counter
	queueSpills     prometheus.Counter
	semaphoreWait   prometheus.Histogram
	taskDuration    prometheus.Histogram
	queuePeakBytes  prometheus.Histogram
	queueRetained   prometheus.Gauge
}

// NewCollector registers the Collector's metrics with r
func NewCollector(r prometheus.Registerer) *Collector {
	return &Collector{
		rows: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sifudf_rows_total",
			Help: "Total number of rows processed, by pipeline stage.",
		}, []string{"stage"}),
		batches: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "sifudf_batches_total",
			Help: "Total number of batches processed, by pipeline stage.",
		}, []string{"stage"}),
		tasks: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sifudf_tasks_total",
			Help: "Total number of finished partition tasks.",
		}),
		workersLaunched: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sifudf_workers_launched_total",
			Help: "Total number of worker calls launched.",
		}),
		queueSpills: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "sifudf_queue_spills_total",
			Help: "Total number of key batches spilled to disk.",
		}),
		semaphoreWait: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "sifudf_semaphore_wait_seconds",
			Help:    "Time tasks spent waiting for the accelerator semaphore.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		taskDuration: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "sifudf_task_duration_seconds",
			Help:    "Time taken to process one partition.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		queuePeakBytes: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "sifudf_queue_peak_bytes",
			Help:    "Largest in-memory size of retained key batches per task.",
			Buckets: prometheus.ExponentialBuckets(1024, 8, 8),
		}),
		queueRetained: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "sifudf_queue_retained_bytes",
			Help: "In-memory size of key batches currently retained by all tasks.",
		}),
	}
}

// Observe adds a finished task's metrics. A nil Collector ignores them.
func (c *Collector) Observe(tm *TaskMetrics) {
	if c == nil {
		return
	}
	c.tasks.Inc()
	c.rows.WithLabelValues("input").Add(float64(tm.InputRows))
	c.rows.WithLabelValues("worker_sent").Add(float64(tm.WorkerRowsSent))
	c.rows.WithLabelValues("worker_received").Add(float64(tm.WorkerRowsReceived))
	c.rows.WithLabelValues("output").Add(float64(tm.OutputRows))
	c.batches.WithLabelValues("input").Add(float64(tm.InputBatches))
	c.batches.WithLabelValues("worker_sent").Add(float64(tm.GroupsSent))
	c.batches.WithLabelValues("worker_received").Add(float64(tm.WorkerBatchesReceived))
	c.batches.WithLabelValues("output").Add(float64(tm.OutputBatches))
	if tm.WorkerLaunched {
		c.workersLaunched.Inc()
		c.semaphoreWait.Observe(tm.SemaphoreWait.Seconds())
	}
	c.queueSpills.Add(float64(tm.QueueSpills))
	c.queuePeakBytes.Observe(float64(tm.QueuePeakBytes))
	c.taskDuration.Observe(tm.GetRuntime().Seconds())
}

// QueueRetained adjusts the retained key batch gauge by delta bytes. A nil Collector ignores it.
func (c *Collector) QueueRetained(delta int64) {
	if c == nil {
		return
	}
	c.queueRetained.Add(float64(delta))
}
