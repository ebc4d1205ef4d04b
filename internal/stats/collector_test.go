package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	tm := NewTaskMetrics(3)
	tm.InputRows, tm.InputBatches = 100, 4
	tm.GroupsSent, tm.WorkerRowsSent = 10, 100
	tm.WorkerRowsReceived, tm.WorkerBatchesReceived = 10, 10
	tm.OutputRows, tm.OutputBatches = 10, 10
	tm.WorkerLaunched = true
	tm.QueueSpills = 2
	tm.Finish()
	c.Observe(tm)
	c.Observe(NewTaskMetrics(4))

	require.Equal(t, 2.0, testutil.ToFloat64(c.tasks))
	require.Equal(t, 1.0, testutil.ToFloat64(c.workersLaunched))
	require.Equal(t, 100.0, testutil.ToFloat64(c.rows.WithLabelValues("input")))
	require.Equal(t, 10.0, testutil.ToFloat64(c.batches.WithLabelValues("output")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.queueSpills))

	c.QueueRetained(4096)
	c.QueueRetained(-1024)
	require.Equal(t, 3072.0, testutil.ToFloat64(c.queueRetained))

	var nilCollector *Collector
	nilCollector.Observe(tm)
	nilCollector.QueueRetained(1)
}
