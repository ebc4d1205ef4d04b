// Package stats tracks what one task did to one partition: how many rows and batches flowed
// through each stage, how long it waited for the accelerator and how much key data it retained
package stats

import (
	"time"
)

// TaskMetrics counts the work done by one task. Each field has one writer at a time: the output
// counters and the queue figures belong to the task's goroutine, and the GroupsSent and
// WorkerRowsSent counters to the goroutine feeding the worker. The input counters move from the
// task's goroutine, which peeks the first batch, to the feeding goroutine once the worker is
// launched. Read them only once the task has finished.
type TaskMetrics struct {
	PartitionID int
	startTime   time.Time
	runtime     time.Duration

	InputRows    int64
	InputBatches int64
	// GroupsSent counts the batches handed to the worker, after grouping and slicing
	GroupsSent            int64
	WorkerRowsSent        int64
	WorkerBatchesReceived int64
	WorkerRowsReceived    int64
	OutputRows            int64
	OutputBatches         int64

	WorkerLaunched bool
	SemaphoreWait  time.Duration
	QueuePeakBytes int64
	QueueSpills    int
}

// NewTaskMetrics creates TaskMetrics for a partition and starts its clock
func NewTaskMetrics(partitionID int) *TaskMetrics {
	return &TaskMetrics{PartitionID: partitionID, startTime: time.Now()}
}

// Finish stops the clock
func (tm *TaskMetrics) Finish() {
	if tm.runtime == 0 {
		tm.runtime = time.Since(tm.startTime)
	}
}

// GetStartTime returns the time the task started
func (tm *TaskMetrics) GetStartTime() time.Time {
	return tm.startTime
}

// GetRuntime returns the running time of the task, so far or in total once finished
func (tm *TaskMetrics) GetRuntime() time.Duration {
	if tm.runtime != 0 {
		return tm.runtime
	}
	return time.Since(tm.startTime)
}
