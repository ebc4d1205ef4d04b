package errors

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// EmptyQueueError occurs when a key batch is requested from a BatchQueue which holds none.
// It always indicates a bug in the pipeline.
type EmptyQueueError struct{ Op string }

// Error returns a textual representation of this EmptyQueueError
func (e EmptyQueueError) Error() string {
	return fmt.Sprintf("%s called on empty batch queue", e.Op)
}

// RowCountMismatchError occurs when the rows returned by a worker for a group do not add up
// to the number of rows retained for that group
type RowCountMismatchError struct {
	Expected int64
	Actual   int64
}

// Error returns a textual representation of this RowCountMismatchError
func (e RowCountMismatchError) Error() string {
	return fmt.Sprintf("Worker returned %d rows for a group expecting %d", e.Actual, e.Expected)
}

// WorkerFailureError occurs when a worker exits abnormally, fails to start, or produces malformed output
type WorkerFailureError struct {
	Worker string
	Cause  error
	Stderr string
}

// Error returns a textual representation of this WorkerFailureError
func (e WorkerFailureError) Error() string {
	msg := fmt.Sprintf("Worker %s failed: %v", e.Worker, e.Cause)
	if e.Stderr != "" {
		msg += "\nWorker stderr:\n" + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying cause of this WorkerFailureError
func (e WorkerFailureError) Unwrap() error {
	return e.Cause
}

// ResourceExhaustionError describes device memory demand which exceeds what is available
type ResourceExhaustionError struct {
	Requested uint64
	Available uint64
}

// Error returns a textual representation of this ResourceExhaustionError
func (e ResourceExhaustionError) Error() string {
	return fmt.Sprintf("Requested %s of device memory but only %s is available (short by %s)",
		humanize.IBytes(e.Requested), humanize.IBytes(e.Available), humanize.IBytes(e.Shortfall()))
}

// Shortfall returns the number of bytes by which the request exceeds availability
func (e ResourceExhaustionError) Shortfall() uint64 {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// IncompatibleSchemaError occurs when a batch's columns do not match an expected Schema
type IncompatibleSchemaError struct{ Reason string }

// Error returns a textual representation of this IncompatibleSchemaError
func (e IncompatibleSchemaError) Error() string {
	return "Batch is not compatible with Schema: " + e.Reason
}

// QueueFinishedError occurs when a batch is added to a BatchQueue after Finish was called
type QueueFinishedError struct{}

// Error returns a textual representation of this QueueFinishedError
func (e QueueFinishedError) Error() string {
	return "Batch queue is finished and cannot accept more batches"
}
