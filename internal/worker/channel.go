// Package worker drives calls to external workers: it lays out UDF arguments, streams batches
// to a worker over a Channel and hands back the worker's results
package worker

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Channel exchanges batches with one running worker call.
//
// Send and CloseSend are called from one goroutine while Receive is called from another. Close
// may be called from the receiving goroutine at any time, and must unblock a pending Send.
type Channel interface {
	// Send writes rec to the worker. The caller keeps its reference to rec.
	Send(rec arrow.Record) error
	// CloseSend tells the worker that no more batches follow
	CloseSend() error
	// Receive returns the next result batch, or io.EOF once the worker has finished. The caller owns the result.
	Receive() (arrow.Record, error)
	// Close stops the worker and releases the Channel's resources
	Close() error
}

// Launcher starts worker calls
type Launcher interface {
	// Launch starts a worker whose input stream follows schema, which carries the call's Header.
	// env holds extra environment entries describing the worker's device budget.
	Launch(ctx context.Context, schema *arrow.Schema, env []string) (Channel, error)
}
