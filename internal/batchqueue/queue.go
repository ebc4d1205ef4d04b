package batchqueue

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	siferrors "github.com/go-sif/sifudf/errors"
	"github.com/go-sif/sifudf/internal/util"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// AccountingHook is told about every change to the bytes a Queue retains in memory. delta is
// positive when a batch is retained and negative when it is released or spilled.
type AccountingHook func(delta int64)

// Options configure a Queue
type Options struct {
	// OnRetain is invoked with the in-memory footprint change of each Add, Remove, spill and Close
	OnRetain AccountingHook
	// Spiller moves batches out of memory once MemoryLimit is exceeded. Nil disables spilling.
	Spiller Spiller
	// MemoryLimit is the in-memory footprint above which the newest batches are spilled
	MemoryLimit int64
	// Allocator is used to reload spilled batches
	Allocator memory.Allocator
}

type entry struct {
	rows    int64
	bytes   int64
	rec     arrow.Record // nil once spilled
	spilled Spilled
}

// Queue retains key batches, oldest first, until the worker results they belong to arrive. It
// never blocks: a queue that grows is a sign that the worker is falling behind.
//
// The queue is owned by one task. It is locked only because the task's input is fed to the
// worker from a second goroutine.
type Queue struct {
	lock        sync.Mutex
	opts        Options
	entries     []*entry
	head        int
	memBytes    int64
	peakBytes   int64
	numSpilled  int
	totalSpills int
	finished    bool
	closed      bool
}

// New creates an empty Queue
func New(opts Options) *Queue {
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	return &Queue{opts: opts}
}

// Add enqueues rec. The Queue takes ownership of the caller's reference.
func (q *Queue) Add(rec arrow.Record) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed || q.finished {
		rec.Release()
		return siferrors.QueueFinishedError{}
	}
	e := &entry{rows: rec.NumRows(), bytes: util.RecordBytes(rec), rec: rec}
	q.entries = append(q.entries, e)
	q.retain(e.bytes)
	if q.opts.Spiller != nil && q.memBytes > q.opts.MemoryLimit {
		return q.spillNewest()
	}
	return nil
}

// spillNewest spills in-memory batches, newest first, until the queue is back under its limit.
// The oldest batch is always kept in memory since it is the next one needed.
func (q *Queue) spillNewest() error {
	for i := len(q.entries) - 1; i > q.head && q.memBytes > q.opts.MemoryLimit; i-- {
		e := q.entries[i]
		if e.rec == nil {
			continue
		}
		spilled, err := q.opts.Spiller.Spill(e.rec)
		if err != nil {
			return errors.Wrap(err, "spilling key batch")
		}
		e.rec.Release()
		e.rec = nil
		e.spilled = spilled
		q.numSpilled++
		q.totalSpills++
		q.retain(-e.bytes)
	}
	return nil
}

func (q *Queue) retain(delta int64) {
	q.memBytes += delta
	if q.memBytes > q.peakBytes {
		q.peakBytes = q.memBytes
	}
	if q.opts.OnRetain != nil && delta != 0 {
		q.opts.OnRetain(delta)
	}
}

// PeekSize returns the row count of the oldest batch without removing it
func (q *Queue) PeekSize() (int64, error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.head >= len(q.entries) {
		return 0, siferrors.EmptyQueueError{Op: "PeekSize"}
	}
	return q.entries[q.head].rows, nil
}

// Remove dequeues the oldest batch and hands ownership of it to the caller
func (q *Queue) Remove() (arrow.Record, error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.head >= len(q.entries) {
		return nil, siferrors.EmptyQueueError{Op: "Remove"}
	}
	e := q.entries[q.head]
	q.entries[q.head] = nil
	q.head++
	q.compact()
	if e.rec != nil {
		q.retain(-e.bytes)
		return e.rec, nil
	}
	q.numSpilled--
	rec, err := e.spilled.Load(q.opts.Allocator)
	if err != nil {
		return nil, errors.Wrap(err, "reloading spilled key batch")
	}
	return rec, nil
}

// compact drops consumed slots once they make up most of the backing slice
func (q *Queue) compact() {
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0
	} else if q.head > 32 && q.head*2 > len(q.entries) {
		n := copy(q.entries, q.entries[q.head:])
		for i := n; i < len(q.entries); i++ {
			q.entries[i] = nil
		}
		q.entries = q.entries[:n]
		q.head = 0
	}
}

// Finish signals that no more batches will be added
func (q *Queue) Finish() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.finished = true
}

// Finished returns true iff Finish has been called
func (q *Queue) Finished() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.finished
}

// Len returns the number of retained batches
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.entries) - q.head
}

// RetainedBytes returns the in-memory footprint of retained batches
func (q *Queue) RetainedBytes() int64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.memBytes
}

// PeakBytes returns the largest in-memory footprint this Queue has reached
func (q *Queue) PeakBytes() int64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.peakBytes
}

// NumSpills returns the number of batches this Queue has spilled so far
func (q *Queue) NumSpills() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.totalSpills
}

// Close releases every retained batch and discards spilled ones. Close is idempotent.
func (q *Queue) Close() error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	var merr *multierror.Error
	for i := q.head; i < len(q.entries); i++ {
		e := q.entries[i]
		if e.rec != nil {
			e.rec.Release()
			q.retain(-e.bytes)
		} else if e.spilled != nil {
			if err := e.spilled.Discard(); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		q.entries[i] = nil
	}
	q.entries = nil
	q.head = 0
	q.numSpilled = 0
	return merr.ErrorOrNil()
}
