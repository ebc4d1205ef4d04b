// Package combine pairs the results a worker returns for each group with the key columns retained
// for that group, restoring the association between results and the rows which produced them
package combine

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/hashicorp/go-multierror"

	"github.com/go-sif/sifudf"
	siferrors "github.com/go-sif/sifudf/errors"
	"github.com/go-sif/sifudf/internal/batchqueue"
	"github.com/go-sif/sifudf/internal/util"
)

// Combiner is a BatchIterator yielding each group's retained key columns followed by the worker's
// results for that group. Results for one group may arrive split over several batches.
type Combiner struct {
	results    sifudf.BatchIterator
	queue      *batchqueue.Queue
	projection *Projection
	mem        memory.Allocator

	buffer   []arrow.Record
	buffered int64
	err      error
	closed   bool
}

// New creates a Combiner over a worker's results and the queue of key batches fed alongside
// them. The Combiner owns both. projection may be nil.
func New(results sifudf.BatchIterator, queue *batchqueue.Queue, projection *Projection, mem memory.Allocator) *Combiner {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Combiner{results: results, queue: queue, projection: projection, mem: mem}
}

// Next returns the next combined batch, or io.EOF once every group has been combined
func (c *Combiner) Next() (arrow.Record, error) {
	if c.err != nil {
		return nil, c.err
	}
	rec, err := c.next()
	if err != nil {
		c.err = err
	}
	return rec, err
}

func (c *Combiner) next() (arrow.Record, error) {
	for {
		rec, err := c.results.Next()
		if err == io.EOF {
			return nil, c.checkExhausted()
		} else if err != nil {
			return nil, err
		}
		if rec.NumRows() == 0 {
			rec.Release()
			continue
		}
		expected, err := c.queue.PeekSize()
		if _, ok := err.(siferrors.EmptyQueueError); ok {
			actual := rec.NumRows()
			rec.Release()
			return nil, siferrors.RowCountMismatchError{Expected: 0, Actual: actual}
		} else if err != nil {
			rec.Release()
			return nil, err
		}
		c.buffer = append(c.buffer, rec)
		c.buffered += rec.NumRows()
		if c.buffered > expected {
			return nil, siferrors.RowCountMismatchError{Expected: expected, Actual: c.buffered}
		}
		if c.buffered == expected {
			return c.combine()
		}
	}
}

// checkExhausted verifies that no group is left partially or entirely without results
func (c *Combiner) checkExhausted() error {
	if c.queue.Len() == 0 {
		return io.EOF
	}
	expected, err := c.queue.PeekSize()
	if err != nil {
		return err
	}
	return siferrors.RowCountMismatchError{Expected: expected, Actual: c.buffered}
}

func (c *Combiner) combine() (arrow.Record, error) {
	result, err := c.takeBuffer()
	if err != nil {
		return nil, err
	}
	defer result.Release()
	key, err := c.queue.Remove()
	if err != nil {
		return nil, err
	}
	defer key.Release()
	bound, err := util.BindColumns(key, result)
	if err != nil {
		return nil, err
	}
	if c.projection == nil {
		return bound, nil
	}
	defer bound.Release()
	return c.projection.Apply(bound)
}

// takeBuffer returns the buffered results as one batch and empties the buffer
func (c *Combiner) takeBuffer() (arrow.Record, error) {
	defer func() {
		c.buffer = c.buffer[:0]
		c.buffered = 0
	}()
	if len(c.buffer) == 1 {
		return c.buffer[0], nil
	}
	defer c.releaseBuffer()
	return util.ConcatRecords(c.buffer, c.mem)
}

func (c *Combiner) releaseBuffer() {
	for _, rec := range c.buffer {
		rec.Release()
	}
}

// Close releases buffered results, closes the results and discards any remaining key batches
func (c *Combiner) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.releaseBuffer()
	c.buffer = nil
	var result *multierror.Error
	// results first, so nothing is still adding to the queue when it closes
	if err := c.results.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.queue.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

type passThrough struct {
	results    sifudf.BatchIterator
	projection *Projection
}

// PassThrough yields a worker's results unchanged apart from projection, for calls whose results
// are not associated with retained keys. projection may be nil.
func PassThrough(results sifudf.BatchIterator, projection *Projection) sifudf.BatchIterator {
	return &passThrough{results: results, projection: projection}
}

func (p *passThrough) Next() (arrow.Record, error) {
	rec, err := p.results.Next()
	if err != nil || p.projection == nil {
		return rec, err
	}
	defer rec.Release()
	return p.projection.Apply(rec)
}

func (p *passThrough) Close() error {
	return p.results.Close()
}
