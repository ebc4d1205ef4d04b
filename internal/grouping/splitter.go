// Package grouping splits a stream of batches into one batch per group of equal grouping keys
package grouping

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-sif/sifudf"
	"github.com/go-sif/sifudf/internal/util"
)

// Splitter produces one batch per contiguous run of rows sharing grouping key values. Rows
// with equal keys are expected to be adjacent; if they are not, each run is still emitted as
// its own group.
//
// Each emitted batch is freshly materialized, so the Splitter holds no reference to the
// input batches it came from.
type Splitter struct {
	input    sifudf.BatchIterator
	grouping []int
	mem      memory.Allocator

	cur     arrow.Record   // input batch being scanned
	pos     int64          // first row of cur not yet assigned to a group
	pending []arrow.Record // the open group, possibly spanning several input batches
	done    bool
	closed  bool
}

// NewSplitter creates a Splitter over input, whose batches follow schema. grouping holds the
// positions of the grouping columns; if it is empty the whole stream forms a single group.
func NewSplitter(input sifudf.BatchIterator, schema *arrow.Schema, grouping []int, mem memory.Allocator) (*Splitter, error) {
	for _, idx := range grouping {
		if idx < 0 || idx >= schema.NumFields() {
			return nil, fmt.Errorf("Grouping column %d out of range for schema with %d fields", idx, schema.NumFields())
		}
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Splitter{input: input, grouping: grouping, mem: mem}, nil
}

// Next returns the next group. The caller owns the returned batch.
func (s *Splitter) Next() (arrow.Record, error) {
	if s.closed {
		return nil, io.EOF
	}
	for {
		if s.cur == nil {
			if s.done {
				if len(s.pending) > 0 {
					return s.emit()
				}
				return nil, io.EOF
			}
			rec, err := s.input.Next()
			if err == io.EOF {
				s.done = true
				continue
			} else if err != nil {
				return nil, err
			}
			if rec.NumRows() == 0 {
				rec.Release()
				continue
			}
			s.cur, s.pos = rec, 0
		}

		// a group left open by the previous batch ends here if the key changes at the boundary
		if n := len(s.pending); n > 0 {
			last := s.pending[n-1]
			if !s.sameKey(last, last.NumRows()-1, s.cur, s.pos) {
				return s.emit()
			}
		}

		end := s.runEnd(s.pos)
		s.pending = append(s.pending, s.cur.NewSlice(s.pos, end))
		if end < s.cur.NumRows() {
			s.pos = end
			return s.emit()
		}
		// the group reaches the end of this batch and may continue in the next
		s.cur.Release()
		s.cur = nil
	}
}

// runEnd returns the first row after start whose key differs from its predecessor
func (s *Splitter) runEnd(start int64) int64 {
	n := s.cur.NumRows()
	for r := start + 1; r < n; r++ {
		if !s.sameKey(s.cur, r-1, s.cur, r) {
			return r
		}
	}
	return n
}

func (s *Splitter) sameKey(a arrow.Record, i int64, b arrow.Record, j int64) bool {
	for _, idx := range s.grouping {
		if !array.SliceEqual(a.Column(idx), i, i+1, b.Column(idx), j, j+1) {
			return false
		}
	}
	return true
}

func (s *Splitter) emit() (arrow.Record, error) {
	pending := s.pending
	s.pending = nil
	defer func() {
		for _, p := range pending {
			p.Release()
		}
	}()
	return util.ConcatRecords(pending, s.mem)
}

// Close releases any partially scanned input and closes the input iterator
func (s *Splitter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, p := range s.pending {
		p.Release()
	}
	s.pending = nil
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	return s.input.Close()
}
