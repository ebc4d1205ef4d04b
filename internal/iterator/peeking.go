package iterator

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-sif/sifudf"
)

// Peeking wraps a BatchIterator so that its first batch can be inspected before it is consumed
type Peeking struct {
	source sifudf.BatchIterator
	peeked arrow.Record
	err    error
	done   bool
}

// NewPeeking wraps source
func NewPeeking(source sifudf.BatchIterator) *Peeking {
	return &Peeking{source: source}
}

// Peek returns the next batch without consuming it. The returned batch remains owned by the
// iterator. Peek returns io.EOF if the source is exhausted.
func (p *Peeking) Peek() (arrow.Record, error) {
	if p.peeked != nil {
		return p.peeked, nil
	}
	if p.done {
		return nil, p.err
	}
	rec, err := p.source.Next()
	if err != nil {
		p.done = true
		p.err = err
		return nil, err
	}
	p.peeked = rec
	return rec, nil
}

// Empty returns true iff the source yields no batches at all
func (p *Peeking) Empty() (bool, error) {
	_, err := p.Peek()
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// Next consumes the next batch
func (p *Peeking) Next() (arrow.Record, error) {
	if p.peeked != nil {
		rec := p.peeked
		p.peeked = nil
		return rec, nil
	}
	if p.done {
		return nil, p.err
	}
	return p.source.Next()
}

// Close releases a peeked batch and closes the source
func (p *Peeking) Close() error {
	if p.peeked != nil {
		p.peeked.Release()
		p.peeked = nil
	}
	return p.source.Close()
}
