package iterator

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-sif/sifudf"
)

// sliceIterator produces batches from an in-memory list, handing over its own references
type sliceIterator struct {
	batches []arrow.Record
	next    int
}

// FromSlice creates a BatchIterator over batches. The iterator takes ownership of one
// reference to each batch; batches never handed out are released by Close.
func FromSlice(batches []arrow.Record) sifudf.BatchIterator {
	return &sliceIterator{batches: batches}
}

func (si *sliceIterator) Next() (arrow.Record, error) {
	if si.next >= len(si.batches) {
		return nil, io.EOF
	}
	rec := si.batches[si.next]
	si.batches[si.next] = nil
	si.next++
	return rec, nil
}

func (si *sliceIterator) Close() error {
	for i := si.next; i < len(si.batches); i++ {
		if si.batches[i] != nil {
			si.batches[i].Release()
			si.batches[i] = nil
		}
	}
	si.next = len(si.batches)
	return nil
}

// Drain reads every remaining batch from it, then closes it. The caller owns the returned batches.
func Drain(it sifudf.BatchIterator) ([]arrow.Record, error) {
	var out []arrow.Record
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			for _, r := range out {
				r.Release()
			}
			it.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	return out, it.Close()
}
