package sifudf

import "github.com/apache/arrow-go/v18/arrow"

// BatchIterator is a generalized interface for iterating over columnar batches, regardless of where they come from.
//
// Next hands one reference to the returned Record to the caller, who must Release it. Next
// returns io.EOF once the iterator is exhausted. Close releases anything the iterator still
// owns and may be called more than once.
type BatchIterator interface {
	Next() (arrow.Record, error)
	Close() error
}
