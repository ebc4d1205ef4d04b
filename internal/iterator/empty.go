package iterator

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-sif/sifudf"
)

type emptyBatchIterator struct{}

// Empty produces a BatchIterator which never yields a batch
func Empty() sifudf.BatchIterator {
	return emptyBatchIterator{}
}

// Next always returns io.EOF
func (emptyBatchIterator) Next() (arrow.Record, error) {
	return nil, io.EOF
}

// Close does nothing
func (emptyBatchIterator) Close() error {
	return nil
}
