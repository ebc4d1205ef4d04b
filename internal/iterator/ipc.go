package iterator

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/go-sif/sifudf"
)

type ipcIterator struct {
	rdr    *ipc.Reader
	closer io.Closer
}

// FromIPC reads an Arrow IPC stream from r. If r is an io.Closer, closing the iterator closes it.
func FromIPC(r io.Reader, mem memory.Allocator) (sifudf.BatchIterator, *arrow.Schema, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, err
	}
	it := &ipcIterator{rdr: rdr}
	if c, ok := r.(io.Closer); ok {
		it.closer = c
	}
	return it, rdr.Schema(), nil
}

func (it *ipcIterator) Next() (arrow.Record, error) {
	if it.rdr.Next() {
		rec := it.rdr.Record()
		rec.Retain()
		return rec, nil
	}
	if err := it.rdr.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (it *ipcIterator) Close() error {
	if it.rdr == nil {
		return nil
	}
	it.rdr.Release()
	it.rdr = nil
	if it.closer != nil {
		return it.closer.Close()
	}
	return nil
}
