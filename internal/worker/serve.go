package worker

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/go-sif/sifudf/internal/iterator"
)

// Serve runs fn as a worker process would: it reads the call's Arrow IPC stream from r and
// writes fn's results to w as another stream
func Serve(ctx context.Context, r io.Reader, w io.Writer, mem memory.Allocator, fn WorkerFunc) error {
	in, schema, err := iterator.FromIPC(io.NopCloser(r), mem)
	if err != nil {
		return errors.Wrap(err, "reading input schema")
	}
	defer in.Close()
	hdr, err := ReadHeader(schema)
	if err != nil {
		return err
	}
	var wr *ipc.Writer
	emit := func(rec arrow.Record) error {
		if wr == nil {
			wr = ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
		}
		return wr.Write(rec)
	}
	if err := fn(ctx, hdr, in, emit); err != nil {
		return err
	}
	if wr == nil {
		return nil
	}
	return wr.Close()
}
