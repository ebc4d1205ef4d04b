package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/go-sif/sifudf"
)

// Reference returns the WorkerFunc of the bundled reference worker. Each UDF returns its first
// argument unchanged, except in a grouped aggregate where it returns the sum of that argument
// over the group. A grouped map call echoes its input.
func Reference(mem memory.Allocator) WorkerFunc {
	return func(ctx context.Context, hdr Header, in sifudf.BatchIterator, emit func(arrow.Record) error) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := in.Next()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			out, err := referenceBatch(hdr, rec, mem)
			rec.Release()
			if err != nil {
				return err
			}
			err = emit(out)
			out.Release()
			if err != nil {
				return err
			}
		}
	}
}

func referenceBatch(hdr Header, rec arrow.Record, mem memory.Allocator) (arrow.Record, error) {
	if hdr.EvalType == sifudf.EvalGroupedMap {
		rec.Retain()
		return rec, nil
	}
	fields := make([]arrow.Field, len(hdr.ArgOffsets))
	cols := make([]arrow.Array, 0, len(hdr.ArgOffsets))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	rows := rec.NumRows()
	for i, offsets := range hdr.ArgOffsets {
		if len(offsets) == 0 {
			return nil, fmt.Errorf("UDF %d has no arguments", i)
		}
		arg := rec.Column(offsets[0])
		var col arrow.Array
		if hdr.EvalType == sifudf.EvalGroupedAgg {
			sum, err := sumColumn(arg, mem)
			if err != nil {
				return nil, err
			}
			col = sum
			rows = 1
		} else {
			arg.Retain()
			col = arg
		}
		cols = append(cols, col)
		name := fmt.Sprintf("udf%d", i)
		if i < len(hdr.UDFNames) {
			name = hdr.UDFNames[i]
		}
		fields[i] = arrow.Field{Name: name, Type: col.DataType(), Nullable: true}
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rows), nil
}

func sumColumn(arg arrow.Array, mem memory.Allocator) (arrow.Array, error) {
	switch col := arg.(type) {
	case *array.Int64:
		var sum int64
		for j := 0; j < col.Len(); j++ {
			if col.IsValid(j) {
				sum += col.Value(j)
			}
		}
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Append(sum)
		return b.NewArray(), nil
	case *array.Float64:
		var sum float64
		for j := 0; j < col.Len(); j++ {
			if col.IsValid(j) {
				sum += col.Value(j)
			}
		}
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Append(sum)
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("Cannot sum column of type %s", arg.DataType())
	}
}
