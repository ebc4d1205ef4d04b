package util

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	arrowutil "github.com/apache/arrow-go/v18/arrow/util"
)

// SelectColumns returns a new batch holding the given columns of rec, in order. Column data is
// shared with rec by reference count.
func SelectColumns(rec arrow.Record, indices []int) (arrow.Record, error) {
	fields := make([]arrow.Field, len(indices))
	cols := make([]arrow.Array, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= int(rec.NumCols()) {
			return nil, fmt.Errorf("Column index %d out of range for batch with %d columns", idx, rec.NumCols())
		}
		fields[i] = rec.Schema().Field(idx)
		cols[i] = rec.Column(idx)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows()), nil
}

// BindColumns returns a new batch holding the columns of left followed by those of right.
// Both batches must have the same number of rows.
func BindColumns(left, right arrow.Record) (arrow.Record, error) {
	if left.NumRows() != right.NumRows() {
		return nil, fmt.Errorf("Cannot bind batches of %d and %d rows", left.NumRows(), right.NumRows())
	}
	fields := append(append([]arrow.Field{}, left.Schema().Fields()...), right.Schema().Fields()...)
	cols := append(append([]arrow.Array{}, left.Columns()...), right.Columns()...)
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, left.NumRows()), nil
}

// ConcatRecords concatenates same-schema batches into one freshly allocated batch. The inputs
// are not released.
func ConcatRecords(recs []arrow.Record, mem memory.Allocator) (arrow.Record, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("Cannot concatenate zero batches")
	}
	schema := recs[0].Schema()
	var rows int64
	for _, r := range recs {
		if !r.Schema().Equal(schema) {
			return nil, fmt.Errorf("Cannot concatenate batches with schemas %s and %s", schema, r.Schema())
		}
		rows += r.NumRows()
	}
	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	parts := make([]arrow.Array, len(recs))
	for i := range cols {
		for j, r := range recs {
			parts[j] = r.Column(i)
		}
		col, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return array.NewRecord(schema, cols, rows), nil
}

// RecordBytes returns the size of the buffers referenced by rec
func RecordBytes(rec arrow.Record) int64 {
	return arrowutil.TotalRecordSize(rec)
}
