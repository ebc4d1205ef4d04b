// Package testutil builds and inspects small batches for tests
package testutil

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Int64Schema returns a schema of non-nullable int64 columns with the given names
func Int64Schema(names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, n := range names {
		fields[i] = arrow.Field{Name: n, Type: arrow.PrimitiveTypes.Int64}
	}
	return arrow.NewSchema(fields, nil)
}

// Int64Batch builds a batch of int64 columns. cols[i] holds the values of column i.
func Int64Batch(mem memory.Allocator, schema *arrow.Schema, cols ...[]int64) arrow.Record {
	if len(cols) != schema.NumFields() {
		panic(fmt.Sprintf("got %d columns for schema with %d fields", len(cols), schema.NumFields()))
	}
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i, vals := range cols {
		b.Field(i).(*array.Int64Builder).AppendValues(vals, nil)
	}
	return b.NewRecord()
}

// Int64Column returns the values of column i of rec
func Int64Column(rec arrow.Record, i int) []int64 {
	col := rec.Column(i).(*array.Int64)
	out := make([]int64, col.Len())
	for j := range out {
		out[j] = col.Value(j)
	}
	return out
}

// Seq returns the values [from, from+n)
func Seq(from, n int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = from + int64(i)
	}
	return out
}

// Repeat returns n copies of v
func Repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ReleaseAll releases every batch in recs
func ReleaseAll(recs []arrow.Record) {
	for _, r := range recs {
		r.Release()
	}
}
