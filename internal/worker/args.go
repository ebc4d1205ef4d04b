package worker

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/go-sif/sifudf"
	"github.com/go-sif/sifudf/internal/util"
)

// ArgumentBinding lays the arguments of several UDFs out as one set of distinct columns. An
// argument expression shared by several UDFs is evaluated and sent once.
type ArgumentBinding struct {
	Exprs   []sifudf.Expression
	Offsets [][]int
}

// BindArguments computes the distinct argument expressions of udfs, in first-use order, and
// each UDF's offsets into them
func BindArguments(udfs []sifudf.UDF) *ArgumentBinding {
	b := &ArgumentBinding{Offsets: make([][]int, len(udfs))}
	index := make(map[string]int)
	for i, udf := range udfs {
		offsets := make([]int, len(udf.Args))
		for j, arg := range udf.Args {
			k := arg.Key()
			idx, ok := index[k]
			if !ok {
				idx = len(b.Exprs)
				index[k] = idx
				b.Exprs = append(b.Exprs, arg)
			}
			offsets[j] = idx
		}
		b.Offsets[i] = offsets
	}
	return b
}

// Fields returns the fields of the combined argument schema for input batches following input
func (b *ArgumentBinding) Fields(input *arrow.Schema) ([]arrow.Field, error) {
	fields := make([]arrow.Field, len(b.Exprs))
	for i, e := range b.Exprs {
		dt, err := e.DataType(input)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: fmt.Sprintf("_%d", i), Type: dt, Nullable: true}
	}
	return fields, nil
}

// Evaluate computes the argument columns of rec as a batch following schema
func (b *ArgumentBinding) Evaluate(rec arrow.Record, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	cols := make([]arrow.Array, 0, len(b.Exprs))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for i, e := range b.Exprs {
		col, err := util.SafeEvaluate(e, rec, mem)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if !arrow.TypeEqual(col.DataType(), schema.Field(i).Type) {
			return nil, fmt.Errorf("Argument %s evaluated to %s, expected %s", e.Key(), col.DataType(), schema.Field(i).Type)
		}
	}
	return array.NewRecord(schema, cols, rec.NumRows()), nil
}
