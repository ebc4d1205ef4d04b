package sifudf

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// An Expression produces one column from an input batch. Expressions are provided by the host
// engine; only their evaluation and a canonical key are needed here.
type Expression interface {
	// Key returns a canonical representation. Two Expressions with equal Keys always evaluate to the same column.
	Key() string
	// DataType returns the type of the column produced by Evaluate
	DataType(input *arrow.Schema) (arrow.DataType, error)
	// Evaluate computes the column for rec. The caller owns the returned Array.
	Evaluate(rec arrow.Record, mem memory.Allocator) (arrow.Array, error)
}

// ColumnRef is an Expression which selects a column of the input batch by position
type ColumnRef struct {
	Index int
}

// Key returns a canonical representation of this ColumnRef
func (c ColumnRef) Key() string {
	return fmt.Sprintf("col(%d)", c.Index)
}

// DataType returns the type of the referenced column
func (c ColumnRef) DataType(input *arrow.Schema) (arrow.DataType, error) {
	if c.Index < 0 || c.Index >= input.NumFields() {
		return nil, fmt.Errorf("Column index %d out of range for schema with %d fields", c.Index, input.NumFields())
	}
	return input.Field(c.Index).Type, nil
}

// Evaluate returns a new reference to the referenced column
func (c ColumnRef) Evaluate(rec arrow.Record, mem memory.Allocator) (arrow.Array, error) {
	if c.Index < 0 || c.Index >= int(rec.NumCols()) {
		return nil, fmt.Errorf("Column index %d out of range for batch with %d columns", c.Index, rec.NumCols())
	}
	col := rec.Column(c.Index)
	col.Retain()
	return col, nil
}

// UDF describes one user-defined function evaluated by a worker
type UDF struct {
	Name       string
	Args       []Expression
	// ResultType, if set, is the type the worker must return for this UDF
	ResultType arrow.DataType
}
