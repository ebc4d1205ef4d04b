package combine

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	siferrors "github.com/go-sif/sifudf/errors"
)

// Projection selects and renames the columns of a combined batch to produce the output schema
type Projection struct {
	Schema *arrow.Schema
	// Columns[i] is the column of the combined batch which becomes output field i
	Columns []int
}

// NewProjection checks that columns has one entry per field of schema
func NewProjection(schema *arrow.Schema, columns []int) (*Projection, error) {
	if len(columns) != schema.NumFields() {
		return nil, fmt.Errorf("Projection of %d columns onto schema with %d fields", len(columns), schema.NumFields())
	}
	return &Projection{Schema: schema, Columns: columns}, nil
}

// Apply returns a new batch following p.Schema, sharing column data with rec
func (p *Projection) Apply(rec arrow.Record) (arrow.Record, error) {
	cols := make([]arrow.Array, len(p.Columns))
	for i, idx := range p.Columns {
		if idx < 0 || idx >= int(rec.NumCols()) {
			return nil, siferrors.IncompatibleSchemaError{
				Reason: fmt.Sprintf("column %d requested from batch with %d columns", idx, rec.NumCols()),
			}
		}
		f := p.Schema.Field(i)
		col := rec.Column(idx)
		if !arrow.TypeEqual(col.DataType(), f.Type) {
			return nil, siferrors.IncompatibleSchemaError{
				Reason: fmt.Sprintf("field %s has type %s but column %d is %s", f.Name, f.Type, idx, col.DataType()),
			}
		}
		if !f.Nullable && col.NullN() > 0 {
			return nil, siferrors.IncompatibleSchemaError{
				Reason: fmt.Sprintf("field %s is not nullable but column %d holds %d nulls", f.Name, idx, col.NullN()),
			}
		}
		cols[i] = col
	}
	return array.NewRecord(p.Schema, cols, rec.NumRows()), nil
}
