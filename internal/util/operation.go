package util

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-sif/sifudf"
)

// SafeEvaluate evaluates an Expression such that panics are recovered and nice error messages are constructed
func SafeEvaluate(expr sifudf.Expression, rec arrow.Record, mem memory.Allocator) (col arrow.Array, err error) {
	defer func() {
		if r := recover(); r != nil {
			col = nil
			if anErr, ok := r.(error); ok {
				err = fmt.Errorf("Expression Panic: %w\nExpression: %s\n%s", anErr, expr.Key(), GetTrace())
			} else {
				err = fmt.Errorf("Expression Panic: %v\nExpression: %s\n%s", r, expr.Key(), GetTrace())
			}
		} else if err != nil {
			err = fmt.Errorf("Expression Error: %w\nExpression: %s", err, expr.Key())
		}
	}()
	col, err = expr.Evaluate(rec, mem)
	if err == nil && col != nil && int64(col.Len()) != rec.NumRows() {
		n := col.Len()
		col.Release()
		col = nil
		err = fmt.Errorf("produced %d rows for a batch of %d", n, rec.NumRows())
	}
	return
}
