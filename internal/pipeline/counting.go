package pipeline

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/go-sif/sifudf"
)

// counting adds the rows and batches passing through it to a pair of counters
type counting struct {
	it      sifudf.BatchIterator
	rows    *int64
	batches *int64
}

func (c *counting) Next() (arrow.Record, error) {
	rec, err := c.it.Next()
	if err != nil {
		return nil, err
	}
	*c.rows += rec.NumRows()
	*c.batches++
	return rec, nil
}

func (c *counting) Close() error {
	return c.it.Close()
}
