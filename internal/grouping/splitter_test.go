package grouping

import (
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-sif/sifudf/internal/iterator"
	"github.com/go-sif/sifudf/internal/testutil"
	"github.com/stretchr/testify/require"
)

var schema = testutil.Int64Schema("key", "val")

func split(t *testing.T, mem memory.Allocator, grouping []int, batches ...arrow.Record) []arrow.Record {
	s, err := NewSplitter(iterator.FromSlice(batches), schema, grouping, mem)
	require.Nil(t, err)
	groups, err := iterator.Drain(s)
	require.Nil(t, err)
	return groups
}

func TestSplitWithinBatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	groups := split(t, mem, []int{0},
		testutil.Int64Batch(mem, schema, []int64{1, 1, 2, 3, 3, 3}, testutil.Seq(0, 6)))
	defer testutil.ReleaseAll(groups)

	require.Len(t, groups, 3)
	require.Equal(t, []int64{1, 1}, testutil.Int64Column(groups[0], 0))
	require.Equal(t, []int64{2}, testutil.Int64Column(groups[1], 0))
	require.Equal(t, []int64{3, 3, 3}, testutil.Int64Column(groups[2], 0))
	require.Equal(t, []int64{3, 4, 5}, testutil.Int64Column(groups[2], 1))
}

func TestSplitGroupSpanningBatches(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	groups := split(t, mem, []int{0},
		testutil.Int64Batch(mem, schema, []int64{1, 2, 2}, testutil.Seq(0, 3)),
		testutil.Int64Batch(mem, schema, []int64{2, 2}, testutil.Seq(3, 2)),
		testutil.Int64Batch(mem, schema, []int64{}, []int64{}),
		testutil.Int64Batch(mem, schema, []int64{2, 3}, testutil.Seq(5, 2)),
		testutil.Int64Batch(mem, schema, []int64{4}, testutil.Seq(7, 1)))
	defer testutil.ReleaseAll(groups)

	require.Len(t, groups, 4)
	require.Equal(t, []int64{0}, testutil.Int64Column(groups[0], 1))
	require.Equal(t, []int64{1, 2, 3, 4, 5}, testutil.Int64Column(groups[1], 1))
	require.Equal(t, []int64{6}, testutil.Int64Column(groups[2], 1))
	require.Equal(t, []int64{7}, testutil.Int64Column(groups[3], 1))
}

func TestSplitBoundaryAtBatchEdge(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	groups := split(t, mem, []int{0},
		testutil.Int64Batch(mem, schema, []int64{1, 1}, testutil.Seq(0, 2)),
		testutil.Int64Batch(mem, schema, []int64{2, 2}, testutil.Seq(2, 2)))
	defer testutil.ReleaseAll(groups)

	require.Len(t, groups, 2)
	require.Equal(t, []int64{1, 1}, testutil.Int64Column(groups[0], 0))
	require.Equal(t, []int64{2, 2}, testutil.Int64Column(groups[1], 0))
}

func TestSplitReproducesInput(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	// 100 rows, 10 keys of 10 rows each, cut into batches of 7
	keys := make([]int64, 100)
	for i := range keys {
		keys[i] = int64(i / 10)
	}
	var batches []arrow.Record
	for start := 0; start < 100; start += 7 {
		end := start + 7
		if end > 100 {
			end = 100
		}
		batches = append(batches, testutil.Int64Batch(mem, schema, keys[start:end], testutil.Seq(int64(start), int64(end-start))))
	}
	groups := split(t, mem, []int{0}, batches...)
	defer testutil.ReleaseAll(groups)

	require.Len(t, groups, 10)
	var vals []int64
	for g, rec := range groups {
		require.Equal(t, testutil.Repeat(int64(g), 10), testutil.Int64Column(rec, 0))
		vals = append(vals, testutil.Int64Column(rec, 1)...)
	}
	require.Equal(t, testutil.Seq(0, 100), vals)
}

func TestSplitMultipleGroupingColumns(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	groups := split(t, mem, []int{0, 1},
		testutil.Int64Batch(mem, schema, []int64{1, 1, 1, 2}, []int64{5, 5, 6, 6}))
	defer testutil.ReleaseAll(groups)

	require.Len(t, groups, 3)
	require.Equal(t, int64(2), groups[0].NumRows())
	require.Equal(t, int64(1), groups[1].NumRows())
	require.Equal(t, int64(1), groups[2].NumRows())
}

func TestSplitNoGroupingColumns(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	groups := split(t, mem, nil,
		testutil.Int64Batch(mem, schema, []int64{1, 2}, testutil.Seq(0, 2)),
		testutil.Int64Batch(mem, schema, []int64{3}, testutil.Seq(2, 1)))
	defer testutil.ReleaseAll(groups)

	require.Len(t, groups, 1)
	require.Equal(t, []int64{0, 1, 2}, testutil.Int64Column(groups[0], 1))
}

func TestSplitEmptyInput(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	groups := split(t, mem, []int{0})
	require.Len(t, groups, 0)
}

func TestSplitCloseEarly(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s, err := NewSplitter(iterator.FromSlice([]arrow.Record{
		testutil.Int64Batch(mem, schema, []int64{1, 2, 2}, testutil.Seq(0, 3)),
		testutil.Int64Batch(mem, schema, []int64{2}, testutil.Seq(3, 1)),
	}), schema, []int{0}, mem)
	require.Nil(t, err)
	rec, err := s.Next()
	require.Nil(t, err)
	rec.Release()
	require.Nil(t, s.Close())
	require.Nil(t, s.Close())
	_, err = s.Next()
	require.Equal(t, io.EOF, err)
}

func TestSplitRejectsBadGroupingColumn(t *testing.T) {
	_, err := NewSplitter(iterator.Empty(), schema, []int{2}, nil)
	require.Error(t, err)
}
