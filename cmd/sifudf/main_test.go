package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/go-sif/sifudf/internal/iterator"
	"github.com/go-sif/sifudf/internal/testutil"
)

func TestWriteOutputSkipsEmptyPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-00000.arrows")
	require.Nil(t, writeOutput(iterator.Empty(), path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestWriteOutputReadsBack(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	schema := testutil.Int64Schema("k", "total")
	path := filepath.Join(t.TempDir(), "part-00001.arrows")
	err := writeOutput(iterator.FromSlice([]arrow.Record{
		testutil.Int64Batch(mem, schema, []int64{1, 2}, []int64{10, 20}),
		testutil.Int64Batch(mem, schema, []int64{3}, []int64{30}),
	}), path)
	require.Nil(t, err)

	f, err := os.Open(path)
	require.Nil(t, err)
	it, readSchema, err := iterator.FromIPC(f, mem)
	require.Nil(t, err)
	require.True(t, readSchema.Equal(schema))
	out, err := iterator.Drain(it)
	require.Nil(t, err)
	defer testutil.ReleaseAll(out)
	require.Len(t, out, 2)
	require.Equal(t, []int64{30}, testutil.Int64Column(out[1], 1))
}
