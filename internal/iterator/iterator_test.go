package iterator

import (
	"bytes"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/go-sif/sifudf/internal/testutil"
)

var schema = testutil.Int64Schema("a")

func TestFromSliceCloseReleasesUnconsumed(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	it := FromSlice([]arrow.Record{
		testutil.Int64Batch(mem, schema, []int64{1}),
		testutil.Int64Batch(mem, schema, []int64{2}),
	})
	rec, err := it.Next()
	require.Nil(t, err)
	require.Equal(t, []int64{1}, testutil.Int64Column(rec, 0))
	rec.Release()
	require.Nil(t, it.Close())
	_, err = it.Next()
	require.Equal(t, io.EOF, err)
}

func TestPeeking(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	p := NewPeeking(FromSlice([]arrow.Record{
		testutil.Int64Batch(mem, schema, []int64{1}),
		testutil.Int64Batch(mem, schema, []int64{2}),
	}))
	empty, err := p.Empty()
	require.Nil(t, err)
	require.False(t, empty)
	peeked, err := p.Peek()
	require.Nil(t, err)
	first, err := p.Next()
	require.Nil(t, err)
	require.Same(t, peeked, first)
	first.Release()

	// closing with a batch peeked releases it
	_, err = p.Peek()
	require.Nil(t, err)
	require.Nil(t, p.Close())
}

func TestPeekingEmpty(t *testing.T) {
	p := NewPeeking(Empty())
	empty, err := p.Empty()
	require.Nil(t, err)
	require.True(t, empty)
	_, err = p.Next()
	require.Equal(t, io.EOF, err)
	require.Nil(t, p.Close())
}

func TestFromIPC(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	for _, vals := range [][]int64{{1, 2}, {3}} {
		rec := testutil.Int64Batch(mem, schema, vals)
		require.Nil(t, w.Write(rec))
		rec.Release()
	}
	require.Nil(t, w.Close())

	it, s, err := FromIPC(&buf, mem)
	require.Nil(t, err)
	require.True(t, s.Equal(schema))
	out, err := Drain(it)
	require.Nil(t, err)
	defer testutil.ReleaseAll(out)
	require.Len(t, out, 2)
	require.Equal(t, []int64{3}, testutil.Int64Column(out[1], 0))
}
