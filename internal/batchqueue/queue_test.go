package batchqueue

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	siferrors "github.com/go-sif/sifudf/errors"
	"github.com/go-sif/sifudf/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var keySchema = testutil.Int64Schema("key")

func TestQueueFIFO(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	q := New(Options{Allocator: mem})
	b1 := testutil.Int64Batch(mem, keySchema, []int64{1, 1})
	b2 := testutil.Int64Batch(mem, keySchema, []int64{2, 2, 2})
	require.Nil(t, q.Add(b1))
	require.Nil(t, q.Add(b2))
	require.Equal(t, 2, q.Len())

	size, err := q.PeekSize()
	require.Nil(t, err)
	require.Equal(t, int64(2), size)

	r1, err := q.Remove()
	require.Nil(t, err)
	require.Same(t, b1, r1)
	r1.Release()

	size, err = q.PeekSize()
	require.Nil(t, err)
	require.Equal(t, int64(3), size)
	r2, err := q.Remove()
	require.Nil(t, err)
	require.Same(t, b2, r2)
	r2.Release()

	require.Nil(t, q.Close())
}

func TestQueueEmpty(t *testing.T) {
	q := New(Options{})
	defer q.Close()
	_, err := q.Remove()
	require.ErrorAs(t, err, &siferrors.EmptyQueueError{})
	_, err = q.PeekSize()
	require.ErrorAs(t, err, &siferrors.EmptyQueueError{})
}

func TestQueueCloseAfterPartialConsumption(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	var retained int64
	q := New(Options{Allocator: mem, OnRetain: func(delta int64) { retained += delta }})
	for i := int64(0); i < 5; i++ {
		require.Nil(t, q.Add(testutil.Int64Batch(mem, keySchema, []int64{i})))
	}
	require.True(t, retained > 0)
	require.Equal(t, retained, q.RetainedBytes())
	rec, err := q.Remove()
	require.Nil(t, err)
	rec.Release()

	require.Nil(t, q.Close())
	require.Nil(t, q.Close()) // idempotent
	require.Equal(t, int64(0), retained)
	require.Equal(t, 0, q.Len())
}

func TestQueueFinish(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	q := New(Options{Allocator: mem})
	defer q.Close()
	require.False(t, q.Finished())
	q.Finish()
	require.True(t, q.Finished())
	err := q.Add(testutil.Int64Batch(mem, keySchema, []int64{1}))
	require.ErrorAs(t, err, &siferrors.QueueFinishedError{})
}

func TestQueueSpillPreservesOrder(t *testing.T) {
	for _, codec := range []Codec{LZ4Codec{}, ZstdCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			fs := afero.NewMemMapFs()
			spiller, err := NewDiskSpiller(fs, "/spill", codec, nil)
			require.Nil(t, err)
			// a limit of one byte spills every batch except the oldest
			q := New(Options{Allocator: mem, Spiller: spiller, MemoryLimit: 1})
			for i := int64(0); i < 4; i++ {
				require.Nil(t, q.Add(testutil.Int64Batch(mem, keySchema, testutil.Repeat(i, int(i)+1))))
			}
			require.Equal(t, 3, q.NumSpills())
			files, err := afero.ReadDir(fs, "/spill")
			require.Nil(t, err)
			require.Len(t, files, 3)

			for i := int64(0); i < 3; i++ {
				size, err := q.PeekSize()
				require.Nil(t, err)
				require.Equal(t, i+1, size)
				rec, err := q.Remove()
				require.Nil(t, err)
				require.Equal(t, testutil.Repeat(i, int(i)+1), testutil.Int64Column(rec, 0))
				rec.Release()
			}
			// the remaining spilled batch is discarded on close
			require.Nil(t, q.Close())
			files, err = afero.ReadDir(fs, "/spill")
			require.Nil(t, err)
			require.Len(t, files, 0)
		})
	}
}

func TestSpillDetectsCorruption(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	fs := afero.NewMemMapFs()
	spiller, err := NewDiskSpiller(fs, "/spill", LZ4Codec{}, nil)
	require.Nil(t, err)
	rec := testutil.Int64Batch(mem, keySchema, []int64{1, 2, 3})
	spilled, err := spiller.Spill(rec)
	rec.Release()
	require.Nil(t, err)

	sf := spilled.(*spilledFile)
	require.Nil(t, afero.WriteFile(fs, sf.path, []byte("garbage"), 0o644))
	_, err = spilled.Load(mem)
	require.Error(t, err)
	exists, err := afero.Exists(fs, sf.path)
	require.Nil(t, err)
	require.False(t, exists)
}
