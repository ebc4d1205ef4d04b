package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sif/sifudf"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	const limit = 3
	sem := NewSemaphore(limit, nil)
	var active, peak int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			tc := sifudf.NewTaskContext(context.Background(), i)
			p, err := sem.AcquireIfNecessary(tc)
			if err != nil {
				return err
			}
			defer p.Release()
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
	}
	require.Nil(t, g.Wait())
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	require.Equal(t, 0, sem.Holders())
}

func TestSemaphoreReleasedWhenTaskFails(t *testing.T) {
	sem := NewSemaphore(1, nil)
	failing := func(tc sifudf.TaskContext) (err error) {
		p, err := sem.AcquireIfNecessary(tc)
		if err != nil {
			return err
		}
		defer p.Release()
		return fmt.Errorf("task failed mid-computation")
	}
	for i := 0; i < 3; i++ {
		require.Error(t, failing(sifudf.NewTaskContext(context.Background(), i)))
	}
	require.Equal(t, 0, sem.Holders())
}

func TestSemaphoreReacquireIsNoOp(t *testing.T) {
	sem := NewSemaphore(1, nil)
	tc := sifudf.NewTaskContext(context.Background(), 0)
	p1, err := sem.AcquireIfNecessary(tc)
	require.Nil(t, err)
	// would deadlock with a limit of 1 if this acquired a second permit
	p2, err := sem.AcquireIfNecessary(tc)
	require.Nil(t, err)
	p2.Release()
	require.Equal(t, 1, sem.Holders())
	p1.Release()
	p1.Release()
	require.Equal(t, 0, sem.Holders())
}

func TestSemaphoreCancelledWhileWaiting(t *testing.T) {
	sem := NewSemaphore(1, nil)
	holder, err := sem.AcquireIfNecessary(sifudf.NewTaskContext(context.Background(), 0))
	require.Nil(t, err)
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		_, waitErr = sem.AcquireIfNecessary(sifudf.NewTaskContext(ctx, 1))
	}()
	cancel()
	wg.Wait()
	require.ErrorIs(t, waitErr, context.Canceled)
	require.Equal(t, 1, sem.Holders())
}

func TestNilSemaphoreNeverBlocks(t *testing.T) {
	var sem *Semaphore
	p, err := sem.AcquireIfNecessary(sifudf.NewTaskContext(context.Background(), 0))
	require.Nil(t, err)
	p.Release()
	require.Equal(t, 0, sem.Holders())
}

func TestSemaphoreConcurrentCallsShareOnePermit(t *testing.T) {
	sem := NewSemaphore(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tc := sifudf.NewTaskContext(ctx, 0)

	const callers = 8
	permits := make([]*Permit, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			p, err := sem.AcquireIfNecessary(tc)
			permits[i] = p
			return err
		})
	}
	// a second permit for the task would exhaust the limit of 1 and time out
	require.Nil(t, g.Wait())
	owners := 0
	for _, p := range permits {
		if p.owner {
			owners++
		}
	}
	require.Equal(t, 1, owners)
	require.Equal(t, 1, sem.Holders())
	for _, p := range permits {
		p.Release()
	}
	require.Equal(t, 0, sem.Holders())
}
