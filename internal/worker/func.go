package worker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pkg/errors"

	"github.com/go-sif/sifudf"
	siferrors "github.com/go-sif/sifudf/errors"
)

// WorkerFunc is the body of a worker: it reads the call's input batches from in and passes
// each result batch to emit. emit does not take ownership of the batch it is given.
type WorkerFunc func(ctx context.Context, hdr Header, in sifudf.BatchIterator, emit func(arrow.Record) error) error

// FuncLauncher runs worker calls in-process, each on its own goroutine
type FuncLauncher struct {
	Name string
	Fn   WorkerFunc
	// OnLaunch, if set, observes the environment of every launch
	OnLaunch func(env []string)

	launches int32
}

// Launches returns the number of worker calls started so far
func (l *FuncLauncher) Launches() int {
	return int(atomic.LoadInt32(&l.launches))
}

// Launch starts fn on a new goroutine
func (l *FuncLauncher) Launch(ctx context.Context, schema *arrow.Schema, env []string) (Channel, error) {
	hdr, err := ReadHeader(schema)
	if err != nil {
		return nil, err
	}
	id := atomic.AddInt32(&l.launches, 1)
	if l.OnLaunch != nil {
		l.OnLaunch(env)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &funcChannel{
		name:     fmt.Sprintf("%s#%d", l.Name, id),
		cancel:   cancel,
		in:       make(chan arrow.Record),
		results:  make(chan arrow.Record),
		finished: make(chan struct{}),
	}
	go c.run(ctx, hdr, l.Fn)
	return c, nil
}

type funcChannel struct {
	name   string
	cancel context.CancelFunc

	in      chan arrow.Record
	results chan arrow.Record
	// finished is closed once the WorkerFunc has returned, after err is set
	finished chan struct{}
	err      error

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func (c *funcChannel) run(ctx context.Context, hdr Header, fn WorkerFunc) {
	in := &chanIterator{ctx: ctx, in: c.in}
	emit := func(rec arrow.Record) error {
		rec.Retain()
		select {
		case c.results <- rec:
			return nil
		case <-ctx.Done():
			rec.Release()
			return ctx.Err()
		}
	}
	err := fn(ctx, hdr, in, emit)
	in.Close()
	if err != nil {
		c.err = siferrors.WorkerFailureError{Worker: c.name, Cause: err}
	}
	close(c.finished)
	close(c.results)
}

func (c *funcChannel) Send(rec arrow.Record) error {
	rec.Retain()
	select {
	case c.in <- rec:
		return nil
	case <-c.finished:
		rec.Release()
		if c.err != nil {
			return c.err
		}
		return siferrors.WorkerFailureError{Worker: c.name, Cause: errors.New("worker stopped reading its input")}
	}
}

func (c *funcChannel) CloseSend() error {
	c.closeSendOnce.Do(func() { close(c.in) })
	return nil
}

func (c *funcChannel) Receive() (arrow.Record, error) {
	rec, ok := <-c.results
	if ok {
		return rec, nil
	}
	if c.err != nil {
		return nil, c.err
	}
	return nil, io.EOF
}

func (c *funcChannel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		for rec := range c.results {
			rec.Release()
		}
	})
	return nil
}

// chanIterator feeds a WorkerFunc from the batches passed to Send
type chanIterator struct {
	ctx    context.Context
	in     <-chan arrow.Record
	closed bool
}

func (it *chanIterator) Next() (arrow.Record, error) {
	if it.closed {
		return nil, io.EOF
	}
	select {
	case rec, ok := <-it.in:
		if !ok {
			it.closed = true
			return nil, io.EOF
		}
		return rec, nil
	case <-it.ctx.Done():
		return nil, it.ctx.Err()
	}
}

// Close releases batches sent but never read, without waiting for the sender to finish
func (it *chanIterator) Close() error {
	it.closed = true
	for {
		select {
		case rec, ok := <-it.in:
			if !ok {
				return nil
			}
			rec.Release()
		default:
			return nil
		}
	}
}
