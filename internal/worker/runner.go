package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/go-sif/sifudf"
	"github.com/go-sif/sifudf/config"
	siferrors "github.com/go-sif/sifudf/errors"
	"github.com/go-sif/sifudf/internal/batchqueue"
	"github.com/go-sif/sifudf/internal/iterator"
	"github.com/go-sif/sifudf/internal/resource"
	"github.com/go-sif/sifudf/internal/stats"
	"github.com/go-sif/sifudf/internal/util"
	"github.com/go-sif/sifudf/logging"
)

// Call describes one UDF evaluation over a partition
type Call struct {
	EvalType sifudf.EvalType
	UDFs     []sifudf.UDF
	// KeyColumns are retained from every input row of a scalar or window call and bound to its results
	KeyColumns []int
	// GroupingColumns identify groups. A grouped aggregate retains them from the first row of each group.
	GroupingColumns []int
	// ResultSchema is the schema a grouped map worker must produce. If nil, any schema is accepted.
	ResultSchema *arrow.Schema
}

// Runner launches workers for tasks and streams their partitions through them
type Runner struct {
	launcher Launcher
	sem      *resource.Semaphore
	device   resource.Device
	cfg      *config.Config
	mem      memory.Allocator
	logger   log.Logger
}

// NewRunner creates a Runner. sem and device may be nil, in which case no permit is taken and no
// device budget is passed to workers.
func NewRunner(launcher Launcher, sem *resource.Semaphore, device resource.Device, cfg *config.Config, mem memory.Allocator, logger log.Logger) *Runner {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Runner{
		launcher: launcher,
		sem:      sem,
		device:   device,
		cfg:      cfg,
		mem:      mem,
		logger:   logging.OrNop(logger),
	}
}

// Compute streams input through a worker evaluating call, and returns the worker's results.
//
// For combining calls, the key batch of each group is added to queue before the group is sent,
// and queue is finished once the input is exhausted. The returned iterator owns input and the
// task's accelerator permit, and releases both on Close. An empty input launches no worker.
func (r *Runner) Compute(tc sifudf.TaskContext, input sifudf.BatchIterator, call *Call, queue *batchqueue.Queue, tm *stats.TaskMetrics) (sifudf.BatchIterator, error) {
	if call.EvalType.Combines() && queue == nil {
		input.Close()
		return nil, fmt.Errorf("%s call requires a batch queue", call.EvalType)
	}
	finishQueue := func() {
		if queue != nil {
			queue.Finish()
		}
	}
	in := iterator.NewPeeking(input)
	first, err := in.Peek()
	if err == io.EOF {
		finishQueue()
		if err := in.Close(); err != nil {
			return nil, err
		}
		return iterator.Empty(), nil
	} else if err != nil {
		finishQueue()
		in.Close()
		return nil, err
	}

	binding := BindArguments(call.UDFs)
	fields, err := binding.Fields(first.Schema())
	if err != nil {
		finishQueue()
		in.Close()
		return nil, err
	}
	hdr := Header{
		EvalType:   call.EvalType,
		ArgOffsets: binding.Offsets,
		UDFNames:   make([]string, len(call.UDFs)),
		TimeZone:   r.cfg.Worker.TimeZone,
		Conf:       r.cfg.Worker.Conf,
	}
	for i, udf := range call.UDFs {
		hdr.UDFNames[i] = udf.Name
	}
	if call.EvalType == sifudf.EvalScalar {
		hdr.BatchRows = r.cfg.Worker.MaxRecordsPerBatch
	}
	argSchema, err := hdr.Schema(fields)
	if err != nil {
		finishQueue()
		in.Close()
		return nil, err
	}

	permit, err := r.sem.AcquireIfNecessary(tc)
	if err != nil {
		finishQueue()
		in.Close()
		return nil, err
	}
	tm.SemaphoreWait += permit.Waited()

	env, err := r.workerEnv()
	if err != nil {
		finishQueue()
		in.Close()
		permit.Release()
		return nil, err
	}

	ctx, cancel := context.WithCancel(tc)
	g, gctx := errgroup.WithContext(ctx)
	ch, err := r.launcher.Launch(gctx, argSchema, env)
	if err != nil {
		cancel()
		finishQueue()
		in.Close()
		permit.Release()
		return nil, err
	}
	tm.WorkerLaunched = true
	level.Debug(r.logger).Log("msg", "launched worker", "task", tc.TaskID(), "partition", tc.PartitionID(), "eval_type", call.EvalType)

	s := &sender{
		ch:        ch,
		call:      call,
		binding:   binding,
		argSchema: argSchema,
		queue:     queue,
		cap:       int64(hdr.BatchRows),
		mem:       r.mem,
		tm:        tm,
	}
	g.Go(func() error {
		defer finishQueue()
		return s.run(gctx, in)
	})
	return &resultIterator{
		ch:     ch,
		g:      g,
		gctx:   gctx,
		cancel: cancel,
		input:  in,
		permit: permit,
		call:   call,
		tm:     tm,
	}, nil
}

func (r *Runner) workerEnv() ([]string, error) {
	if r.device == nil {
		return nil, nil
	}
	free, err := r.device.FreeMemory()
	if err != nil {
		return nil, errors.Wrap(err, "querying device memory")
	}
	wm := resource.ComputeWorkerMemory(free, r.cfg.Memory, r.cfg.Semaphore, r.logger)
	return resource.WorkerEnv(r.device, r.cfg.Device.Enabled, r.cfg.Memory, wm), nil
}

// sender feeds a worker from the goroutine started by Compute
type sender struct {
	ch        Channel
	call      *Call
	binding   *ArgumentBinding
	argSchema *arrow.Schema
	queue     *batchqueue.Queue
	cap       int64
	mem       memory.Allocator
	tm        *stats.TaskMetrics
}

func (s *sender) run(ctx context.Context, in sifudf.BatchIterator) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := in.Next()
		if err == io.EOF {
			return s.ch.CloseSend()
		} else if err != nil {
			return err
		}
		err = s.sendBatch(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
}

// sendBatch sends rec, sliced to the worker's batch limit
func (s *sender) sendBatch(rec arrow.Record) error {
	rows := rec.NumRows()
	if rows == 0 {
		return nil
	}
	if s.cap <= 0 || rows <= s.cap {
		return s.sendGroup(rec)
	}
	for start := int64(0); start < rows; start += s.cap {
		end := start + s.cap
		if end > rows {
			end = rows
		}
		piece := rec.NewSlice(start, end)
		err := s.sendGroup(piece)
		piece.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sender) sendGroup(rec arrow.Record) error {
	if s.call.EvalType.Combines() {
		key, err := s.keyBatch(rec)
		if err != nil {
			return err
		}
		// the key must be queued before its group can produce results
		if err := s.queue.Add(key); err != nil {
			return err
		}
	}
	args, err := s.binding.Evaluate(rec, s.argSchema, s.mem)
	if err != nil {
		return err
	}
	defer args.Release()
	if err := s.ch.Send(args); err != nil {
		return err
	}
	s.tm.GroupsSent++
	s.tm.WorkerRowsSent += rec.NumRows()
	return nil
}

// keyBatch returns the columns of rec retained for combination with its results
func (s *sender) keyBatch(rec arrow.Record) (arrow.Record, error) {
	if s.call.EvalType != sifudf.EvalGroupedAgg {
		return util.SelectColumns(rec, s.call.KeyColumns)
	}
	grouping, err := util.SelectColumns(rec, s.call.GroupingColumns)
	if err != nil {
		return nil, err
	}
	defer grouping.Release()
	// copied so the queue does not pin the whole group's buffers
	first := grouping.NewSlice(0, 1)
	defer first.Release()
	return util.ConcatRecords([]arrow.Record{first}, s.mem)
}

// resultIterator yields a worker's results and tears the call down on Close
type resultIterator struct {
	ch     Channel
	g      *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
	input  sifudf.BatchIterator
	permit *resource.Permit
	call   *Call
	tm     *stats.TaskMetrics

	err    error
	closed bool
}

func (it *resultIterator) Next() (arrow.Record, error) {
	if it.err != nil {
		return nil, it.err
	}
	rec, err := it.ch.Receive()
	if err == io.EOF {
		// the worker is done, but the input may have failed before reaching its end
		if serr := it.g.Wait(); serr != nil {
			it.err = serr
			return nil, serr
		}
		it.err = io.EOF
		return nil, io.EOF
	} else if err != nil {
		it.err = it.failure(err)
		return nil, it.err
	}
	if err := it.validate(rec); err != nil {
		rec.Release()
		it.err = err
		return nil, err
	}
	it.tm.WorkerBatchesReceived++
	it.tm.WorkerRowsReceived += rec.NumRows()
	return rec, nil
}

// failure picks the error to report when receiving fails. If the sending side had already
// failed, the worker was stopped on its account and the sender's error is the cause.
func (it *resultIterator) failure(recvErr error) error {
	senderFailed := it.gctx.Err() != nil
	it.cancel()
	serr := it.g.Wait()
	if senderFailed && serr != nil {
		return serr
	}
	return recvErr
}

func (it *resultIterator) validate(rec arrow.Record) error {
	malformed := func(format string, args ...interface{}) error {
		return siferrors.WorkerFailureError{Worker: it.call.EvalType.String(), Cause: fmt.Errorf(format, args...)}
	}
	if it.call.EvalType.Combines() {
		if int(rec.NumCols()) != len(it.call.UDFs) {
			return malformed("returned %d columns for %d UDFs", rec.NumCols(), len(it.call.UDFs))
		}
		for i, udf := range it.call.UDFs {
			if udf.ResultType != nil && !arrow.TypeEqual(rec.Column(i).DataType(), udf.ResultType) {
				return malformed("returned %s for UDF %s, expected %s", rec.Column(i).DataType(), udf.Name, udf.ResultType)
			}
		}
		return nil
	}
	if expected := it.call.ResultSchema; expected != nil {
		if rec.Schema().NumFields() != expected.NumFields() {
			return malformed("returned %d columns, expected %d", rec.Schema().NumFields(), expected.NumFields())
		}
		for i, f := range expected.Fields() {
			if !arrow.TypeEqual(rec.Schema().Field(i).Type, f.Type) {
				return malformed("returned %s for column %s, expected %s", rec.Schema().Field(i).Type, f.Name, f.Type)
			}
		}
	}
	return nil
}

// Close stops the worker, waits for the sending goroutine, closes the input and releases the permit
func (it *resultIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.cancel()
	var result *multierror.Error
	if err := it.ch.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	// the sender's error has already been reported by Next, if it mattered
	it.g.Wait()
	if err := it.input.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	it.permit.Release()
	return result.ErrorOrNil()
}
