// Package pipeline assembles the stages which evaluate UDFs over one partition: grouping the
// input, feeding a worker while retaining key columns, and combining the worker's results with
// those keys
package pipeline

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/go-sif/sifudf"
	"github.com/go-sif/sifudf/config"
	"github.com/go-sif/sifudf/internal/batchqueue"
	"github.com/go-sif/sifudf/internal/combine"
	"github.com/go-sif/sifudf/internal/grouping"
	"github.com/go-sif/sifudf/internal/stats"
	"github.com/go-sif/sifudf/internal/worker"
	"github.com/go-sif/sifudf/logging"
)

// Plan describes the UDF evaluation applied to every partition
type Plan struct {
	Call        *worker.Call
	InputSchema *arrow.Schema
	// Projection maps combined batches, or a grouped map's results, onto the output schema. It may be nil.
	Projection *combine.Projection
}

// Pipeline executes a Plan over partitions
type Pipeline struct {
	runner    *worker.Runner
	cfg       *config.Config
	fs        afero.Fs
	collector *stats.Collector
	mem       memory.Allocator
	logger    log.Logger
}

// New creates a Pipeline. fs holds spilled key batches; collector may be nil.
func New(runner *worker.Runner, cfg *config.Config, fs afero.Fs, collector *stats.Collector, mem memory.Allocator, logger log.Logger) *Pipeline {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Pipeline{
		runner:    runner,
		cfg:       cfg,
		fs:        fs,
		collector: collector,
		mem:       mem,
		logger:    logging.OrNop(logger),
	}
}

// Task is the output of one partition's evaluation
type Task struct {
	tc        sifudf.TaskContext
	out       sifudf.BatchIterator
	queue     *batchqueue.Queue
	metrics   *stats.TaskMetrics
	collector *stats.Collector
	logger    log.Logger
	closed    bool
}

// Execute evaluates plan over input. The returned Task owns input, and must be closed
// whether or not it is fully consumed.
func (p *Pipeline) Execute(tc sifudf.TaskContext, input sifudf.BatchIterator, plan *Plan) (*Task, error) {
	tm := stats.NewTaskMetrics(tc.PartitionID())
	call := plan.Call
	var src sifudf.BatchIterator = &counting{it: input, rows: &tm.InputRows, batches: &tm.InputBatches}
	if call.EvalType.Grouped() {
		splitter, err := grouping.NewSplitter(src, plan.InputSchema, call.GroupingColumns, p.mem)
		if err != nil {
			src.Close()
			return nil, err
		}
		src = splitter
	}

	var queue *batchqueue.Queue
	if call.EvalType.Combines() {
		q, err := p.newQueue()
		if err != nil {
			src.Close()
			return nil, err
		}
		queue = q
	}

	results, err := p.runner.Compute(tc, src, call, queue, tm)
	if err != nil {
		if queue != nil {
			queue.Close()
		}
		return nil, err
	}
	var out sifudf.BatchIterator
	if queue != nil {
		out = combine.New(results, queue, plan.Projection, p.mem)
	} else {
		out = combine.PassThrough(results, plan.Projection)
	}
	level.Debug(p.logger).Log("msg", "executing task", "task", tc.TaskID(), "partition", tc.PartitionID(), "eval_type", call.EvalType)
	return &Task{
		tc:        tc,
		out:       &counting{it: out, rows: &tm.OutputRows, batches: &tm.OutputBatches},
		queue:     queue,
		metrics:   tm,
		collector: p.collector,
		logger:    p.logger,
	}, nil
}

// Run executes plan over input, passes the output to fn, and closes the Task however fn returns
func (p *Pipeline) Run(tc sifudf.TaskContext, input sifudf.BatchIterator, plan *Plan, fn func(sifudf.BatchIterator) error) error {
	t, err := p.Execute(tc, input, plan)
	if err != nil {
		return err
	}
	var result *multierror.Error
	if err := fn(t); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (p *Pipeline) newQueue() (*batchqueue.Queue, error) {
	opts := batchqueue.Options{
		Allocator:   p.mem,
		MemoryLimit: int64(p.cfg.Queue.MemoryLimit.Bytes()),
		OnRetain:    p.collector.QueueRetained,
	}
	if opts.MemoryLimit > 0 {
		codec, err := batchqueue.CodecByName(p.cfg.Queue.SpillCodec)
		if err != nil {
			return nil, err
		}
		spiller, err := batchqueue.NewDiskSpiller(p.fs, p.cfg.Queue.SpillDir, codec, p.logger)
		if err != nil {
			return nil, err
		}
		opts.Spiller = spiller
	}
	return batchqueue.New(opts), nil
}

// Next returns the next output batch. The caller owns it.
func (t *Task) Next() (arrow.Record, error) {
	return t.out.Next()
}

// Metrics returns the Task's metrics, which are complete once it is closed
func (t *Task) Metrics() *stats.TaskMetrics {
	return t.metrics
}

// Close tears down every stage, returns the accelerator permit and publishes the Task's metrics
func (t *Task) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.out.Close()
	if t.queue != nil {
		t.metrics.QueuePeakBytes = t.queue.PeakBytes()
		t.metrics.QueueSpills = t.queue.NumSpills()
	}
	t.metrics.Finish()
	t.collector.Observe(t.metrics)
	level.Debug(t.logger).Log(
		"msg", "finished task",
		"task", t.tc.TaskID(),
		"partition", t.tc.PartitionID(),
		"input_rows", t.metrics.InputRows,
		"output_rows", t.metrics.OutputRows,
		"groups", t.metrics.GroupsSent,
		"spills", t.metrics.QueueSpills,
		"duration", t.metrics.GetRuntime(),
	)
	return err
}
