// Command sifudf evaluates UDFs over Arrow IPC files with external workers. Each input file is
// one partition; its output is written to the output directory as part-NNNNN.arrows.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/go-sif/sifudf"
	"github.com/go-sif/sifudf/config"
	"github.com/go-sif/sifudf/internal/iterator"
	"github.com/go-sif/sifudf/internal/pipeline"
	"github.com/go-sif/sifudf/internal/resource"
	"github.com/go-sif/sifudf/internal/stats"
	"github.com/go-sif/sifudf/internal/worker"
	"github.com/go-sif/sifudf/logging"
)

// columnList is a flag holding comma-separated column positions
type columnList []int

func (c *columnList) String() string {
	parts := make([]string, len(*c))
	for i, v := range *c {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (c *columnList) Set(s string) error {
	*c = nil
	if s == "" {
		return nil
	}
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("invalid column position %q", p)
		}
		*c = append(*c, v)
	}
	return nil
}

// udfList is a repeatable flag of name=col,col,... UDF definitions
type udfList []sifudf.UDF

func (u *udfList) String() string {
	parts := make([]string, len(*u))
	for i, udf := range *u {
		parts[i] = udf.Name
	}
	return strings.Join(parts, ";")
}

func (u *udfList) Set(s string) error {
	name, cols, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("UDF must be given as name=col,col,..., got %q", s)
	}
	var args columnList
	if err := args.Set(cols); err != nil {
		return err
	}
	udf := sifudf.UDF{Name: name}
	for _, c := range args {
		udf.Args = append(udf.Args, sifudf.ColumnRef{Index: c})
	}
	*u = append(*u, udf)
	return nil
}

type options struct {
	configFile  string
	evalType    string
	udfs        udfList
	keyCols     columnList
	groupCols   columnList
	outputDir   string
	metricsAddr string
}

func main() {
	cfg := &config.Config{}
	opts := &options{}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cfg.RegisterFlags(fs)
	fs.StringVar(&opts.configFile, "config.file", "", "YAML configuration file. Flags override its values.")
	fs.StringVar(&opts.evalType, "eval-type", "scalar", "One of scalar, grouped_agg, grouped_window or grouped_map.")
	fs.Var(&opts.udfs, "udf", "UDF as name=col,col,... over input column positions. Repeatable.")
	fs.Var(&opts.keyCols, "key-columns", "Input columns kept alongside scalar and window results.")
	fs.Var(&opts.groupCols, "grouping-columns", "Input columns identifying groups.")
	fs.StringVar(&opts.outputDir, "output-dir", ".", "Directory receiving one output file per input file.")
	fs.StringVar(&opts.metricsAddr, "metrics.addr", "", "Serve Prometheus metrics on this address while running.")
	fs.Parse(os.Args[1:])

	if opts.configFile != "" {
		loaded, err := config.Load(opts.configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		*cfg = *loaded
		// flags given on the command line win over the file
		fs.Parse(os.Args[1:])
	}

	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, lvl)
	level.Info(logger).Log("msg", "logging configured", "level", logging.LogLevelToString(lvl))
	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, opts, fs.Args(), logger); err != nil {
		level.Error(logger).Log("msg", "evaluation failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options, inputs []string, logger log.Logger) error {
	evalType, err := sifudf.ParseEvalType(opts.evalType)
	if err != nil {
		return err
	}
	if len(opts.udfs) == 0 {
		return fmt.Errorf("at least one -udf is required")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := stats.NewCollector(reg)
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				level.Warn(logger).Log("msg", "metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	var sem *resource.Semaphore
	if cfg.Semaphore.Enabled {
		sem = resource.NewSemaphore(cfg.Semaphore.Bound(), logger)
	}
	launcher := &worker.ProcessLauncher{
		Command:     cfg.Worker.Command,
		Args:        cfg.Worker.Args,
		StderrLimit: int(cfg.Worker.StderrLimit.Bytes()),
		Logger:      logger,
	}
	mem := memory.NewGoAllocator()
	runner := worker.NewRunner(launcher, sem, resource.NewStaticDevice(cfg.Device), cfg, mem, logger)
	p := pipeline.New(runner, cfg, afero.NewOsFs(), collector, mem, logger)

	call := &worker.Call{
		EvalType:        evalType,
		UDFs:            opts.udfs,
		KeyColumns:      opts.keyCols,
		GroupingColumns: opts.groupCols,
	}
	level.Info(logger).Log("msg", "evaluating", "eval_type", evalType, "udfs", opts.udfs.String(), "partitions", len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Semaphore.SlotRatio())
	for i, path := range inputs {
		i, path := i, path
		g.Go(func() error {
			out := filepath.Join(opts.outputDir, fmt.Sprintf("part-%05d.arrows", i))
			return errors.Wrapf(runPartition(gctx, p, call, i, path, out, mem), "partition %d (%s)", i, path)
		})
	}
	return g.Wait()
}

func runPartition(ctx context.Context, p *pipeline.Pipeline, call *worker.Call, partition int, inPath, outPath string, mem memory.Allocator) error {
	f, err := os.Open(inPath)
	if err != nil {
		return err
	}
	input, schema, err := iterator.FromIPC(f, mem)
	if err != nil {
		f.Close()
		return err
	}
	plan := &pipeline.Plan{Call: call, InputSchema: schema}
	tc := sifudf.NewTaskContext(ctx, partition)
	return p.Run(tc, input, plan, func(it sifudf.BatchIterator) error {
		return writeOutput(it, outPath)
	})
}

// writeOutput writes it to path as an Arrow IPC stream. The file is created with the first
// batch, so a partition without output leaves no file behind.
func writeOutput(it sifudf.BatchIterator, path string) (err error) {
	var (
		f *os.File
		w *ipc.Writer
	)
	defer func() {
		if f == nil {
			return
		}
		if w != nil {
			if werr := w.Close(); err == nil {
				err = werr
			}
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		rec, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if w == nil {
			if f, err = os.Create(path); err != nil {
				rec.Release()
				return err
			}
			w = ipc.NewWriter(f, ipc.WithSchema(rec.Schema()))
		}
		err = w.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
}
