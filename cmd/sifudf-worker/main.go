// Command sifudf-worker is the reference worker. It reads one call's Arrow IPC stream on stdin and
// writes its results to stdout: each UDF returns its first argument, or in a grouped aggregate
// the sum of that argument over the group.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log/level"

	"github.com/go-sif/sifudf/internal/resource"
	"github.com/go-sif/sifudf/internal/worker"
	"github.com/go-sif/sifudf/logging"
)

func main() {
	logLevel := flag.String("log.level", "warn", "Only log messages with the given severity or above.")
	flag.Parse()

	lvl, err := logging.ParseLevel(*logLevel)
	if err != nil {
		lvl = logging.WarnLevel
	}
	// stdout carries results, so logs go to stderr
	logger := logging.New(os.Stderr, lvl)
	level.Debug(logger).Log(
		"msg", "starting worker",
		"device", os.Getenv(resource.EnvDeviceID),
		"pool_size", os.Getenv(resource.EnvPoolSize),
		"pool_max_size", os.Getenv(resource.EnvPoolMaxSize),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(os.Stdout)
	mem := memory.NewGoAllocator()
	if err := worker.Serve(ctx, bufio.NewReader(os.Stdin), out, mem, worker.Reference(mem)); err != nil {
		level.Error(logger).Log("msg", "worker failed", "err", err)
		os.Exit(1)
	}
	if err := out.Flush(); err != nil {
		level.Error(logger).Log("msg", "flushing results", "err", err)
		os.Exit(1)
	}
}
