// Package config holds the settings of a Sif UDF executor: how many tasks may use the accelerator at
// once, how its memory is divided between workers, how workers are launched and how the batch queue
// spills. Configuration is read from YAML and may be overridden with command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Semaphore SemaphoreConfig `yaml:"semaphore"`
	Memory    MemoryConfig    `yaml:"memory"`
	Device    DeviceConfig    `yaml:"device"`
	Worker    WorkerConfig    `yaml:"worker"`
	Queue     QueueConfig     `yaml:"queue"`
}

// SemaphoreConfig bounds concurrent use of the accelerator
type SemaphoreConfig struct {
	Enabled bool `yaml:"enabled"`
	// ConcurrentTasks is the maximum number of tasks holding a permit. Zero derives it from ExecutorCores / TaskCPUs.
	ConcurrentTasks int `yaml:"concurrent_tasks"`
	ExecutorCores   int `yaml:"executor_cores"`
	TaskCPUs        int `yaml:"task_cpus"`
}

// MemoryConfig controls how free device memory is partitioned between workers
type MemoryConfig struct {
	// Headroom is the fraction of free memory never handed to workers
	Headroom float64 `yaml:"headroom"`
	// ReservedFraction is the fraction of free memory reserved for other device users
	ReservedFraction float64 `yaml:"reserved_fraction"`
	// ConcurrentWorkers is the number of workers sharing the memory. Zero falls back to the semaphore bound.
	ConcurrentWorkers int `yaml:"concurrent_workers"`
	// PoolSize overrides the computed per-worker pool size when non-zero
	PoolSize         datasize.ByteSize `yaml:"pool_size"`
	PooledMemEnabled bool              `yaml:"pooled_mem_enabled"`
	UVMEnabled       bool              `yaml:"uvm_enabled"`
}

// DeviceConfig describes the accelerator assigned to this process
type DeviceConfig struct {
	Enabled bool `yaml:"enabled"`
	ID      int  `yaml:"id"`
	// FreeMemory is the free device memory reported to the partition calculator
	FreeMemory datasize.ByteSize `yaml:"free_memory"`
}

// WorkerConfig controls how workers are launched and fed
type WorkerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// MaxRecordsPerBatch caps the rows of each batch sent to a worker in scalar mode. Zero disables the cap.
	MaxRecordsPerBatch int               `yaml:"max_records_per_batch"`
	TimeZone           string            `yaml:"time_zone"`
	Conf               map[string]string `yaml:"conf"`
	// StderrLimit bounds the worker stderr retained for error reports
	StderrLimit datasize.ByteSize `yaml:"stderr_limit"`
}

// QueueConfig controls spilling of retained key batches
type QueueConfig struct {
	// MemoryLimit is the in-memory footprint above which key batches spill to SpillDir. Zero disables spilling.
	MemoryLimit datasize.ByteSize `yaml:"memory_limit"`
	SpillDir    string            `yaml:"spill_dir"`
	// SpillCodec is one of "lz4" or "zstd"
	SpillCodec string `yaml:"spill_codec"`
}

// RegisterFlags registers flags for every field, setting their defaults
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.LogLevel, "log.level", "info", "Only log messages with the given severity or above.")
	cfg.Semaphore.RegisterFlagsWithPrefix("semaphore.", f)
	cfg.Memory.RegisterFlagsWithPrefix("memory.", f)
	cfg.Device.RegisterFlagsWithPrefix("device.", f)
	cfg.Worker.RegisterFlagsWithPrefix("worker.", f)
	cfg.Queue.RegisterFlagsWithPrefix("queue.", f)
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *SemaphoreConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"enabled", true, "Bound the number of tasks using the accelerator concurrently.")
	f.IntVar(&cfg.ConcurrentTasks, prefix+"concurrent-tasks", 0, "Maximum number of tasks using the accelerator at once. 0 derives it from executor cores and task CPUs.")
	f.IntVar(&cfg.ExecutorCores, prefix+"executor-cores", defaultExecutorCores(), "Number of CPU execution slots in this executor.")
	f.IntVar(&cfg.TaskCPUs, prefix+"task-cpus", 1, "Number of CPU slots reserved by each task.")
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *MemoryConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.Float64Var(&cfg.Headroom, prefix+"headroom", 0.02, "Fraction of free device memory withheld from workers.")
	f.Float64Var(&cfg.ReservedFraction, prefix+"reserved-fraction", 0, "Fraction of free device memory reserved for other users of the device.")
	f.IntVar(&cfg.ConcurrentWorkers, prefix+"concurrent-workers", 0, "Number of workers sharing device memory. 0 uses the semaphore bound.")
	f.Var(byteSizeValue{&cfg.PoolSize}, prefix+"pool-size", "Per-worker pool size. 0 computes it from free device memory.")
	f.BoolVar(&cfg.PooledMemEnabled, prefix+"pooled", true, "Let workers use a pooled device allocator.")
	f.BoolVar(&cfg.UVMEnabled, prefix+"uvm", false, "Let workers use unified virtual memory.")
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *DeviceConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"enabled", true, "Run workers with accelerator support.")
	f.IntVar(&cfg.ID, prefix+"id", 0, "Accelerator device assigned to this process.")
	f.Var(byteSizeValue{&cfg.FreeMemory}, prefix+"free-memory", "Free device memory available to this process.")
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *WorkerConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Command, prefix+"command", "sifudf-worker", "Worker executable.")
	f.IntVar(&cfg.MaxRecordsPerBatch, prefix+"max-records-per-batch", 10000, "Maximum rows per batch sent to a scalar worker. 0 disables the cap.")
	f.StringVar(&cfg.TimeZone, prefix+"time-zone", "UTC", "Session time zone passed to workers.")
	cfg.StderrLimit = 64 * datasize.KB
	f.Var(byteSizeValue{&cfg.StderrLimit}, prefix+"stderr-limit", "Maximum worker stderr retained for error reports.")
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *QueueConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.Var(byteSizeValue{&cfg.MemoryLimit}, prefix+"memory-limit", "In-memory size of retained key batches above which they spill to disk. 0 disables spilling.")
	f.StringVar(&cfg.SpillDir, prefix+"spill-dir", os.TempDir(), "Directory for spilled key batches.")
	f.StringVar(&cfg.SpillCodec, prefix+"spill-codec", "lz4", "Compression for spilled key batches: lz4 or zstd.")
}

// Validate checks the configuration for values the executor cannot work with
func (cfg *Config) Validate() error {
	if cfg.Semaphore.TaskCPUs <= 0 {
		return fmt.Errorf("semaphore.task_cpus must be greater than 0")
	}
	if cfg.Semaphore.ConcurrentTasks < 0 {
		return fmt.Errorf("semaphore.concurrent_tasks must not be negative")
	}
	if cfg.Memory.Headroom < 0 || cfg.Memory.Headroom >= 1 {
		return fmt.Errorf("memory.headroom must be in [0, 1)")
	}
	if cfg.Memory.ReservedFraction < 0 || cfg.Memory.ReservedFraction >= 1 {
		return fmt.Errorf("memory.reserved_fraction must be in [0, 1)")
	}
	if cfg.Worker.MaxRecordsPerBatch < 0 {
		return fmt.Errorf("worker.max_records_per_batch must not be negative")
	}
	switch cfg.Queue.SpillCodec {
	case "lz4", "zstd":
	default:
		return fmt.Errorf("queue.spill_codec must be lz4 or zstd, got %q", cfg.Queue.SpillCodec)
	}
	return nil
}

// SlotRatio returns executor cores divided by per-task CPUs, and never less than 1. It is the
// concurrency fallback used whenever no explicit bound is configured.
func (cfg *SemaphoreConfig) SlotRatio() int {
	if cfg.TaskCPUs <= 0 {
		return 1
	}
	n := cfg.ExecutorCores / cfg.TaskCPUs
	if n < 1 {
		return 1
	}
	return n
}

// Bound returns the maximum number of concurrent permits
func (cfg *SemaphoreConfig) Bound() int {
	if cfg.ConcurrentTasks > 0 {
		return cfg.ConcurrentTasks
	}
	return cfg.SlotRatio()
}

// Default returns a Config populated with flag defaults
func Default() *Config {
	cfg := &Config{}
	cfg.RegisterFlags(flag.NewFlagSet("defaults", flag.ContinueOnError))
	return cfg
}

// Load reads a YAML configuration file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

func defaultExecutorCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// byteSizeValue adapts a datasize.ByteSize to flag.Value
type byteSizeValue struct{ b *datasize.ByteSize }

func (v byteSizeValue) String() string {
	if v.b == nil {
		return "0"
	}
	return v.b.String()
}

func (v byteSizeValue) Set(s string) error {
	return v.b.UnmarshalText([]byte(s))
}
