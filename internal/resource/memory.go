package resource

import (
	"math"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/go-sif/sifudf/config"
	siferrors "github.com/go-sif/sifudf/errors"
	"github.com/go-sif/sifudf/logging"
)

// WorkerMemory is the device memory budget handed to each worker
type WorkerMemory struct {
	PoolBytes    uint64
	MaxPoolBytes uint64
	Workers      int
}

// WorkerConcurrency returns the number of workers assumed to share device memory: the configured
// worker count, else the semaphore bound, else the ratio of CPU slots to per-task CPUs.
func WorkerConcurrency(mem config.MemoryConfig, sem config.SemaphoreConfig) int {
	if mem.ConcurrentWorkers > 0 {
		return mem.ConcurrentWorkers
	}
	if sem.Enabled {
		return sem.Bound()
	}
	return sem.SlotRatio()
}

// PartitionMemory computes floor((1 - headroom - reserved) * free / workers). It returns 0 if
// the fractions leave nothing for workers.
func PartitionMemory(free uint64, headroom, reserved float64, workers int) uint64 {
	if workers < 1 {
		workers = 1
	}
	frac := 1 - headroom - reserved
	if frac <= 0 {
		return 0
	}
	return uint64(math.Floor(frac * float64(free) / float64(workers)))
}

// ComputeWorkerMemory derives each worker's pool from free device memory. Demand in excess of
// free memory is logged as a warning and otherwise allowed through: the device allocator, not
// this calculation, enforces the hard limit.
func ComputeWorkerMemory(free uint64, mem config.MemoryConfig, sem config.SemaphoreConfig, logger log.Logger) WorkerMemory {
	workers := WorkerConcurrency(mem, sem)
	pool := PartitionMemory(free, mem.Headroom, mem.ReservedFraction, workers)
	if mem.PoolSize > 0 {
		pool = mem.PoolSize.Bytes()
	}
	if demand, ok := TotalDemand(free, pool, workers, mem.Headroom, mem.ReservedFraction); !ok {
		shortfall := siferrors.ResourceExhaustionError{Requested: demand, Available: free}
		level.Warn(logging.OrNop(logger)).Log("msg", "worker memory demand exceeds free device memory",
			"workers", workers, "pool", humanize.IBytes(pool), "free", humanize.IBytes(free),
			"shortfall", humanize.IBytes(shortfall.Shortfall()), "err", shortfall)
	}
	return WorkerMemory{PoolBytes: pool, MaxPoolBytes: pool, Workers: workers}
}

// TotalDemand returns the device memory needed by workers pools plus the withheld fractions,
// and whether that fits in free
func TotalDemand(free, pool uint64, workers int, headroom, reserved float64) (uint64, bool) {
	withheld := uint64(math.Floor(math.Max(headroom+reserved, 0) * float64(free)))
	demand := pool*uint64(workers) + withheld
	return demand, demand <= free
}
