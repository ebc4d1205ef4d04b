// Package resource arbitrates access to the accelerator shared by every task in the process and
// divides its memory between the workers those tasks launch
package resource

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/go-sif/sifudf"
	"github.com/go-sif/sifudf/logging"
)

// Semaphore bounds how many tasks use the accelerator at once. A nil *Semaphore never blocks.
type Semaphore struct {
	sem     *semaphore.Weighted
	limit   int
	lock    sync.Mutex
	holders map[string]*Permit
	logger  log.Logger
}

// Permit is one task's lease on the accelerator
type Permit struct {
	sem    *Semaphore
	taskID string
	owner  bool
	once   sync.Once
	waited time.Duration

	// ready is closed once an owning Permit's acquisition has succeeded or failed
	ready    chan struct{}
	acquired bool
}

// NewSemaphore creates a Semaphore admitting limit concurrent tasks
func NewSemaphore(limit int, logger log.Logger) *Semaphore {
	if limit < 1 {
		limit = 1
	}
	return &Semaphore{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   limit,
		holders: make(map[string]*Permit),
		logger:  logging.OrNop(logger),
	}
}

// Limit returns the maximum number of concurrent permit holders
func (s *Semaphore) Limit() int {
	if s == nil {
		return 0
	}
	return s.limit
}

// AcquireIfNecessary blocks until the task may use the accelerator, or the task is cancelled.
// If the task already holds a permit, the returned Permit is a borrowed view whose Release does
// nothing; the task's original Permit still governs the lease. Concurrent calls for one task
// take a single permit between them.
func (s *Semaphore) AcquireIfNecessary(tc sifudf.TaskContext) (*Permit, error) {
	if s == nil {
		return &Permit{taskID: tc.TaskID()}, nil
	}
	for {
		s.lock.Lock()
		held, ok := s.holders[tc.TaskID()]
		if !ok {
			break
		}
		s.lock.Unlock()
		select {
		case <-held.ready:
		case <-tc.Done():
			return nil, errors.Wrapf(tc.Err(), "task %s waiting for accelerator", tc.TaskID())
		}
		if held.acquired {
			return &Permit{sem: s, taskID: tc.TaskID()}, nil
		}
		// the caller holding the pending entry gave up, so try again
	}
	p := &Permit{sem: s, taskID: tc.TaskID(), owner: true, ready: make(chan struct{})}
	s.holders[tc.TaskID()] = p
	s.lock.Unlock()

	start := time.Now()
	err := s.sem.Acquire(tc, 1)
	s.lock.Lock()
	if err != nil {
		delete(s.holders, tc.TaskID())
	} else {
		p.acquired = true
		p.waited = time.Since(start)
	}
	s.lock.Unlock()
	close(p.ready)
	if err != nil {
		return nil, errors.Wrapf(err, "task %s waiting for accelerator", tc.TaskID())
	}
	level.Debug(s.logger).Log("msg", "acquired accelerator permit", "task", tc.TaskID(), "partition", tc.PartitionID(), "waited", p.waited)
	return p, nil
}

// Holders returns the number of tasks currently holding a permit
func (s *Semaphore) Holders() int {
	if s == nil {
		return 0
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, p := range s.holders {
		if p.acquired {
			n++
		}
	}
	return n
}

// Release ends the lease. It is safe to call more than once.
func (p *Permit) Release() {
	if p == nil || !p.owner {
		return
	}
	p.once.Do(func() {
		p.sem.lock.Lock()
		delete(p.sem.holders, p.taskID)
		p.sem.lock.Unlock()
		p.sem.sem.Release(1)
		level.Debug(p.sem.logger).Log("msg", "released accelerator permit", "task", p.taskID)
	})
}

// Waited returns how long the task blocked before acquiring this Permit
func (p *Permit) Waited() time.Duration {
	if p == nil {
		return 0
	}
	return p.waited
}
