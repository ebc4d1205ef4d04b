package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	siferrors "github.com/go-sif/sifudf/errors"
	"github.com/go-sif/sifudf/logging"
)

// ProcessLauncher runs each worker call as a child process which reads an Arrow IPC stream on
// stdin and writes one on stdout
type ProcessLauncher struct {
	Command     string
	Args        []string
	StderrLimit int
	Allocator   memory.Allocator
	Logger      log.Logger
}

type processChannel struct {
	cmd    *exec.Cmd
	name   string
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *limitedBuffer
	mem    memory.Allocator
	logger log.Logger

	writer *ipc.Writer
	reader *ipc.Reader

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

// Launch starts the worker process
func (l *ProcessLauncher) Launch(ctx context.Context, schema *arrow.Schema, env []string) (Channel, error) {
	mem := l.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	cmd := exec.CommandContext(ctx, l.Command, l.Args...)
	cmd.Env = append(os.Environ(), env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &limitedBuffer{limit: l.StderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, siferrors.WorkerFailureError{Worker: l.Command, Cause: errors.Wrap(err, "starting worker")}
	}
	c := &processChannel{
		cmd:    cmd,
		name:   fmt.Sprintf("%s[%d]", l.Command, cmd.Process.Pid),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		mem:    mem,
		logger: logging.OrNop(l.Logger),
		writer: ipc.NewWriter(stdin, ipc.WithSchema(schema), ipc.WithAllocator(mem)),
	}
	level.Debug(c.logger).Log("msg", "launched worker", "worker", c.name)
	return c, nil
}

func (c *processChannel) Send(rec arrow.Record) error {
	if err := c.writer.Write(rec); err != nil {
		return c.failure(errors.Wrap(err, "writing batch to worker"))
	}
	return nil
}

func (c *processChannel) CloseSend() error {
	err := c.writer.Close()
	if cerr := c.stdin.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return c.failure(errors.Wrap(err, "closing worker input"))
	}
	return nil
}

func (c *processChannel) Receive() (arrow.Record, error) {
	if c.reader == nil {
		r, err := ipc.NewReader(c.stdout, ipc.WithAllocator(c.mem))
		if errors.Is(err, io.EOF) {
			// the worker produced no output at all
			return nil, c.finish()
		} else if err != nil {
			return nil, c.failure(errors.Wrap(err, "reading worker output schema"))
		}
		c.reader = r
	}
	if c.reader.Next() {
		rec := c.reader.Record()
		rec.Retain()
		return rec, nil
	}
	if err := c.reader.Err(); err != nil {
		return nil, c.failure(errors.Wrap(err, "reading worker output"))
	}
	return nil, c.finish()
}

// finish waits for a worker whose output ended cleanly, and reports a non-zero exit
func (c *processChannel) finish() error {
	if err := c.wait(); err != nil {
		return siferrors.WorkerFailureError{Worker: c.name, Cause: err, Stderr: c.stderr.String()}
	}
	return io.EOF
}

func (c *processChannel) failure(cause error) error {
	c.kill()
	c.wait()
	return siferrors.WorkerFailureError{Worker: c.name, Cause: cause, Stderr: c.stderr.String()}
}

// kill fails harmlessly once the process has exited
func (c *processChannel) kill() {
	c.cmd.Process.Kill()
}

func (c *processChannel) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

func (c *processChannel) Close() error {
	c.closeOnce.Do(func() {
		c.stdin.Close()
		c.kill()
		c.wait()
		if c.reader != nil {
			c.reader.Release()
		}
		level.Debug(c.logger).Log("msg", "closed worker", "worker", c.name)
	})
	return nil
}

// limitedBuffer keeps the first limit bytes written to it and discards the rest
type limitedBuffer struct {
	lock  sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}
