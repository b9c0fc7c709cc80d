package scanworker

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const (
	// OutputCap bounds how much stdout/stderr is kept per stream. Tools can
	// be arbitrarily chatty; exceeding the cap truncates with a marker and
	// never fails the job.
	OutputCap = 1 << 20 // 1 MiB

	truncationMarker = "\n[output truncated]"

	// killDelay is how long Wait may linger after the kill signal before the
	// runner gives up on I/O pipes.
	killDelay = 10 * time.Second
)

// boundedBuffer keeps the first cap bytes written and counts the rest.
type boundedBuffer struct {
	cap       int
	buf       []byte
	truncated bool
}

func newBoundedBuffer(cap int) *boundedBuffer {
	return &boundedBuffer{cap: cap}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.cap - len(b.buf)
	if room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	if len(p) > room {
		b.truncated = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return string(b.buf) + truncationMarker
	}
	return string(b.buf)
}

// Command is one tool invocation. Args is a discrete vector handed to the
// kernel as-is; nothing here ever passes through a shell, since targets and
// options originate from tenant input.
type Command struct {
	Path     string
	Args     []string
	Env      []string
	Deadline time.Time
}

// ExecResult is the raw outcome of a tool process.
type ExecResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunCommand spawns the tool in its own process group and blocks until exit
// or deadline. On timeout the whole group gets SIGKILL, so helpers forked by
// the tool do not outlive the job either.
func RunCommand(ctx context.Context, cmd Command) ExecResult {
	runCtx := ctx
	if !cmd.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, cmd.Deadline)
		defer cancel()
	} else {
		slog.Warn("Command has no deadline", "path", cmd.Path)
	}

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Env = cmd.Env
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		// Negative pid addresses the process group created by Setpgid.
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
	c.WaitDelay = killDelay

	stdout := newBoundedBuffer(OutputCap)
	stderr := newBoundedBuffer(OutputCap)
	c.Stdout = stdout
	c.Stderr = stderr

	result := ExecResult{StartedAt: time.Now().UTC()}
	err := c.Run()
	result.FinishedAt = time.Now().UTC()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	result.Err = err

	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
	}
	return result
}
