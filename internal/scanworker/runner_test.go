package scanworker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoundedBuffer(t *testing.T) {
	b := newBoundedBuffer(8)
	n, err := b.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", b.String())

	n, err = b.Write([]byte(" world"))
	assert.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, b.truncated)
	assert.Equal(t, "hello wo"+truncationMarker, b.String())

	// Writes past the cap are still counted as consumed.
	n, _ = b.Write([]byte("more"))
	assert.Equal(t, 4, n)
	assert.Equal(t, "hello wo"+truncationMarker, b.String())
}

func TestRunCommand(t *testing.T) {
	res := RunCommand(context.Background(), Command{
		Path:     "/bin/sh",
		Args:     []string{"-c", "echo out; echo err >&2"},
		Deadline: time.Now().Add(10 * time.Second),
	})
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestRunCommandNonZeroExit(t *testing.T) {
	res := RunCommand(context.Background(), Command{
		Path:     "/bin/sh",
		Args:     []string{"-c", "exit 3"},
		Deadline: time.Now().Add(10 * time.Second),
	})
	assert.Error(t, res.Err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRunCommandDeadlineKillsProcessGroup(t *testing.T) {
	start := time.Now()
	res := RunCommand(context.Background(), Command{
		Path:     "/bin/sh",
		Args:     []string{"-c", "sleep 30"},
		Deadline: time.Now().Add(200 * time.Millisecond),
	})
	assert.True(t, res.TimedOut)
	assert.Error(t, res.Err)
	assert.Less(t, time.Since(start), 10*time.Second, "kill must not wait out the sleep")
}

func TestRunCommandArgvIsLiteral(t *testing.T) {
	// Shell metacharacters in argv arrive as plain bytes, not expansions.
	res := RunCommand(context.Background(), Command{
		Path:     "/bin/echo",
		Args:     []string{"$(id)", "a;b"},
		Deadline: time.Now().Add(10 * time.Second),
	})
	assert.NoError(t, res.Err)
	assert.True(t, strings.HasPrefix(res.Stdout, "$(id) a;b"))
}
