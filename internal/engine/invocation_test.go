package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutput(t *testing.T) {
	res, err := run(context.Background(), invocation{
		bin:     "sh",
		args:    []string{"-c", "echo out; echo err >&2"},
		timeout: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.exitCode)
	assert.Equal(t, "out\n", res.stdout)
	assert.Equal(t, "err\n", res.stderr)
	assert.Greater(t, res.duration, time.Duration(0))
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	res, err := run(context.Background(), invocation{
		bin:     "sh",
		args:    []string{"-c", "echo broken >&2; exit 3"},
		timeout: 10 * time.Second,
	})
	require.NoError(t, err, "non-zero exit is reported in the result, not as an error")

	assert.Equal(t, 3, res.exitCode)
	assert.Equal(t, "broken\n", res.stderr)
}

func TestRun_MissingBinaryIsSpawnError(t *testing.T) {
	_, err := run(context.Background(), invocation{
		bin:     "definitely-not-installed-anywhere",
		timeout: 10 * time.Second,
	})
	require.Error(t, err)

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, KindSpawn, engErr.Kind)
	assert.Contains(t, engErr.Message, "not found")
}

func TestRun_DeadlineKillsProcess(t *testing.T) {
	start := time.Now()
	_, err := run(context.Background(), invocation{
		bin:     "sh",
		args:    []string{"-c", "sleep 30"},
		timeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, KindTimeout, engErr.Kind)
	assert.Less(t, elapsed, 5*time.Second, "the process must be killed promptly, not awaited")
}

func TestRun_HonorsWorkingDirectory(t *testing.T) {
	dir := t.TempDir()

	res, err := run(context.Background(), invocation{
		bin:     "sh",
		args:    []string{"-c", "pwd"},
		dir:     dir,
		timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, res.stdout, dir)
}
