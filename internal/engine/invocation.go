// Package engine supervises the external transcoding and remote fetch
// programs as subprocesses with bounded deadlines.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/your-org/audioconv/pkg/metrics"
)

// invocation describes one bounded external process run.
type invocation struct {
	bin     string
	args    []string
	dir     string
	timeout time.Duration
}

// invocationResult captures the terminal state of a finished process.
type invocationResult struct {
	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
}

// run executes the invocation and blocks until it exits or the deadline
// expires. The process is forcibly killed on expiry. A non-zero exit is
// reported in the result, not as an error; errors are reserved for
// spawn failures and timeouts.
func run(ctx context.Context, inv invocation) (*invocationResult, error) {
	runCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.bin, inv.args...)
	cmd.Dir = inv.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	metrics.ActiveInvocations.Inc()
	defer metrics.ActiveInvocations.Dec()

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	metrics.EngineDuration.WithLabelValues(filepath.Base(inv.bin)).Observe(elapsed.Seconds())

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("%s did not finish within %s", filepath.Base(inv.bin), inv.timeout),
			Stderr:  stderr.String(),
		}
	}

	res := &invocationResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		duration: elapsed,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, &Error{
			Kind:    KindSpawn,
			Message: fmt.Sprintf("%s not found or not runnable, check the host installation", filepath.Base(inv.bin)),
			Stderr:  err.Error(),
		}
	}

	return res, nil
}
