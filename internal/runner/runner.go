// Package runner spawns the wrapped command and reports how it exited.
package runner

import (
	"bytes"
	"fmt"
	"os/exec"
)

// Result is what the child left behind: its merged stdout+stderr, byte for
// byte in arrival order, and its exit code.
type Result struct {
	Output   []byte
	ExitCode int
}

// Runner runs one command to completion. The wait is unbounded: a hung job
// blocks the wrapper until it exits, the same way it would block cron. There
// is no cancellation channel once the child is spawned.
type Runner struct {
	cmd *exec.Cmd
	buf bytes.Buffer
}

// New prepares a runner for the given command line. The child gets no
// stdin; stdout and stderr are captured into one merged stream.
func New(tokens []string) *Runner {
	r := &Runner{}
	r.cmd = exec.Command(tokens[0], tokens[1:]...)
	r.cmd.Stdout = &r.buf
	r.cmd.Stderr = &r.buf
	return r
}

// Start spawns the child and returns its PID. A start failure (executable
// missing, not executable) is the wrapper's own failure, distinct from the
// child exiting non-zero.
func (r *Runner) Start() (int, error) {
	if err := r.cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", r.cmd.Path, err)
	}
	return r.cmd.Process.Pid, nil
}

// Wait blocks until the child exits and extracts its exit code. A non-zero
// exit is ordinary data, not an error; a child killed by a signal reports
// the -1 exec gives it, which the suppression policy treats like any other
// failure.
func (r *Runner) Wait() (Result, error) {
	err := r.cmd.Wait()
	res := Result{Output: r.buf.Bytes()}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return res, fmt.Errorf("wait for %s: %w", r.cmd.Path, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}
