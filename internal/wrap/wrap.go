// Package wrap ties one wrapped invocation together: resolve the job's
// state directory, optionally take the single-instance lock, run the
// command, then apply the failure-suppression policy.
package wrap

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cronshield/cronshield/internal/lock"
	"github.com/cronshield/cronshield/internal/runner"
	"github.com/cronshield/cronshield/internal/state"
	"github.com/cronshield/cronshield/internal/suppress"
)

// Exit codes. Contention is EX_TEMPFAIL so schedulers see it as transient
// rather than as the job failing.
const (
	ExitOK    = 0
	ExitSetup = 1
	ExitBusy  = 75
)

// Options configure one wrapped invocation. StateDir is mandatory; the
// orchestrator has no implicit default.
type Options struct {
	StateDir string
	Suppress int  // consecutive failures required before surfacing; 0 = never suppress
	Overlap  bool // enforce single-instance locking
	Debug    bool // trace to stderr
}

// Outcome is the terminal decision for one invocation: what the wrapper
// should print and how it should exit.
type Outcome struct {
	Output   []byte // child output for stdout; nil when suppressed or not run
	ExitCode int
	Message  string // stderr diagnostic, set on lock contention
}

// Run executes the wrapped command under the configured policies.
// Infrastructure failures come back as errors and map to ExitSetup; lock
// contention and child failures are Outcomes, not errors.
func Run(opts Options, tokens []string) (Outcome, error) {
	dbg := debugLogger(opts.Debug)

	store := state.New(opts.StateDir)
	job, err := store.Resolve(tokens)
	if err != nil {
		return Outcome{ExitCode: ExitSetup}, err
	}
	dbg.Printf("job %s -> %s", job.Fingerprint()[:12], job.Dir())

	var lk *lock.Lock
	if opts.Overlap {
		lk = lock.New(job.LockPath())
		if err := lk.Acquire(); err != nil {
			if errors.Is(err, lock.ErrBusy) {
				dbg.Printf("lock busy: %s", job.LockPath())
				return Outcome{
					ExitCode: ExitBusy,
					Message:  fmt.Sprintf("cronshield: %v: %s", err, tokens[0]),
				}, nil
			}
			return Outcome{ExitCode: ExitSetup}, err
		}
		defer lk.Release()
		dbg.Printf("lock acquired: %s", job.LockPath())
	}

	r := runner.New(tokens)
	pid, err := r.Start()
	if err != nil {
		return Outcome{ExitCode: ExitSetup}, err
	}
	dbg.Printf("spawned pid %d", pid)
	if lk != nil {
		// Future liveness probes should target the job, not the wrapper.
		if err := lk.Update(pid); err != nil {
			dbg.Printf("lock update failed: %v", err)
		}
	}

	res, err := r.Wait()
	if err != nil {
		return Outcome{ExitCode: ExitSetup}, err
	}
	dbg.Printf("exit code %d, %d output bytes", res.ExitCode, len(res.Output))

	prev, err := job.FailureCount()
	if err != nil {
		return Outcome{ExitCode: ExitSetup}, err
	}
	count, suppressed := suppress.Decide(res.ExitCode, prev, opts.Suppress)
	if err := job.WriteFailureCount(count); err != nil {
		return Outcome{ExitCode: ExitSetup}, err
	}
	dbg.Printf("failures %d -> %d, suppress=%v", prev, count, suppressed)

	if suppressed {
		return Outcome{ExitCode: ExitOK}, nil
	}
	return Outcome{Output: res.Output, ExitCode: res.ExitCode}, nil
}

func debugLogger(on bool) *log.Logger {
	if !on {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "[wrap] ", log.Ltime)
}
