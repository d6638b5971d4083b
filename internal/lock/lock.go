// Package lock enforces at-most-one-running-instance semantics for a
// wrapped command using a PID-recording lock file.
//
// Exclusion is expressed by the lock file's existence plus its recorded PID
// naming a live process, not by holding an OS lock for the run's duration:
// an OS-level lock dies with its holder and cannot be observed by unrelated
// processes the way a recorded PID can. A short-lived advisory flock on the
// lock file arbitrates only the stale-lock reclamation step, so two
// instances can never both observe "stale" and both reclaim.
//
// Lifecycle: Acquire creates the file with the wrapper's own PID as a
// placeholder, Update swaps in the spawned child's PID once it is known,
// Release deletes the file. A lock file whose recorded owner no longer
// exists is stale and is taken over in place by the next Acquire.
package lock

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// ErrBusy reports that the job is already running, or that another instance
// is mid-reclamation, which amounts to the same answer.
var ErrBusy = errors.New("job already running")

// Probe reports whether a process with the given PID currently exists.
// Injectable so tests can simulate dead and live owners.
type Probe func(pid int) bool

// Lock manages the lock file for one job directory. All methods are a
// single attempt; nothing blocks or retries.
type Lock struct {
	path  string
	probe Probe
	held  bool
}

// New returns a Lock for path using the default liveness probe.
func New(path string) *Lock {
	return &Lock{path: path, probe: pidAlive}
}

// NewWithProbe is New with an injected liveness probe.
func NewWithProbe(path string, probe Probe) *Lock {
	return &Lock{path: path, probe: probe}
}

// pidAlive probes process existence without signaling it. When liveness
// cannot be determined the process is assumed alive, so a lock is only
// reclaimed on a definite "not running".
func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return alive
}

// Acquire attempts to take the lock without blocking. On success the lock
// file exists and records this process's PID until Update installs the
// child's. ErrBusy means a live holder or a concurrent reclaimer owns the
// lock; any other error is an infrastructure failure.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(l.path)
			return fmt.Errorf("write lock file %s: %w", l.path, werr)
		}
		l.held = true
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock file %s: %w", l.path, err)
	}
	return l.reclaim()
}

// reclaim decides whether an existing lock file is stale and, if so, takes
// it over in place. The flock serializes concurrent reclaimers; it is held
// only for the duration of the decision, never for the run.
func (l *Lock) reclaim() error {
	f, err := os.OpenFile(l.path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create attempt and now.
			return ErrBusy
		}
		return fmt.Errorf("open lock file %s: %w", l.path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			// Another instance is deciding reclamation right now.
			return ErrBusy
		}
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	owner, err := readOwner(f)
	if err != nil {
		// Unreadable owner: assume held rather than risk a double run.
		return ErrBusy
	}
	if l.probe(owner) {
		return ErrBusy
	}

	// The recorded process is gone. Overwrite the stale lock in place.
	if err := rewrite(f, os.Getpid()); err != nil {
		return fmt.Errorf("reclaim lock file %s: %w", l.path, err)
	}
	l.held = true
	return nil
}

// Update replaces the recorded owner with the spawned child's PID so future
// liveness probes target the job itself rather than the wrapper.
func (l *Lock) Update(pid int) error {
	if !l.held {
		return nil
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("update lock file %s: %w", l.path, err)
	}
	return nil
}

// Release deletes the lock file unconditionally. Safe to call when the lock
// was never acquired.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	return nil
}

// ReadOwner reports the PID recorded in the lock file at path, or 0 when no
// lock file exists. Used by state listings.
func ReadOwner(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return readOwner(f)
}

func readOwner(f *os.File) (int, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("corrupt lock file owner %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// rewrite replaces the open lock file's content with pid.
func rewrite(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "%d\n", pid)
	return err
}
