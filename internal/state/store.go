// Package state owns the per-job directories that survive across wrapper
// invocations. Each wrapped command gets one directory under the root, keyed
// by its fingerprint, holding a human-readable command record, the lock
// file, and the consecutive-failure counter.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cronshield/cronshield/internal/identity"
)

const (
	recordFile  = "command.yaml"
	lockFile    = "lock"
	counterFile = "failures"
)

// Record describes a job for human inspection. It is written once, on the
// job's first run, and never read back for program logic.
type Record struct {
	Command     []string  `yaml:"command"`
	Fingerprint string    `yaml:"fingerprint"`
	FirstSeen   time.Time `yaml:"first_seen"`
}

// Store owns the root state directory. The root is explicit; there is no
// process-wide default.
type Store struct {
	root string
}

// New returns a Store rooted at the given directory. The directory is
// created lazily by Resolve.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Job is one command's state directory.
type Job struct {
	dir         string
	fingerprint string
}

// Dir returns the job's state directory.
func (j Job) Dir() string {
	return j.dir
}

// Fingerprint returns the fingerprint the directory is keyed by.
func (j Job) Fingerprint() string {
	return j.fingerprint
}

// LockPath returns the path of the job's lock file. The file itself is
// managed by the lock package.
func (j Job) LockPath() string {
	return filepath.Join(j.dir, lockFile)
}

// Resolve maps a command line to its state directory, creating it on first
// use. Creation is idempotent: concurrent callers racing on the same
// fingerprint all succeed. The command record is written at most once.
func (s *Store) Resolve(tokens []string) (Job, error) {
	fp := identity.Fingerprint(tokens)
	dir := filepath.Join(s.root, fp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Job{}, fmt.Errorf("create job directory %s: %w", dir, err)
	}
	if err := writeRecordOnce(filepath.Join(dir, recordFile), tokens, fp); err != nil {
		return Job{}, err
	}
	return Job{dir: dir, fingerprint: fp}, nil
}

// writeRecordOnce creates the command record with O_EXCL so a concurrent
// first run cannot write it twice. An existing record is left untouched.
func writeRecordOnce(path string, tokens []string, fp string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create command record: %w", err)
	}
	defer f.Close()

	rec := Record{Command: tokens, Fingerprint: fp, FirstSeen: time.Now().UTC()}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(&rec); err != nil {
		return fmt.Errorf("write command record: %w", err)
	}
	return enc.Close()
}

// FailureCount reads the persisted consecutive-failure count. A missing
// counter file means zero.
func (j Job) FailureCount() (int, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, counterFile))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read failure counter: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("corrupt failure counter %q", strings.TrimSpace(string(data)))
	}
	return n, nil
}

// WriteFailureCount persists the counter through a rename so a crash
// mid-write never leaves a torn file.
func (j Job) WriteFailureCount(n int) error {
	tmp := filepath.Join(j.dir, counterFile+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write failure counter: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(j.dir, counterFile)); err != nil {
		return fmt.Errorf("write failure counter: %w", err)
	}
	return nil
}

// Info summarizes one job directory for listings.
type Info struct {
	Fingerprint string
	Command     []string
	Failures    int
	LockPath    string
}

// List returns a summary of every job directory under the root, in
// fingerprint order. A missing root yields an empty list. Unreadable
// records or counters degrade to zero values rather than failing the
// listing.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state root %s: %w", s.root, err)
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		job := Job{dir: filepath.Join(s.root, e.Name()), fingerprint: e.Name()}
		info := Info{Fingerprint: job.fingerprint, LockPath: job.LockPath()}
		if data, err := os.ReadFile(filepath.Join(job.dir, recordFile)); err == nil {
			var rec Record
			if yaml.Unmarshal(data, &rec) == nil {
				info.Command = rec.Command
			}
		}
		if n, err := job.FailureCount(); err == nil {
			info.Failures = n
		}
		infos = append(infos, info)
	}
	return infos, nil
}
