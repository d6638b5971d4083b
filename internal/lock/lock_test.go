package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "lock")
}

func ownerOf(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	return pid
}

func TestAcquireFresh(t *testing.T) {
	path := lockPath(t)
	l := New(path)

	require.NoError(t, l.Acquire())
	assert.Equal(t, os.Getpid(), ownerOf(t, path), "placeholder is the wrapper's own PID")

	require.NoError(t, l.Release())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireHeldByLiveProcess(t *testing.T) {
	path := lockPath(t)
	// This test process is the recorded owner, so the lock is legitimately held.
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

	err := New(path).Acquire()
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, os.Getpid(), ownerOf(t, path), "held lock must not be rewritten")
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))

	l := NewWithProbe(path, func(pid int) bool { return false })
	require.NoError(t, l.Acquire())

	assert.Equal(t, os.Getpid(), ownerOf(t, path), "stale lock rewritten in place")
	require.NoError(t, l.Release())
}

func TestAcquireRespectsProbeSaysAlive(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))

	l := NewWithProbe(path, func(pid int) bool { return true })
	assert.ErrorIs(t, l.Acquire(), ErrBusy)
	assert.Equal(t, 12345, ownerOf(t, path))
}

func TestAcquireCorruptOwnerTreatedAsHeld(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o644))

	l := NewWithProbe(path, func(pid int) bool { return false })
	assert.ErrorIs(t, l.Acquire(), ErrBusy)
}

func TestUpdateRecordsChildPID(t *testing.T) {
	path := lockPath(t)
	l := New(path)
	require.NoError(t, l.Acquire())

	require.NoError(t, l.Update(424242))
	assert.Equal(t, 424242, ownerOf(t, path))

	require.NoError(t, l.Release())
}

func TestUpdateAndReleaseWithoutAcquireAreNoops(t *testing.T) {
	path := lockPath(t)
	l := New(path)

	require.NoError(t, l.Update(1))
	require.NoError(t, l.Release())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireExactlyOneWinner(t *testing.T) {
	path := lockPath(t)

	// Every loser that reaches the reclamation path reads the winner's PID,
	// which is this test process and therefore alive.
	const instances = 16
	var wg sync.WaitGroup
	wins := make(chan *Lock, instances)
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(path)
			if err := l.Acquire(); err == nil {
				wins <- l
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*Lock
	for l := range wins {
		winners = append(winners, l)
	}
	require.Len(t, winners, 1)
	require.NoError(t, winners[0].Release())
}

func TestReadOwner(t *testing.T) {
	path := lockPath(t)

	pid, err := ReadOwner(path)
	require.NoError(t, err)
	assert.Equal(t, 0, pid, "missing lock file means no owner")

	require.NoError(t, os.WriteFile(path, []byte("777\n"), 0o644))
	pid, err = ReadOwner(path)
	require.NoError(t, err)
	assert.Equal(t, 777, pid)
}

func TestPidAlive(t *testing.T) {
	assert.True(t, pidAlive(os.Getpid()))
	// PIDs above the kernel's pid_max cannot exist.
	assert.False(t, pidAlive(1 << 30))
}
