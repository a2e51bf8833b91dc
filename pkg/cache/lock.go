package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// staleLockPollInterval is how long Lock sleeps between retries while
// waiting on a lock file it believes is still held by a live process.
const staleLockPollInterval = 200 * time.Millisecond

// corruptLockRetryInterval is how long Lock sleeps after failing to read a
// lock file it just failed to open exclusively (transient FS contention,
// not a stale/live distinction).
const corruptLockRetryInterval = 100 * time.Millisecond

// Lock acquires an advisory file lock for target — a repodata cache file or
// a package's extracted directory — by exclusively creating a "<target>.lock"
// sibling holding the locking PID. If the lock file already exists, Lock
// checks whether that PID is still alive: a live holder means genuine
// contention (wait); a dead one means a prior envrec process was killed
// mid-extraction or mid-fetch, and the stale lock is reclaimed.
//
// Returns an unlock function that removes the lock file.
func Lock(target string) (func() error, error) {
	lockFile := target + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir for %s: %w", target, err)
	}

	for {
		f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			pid := os.Getpid()
			content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), pid)
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				os.Remove(lockFile)
				return nil, fmt.Errorf("writing lock file %s: %w", lockFile, err)
			}
			f.Close()

			return func() error {
				return os.Remove(lockFile)
			}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring lock %s: %w", lockFile, err)
		}

		content, err := os.ReadFile(lockFile)
		if err != nil {
			if os.IsNotExist(err) {
				continue // raced with the holder's unlock; retry immediately
			}
			time.Sleep(corruptLockRetryInterval)
			continue
		}

		pid, ok := lockHolderPID(content)
		if !ok {
			// Malformed lock content; a half-written lock from a process
			// that died before finishing its write. Reclaim it.
			os.Remove(lockFile)
			continue
		}

		if isPidAlive(pid) {
			time.Sleep(staleLockPollInterval)
			continue
		}

		os.Remove(lockFile) // holder is dead; reclaim and loop back to retry
	}
}

// lockHolderPID parses the "<rfc3339> <pid>" content a lock file carries.
func lockHolderPID(content []byte) (int, bool) {
	parts := strings.Split(strings.TrimSpace(string(content)), " ")
	if len(parts) < 2 {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return pid, true
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM: the process exists under another user and can't be signaled.
	return true
}
