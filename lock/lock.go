// Package lock keeps two runs from writing to the same destination at once,
// whether they come from the daemon, cron or a manual invocation.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/fileutils"
)

type Lock struct {
	f *os.File
}

// PathFor is the lock file guarding destination.
func PathFor(stateDir, destination string) string {
	return filepath.Join(stateDir, "locks", strconv.FormatUint(fileutils.HashString(destination), 16)+".lock")
}

// Acquire takes an exclusive lock without waiting. A lock held by another
// process or another Lock in this process fails with backuperr.ErrBusy.
// The lock is released when the process exits, even if Release is never called.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: could not create lock directory: %w", backuperr.ErrIO, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open lock file: %w", backuperr.ErrIO, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is locked by another run", backuperr.ErrBusy, path)
		}
		return nil, fmt.Errorf("%w: could not lock %s: %w", backuperr.ErrIO, path, err)
	}

	// Informational only, the flock is what counts.
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Lock{f: f}, nil
}

// Release unlocks. The lock file itself is left in place so a concurrent
// Acquire never locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err = errors.Join(err, l.f.Close())
	l.f = nil
	return err
}
