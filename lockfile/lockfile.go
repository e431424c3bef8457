// Package lockfile implements the sidecar advisory-lock protocol that
// gives byztime its single-writer guarantee: an exclusive, unblocking
// flock on a "<region-path>.lock" file held mode 0600.
//
// This mirrors the flock-sidecar pattern vanadium-core's
// x/ref/lib/security/principal.go uses to guard concurrent writers to
// a persisted principal directory via its internal lockedfile
// package, reimplemented here directly over golang.org/x/sys/unix
// since that package is module-private to vanadium.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrBusy is returned by Acquire when the lock is already held by
// another process.
var ErrBusy = errors.New("lockfile: already locked")

// Lock is a held exclusive advisory lock on a sidecar file.
type Lock struct {
	file *os.File
}

// PathFor returns the canonical sidecar lock path for a region path.
func PathFor(regionPath string) (string, error) {
	canonical, err := filepath.Abs(regionPath)
	if err != nil {
		return "", fmt.Errorf("lockfile: resolving %s: %w", regionPath, err)
	}
	return canonical + ".lock", nil
}

// Acquire opens (creating if necessary) the sidecar lock file for
// regionPath with mode 0600 and takes a non-blocking exclusive flock
// on it. It returns ErrBusy if some other process already holds it.
func Acquire(regionPath string) (*Lock, error) {
	lockPath, err := PathFor(regionPath)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: opening %s: %w", lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", lockPath, err)
	}

	return &Lock{file: f}, nil
}

// Release unlocks and closes the sidecar lock file. Presence of the
// file without a holder afterward is harmless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}
