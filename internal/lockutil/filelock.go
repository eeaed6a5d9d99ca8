package lockutil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/shelfdb/shelfdb/internal/vfs"
)

// ErrWouldBlock is returned by TryLock/TryRLock when the lock is held by
// another process.
var ErrWouldBlock = errors.New("lockutil: lock would block")

// FileLocker acquires OS-level advisory locks (flock(2)) on an already-open
// file, guarding the single-writer-or-many-readers contract every durable
// engine needs across processes, not just within one. Grounded on
// internal/fs.Locker in the teacher repository, trimmed to operate directly
// on an open [vfs.File] (the engines already own the descriptor for I/O)
// rather than opening a dedicated lock file per call.
type FileLocker struct{}

// NewFileLocker returns a FileLocker.
func NewFileLocker() FileLocker { return FileLocker{} }

// Lock acquires an exclusive lock on file, blocking until it is available.
func (FileLocker) Lock(file vfs.File) error {
	return flockRetryEINTR(int(file.Fd()), unix.LOCK_EX)
}

// RLock acquires a shared lock on file, blocking until it is available.
func (FileLocker) RLock(file vfs.File) error {
	return flockRetryEINTR(int(file.Fd()), unix.LOCK_SH)
}

// TryLock attempts to acquire an exclusive lock without blocking, returning
// [ErrWouldBlock] if another process holds it.
func (FileLocker) TryLock(file vfs.File) error {
	err := flockRetryEINTR(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if isWouldBlock(err) {
		return ErrWouldBlock
	}

	return err
}

// TryRLock attempts to acquire a shared lock without blocking, returning
// [ErrWouldBlock] if an exclusive lock is held by another process.
func (FileLocker) TryRLock(file vfs.File) error {
	err := flockRetryEINTR(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if isWouldBlock(err) {
		return ErrWouldBlock
	}

	return err
}

// Unlock releases whatever lock is held on file.
func (FileLocker) Unlock(file vfs.File) error {
	return flockRetryEINTR(int(file.Fd()), unix.LOCK_UN)
}

func flockRetryEINTR(fd int, how int) error {
	for {
		err := unix.Flock(fd, how)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		return fmt.Errorf("flock: %w", err)
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}
