//go:build unix

package recfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

func datasync(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return fmt.Errorf("fdatasync %s: %w", f.Name(), err)
	}
	return nil
}

// DirLock is an advisory lock on an index directory.
type DirLock struct {
	f *os.File
}

// LockDir takes an advisory flock on dir/.lock. Writers take an exclusive
// lock, read-only instances a shared one, so a second writer on the same
// repository root fails while any number of readers may coexist.
func LockDir(dir string, readOnly bool) (*DirLock, error) {
	path := filepath.Join(dir, ".lock")
	flag := os.O_RDWR | os.O_CREATE
	how := unix.LOCK_EX
	if readOnly {
		flag = os.O_RDONLY
		how = unix.LOCK_SH
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if readOnly && os.IsNotExist(err) {
		return &DirLock{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, apperrors.Newf(apperrors.ErrConfiguration, "recfile.lock", "%s is locked by another process", dir)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &DirLock{f: f}, nil
}

func (l *DirLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// syncDir makes a rename in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return nil
}
