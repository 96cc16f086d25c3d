//go:build !unix

package recfile

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}

// syncDir is a no-op; directories cannot be synced on this platform.
func syncDir(string) error { return nil }

// DirLock is a no-op on platforms without flock.
type DirLock struct{}

// LockDir does not lock on this platform; a single owning process per
// repository root must be ensured by the deployment.
func LockDir(dir string, readOnly bool) (*DirLock, error) {
	return &DirLock{}, nil
}

func (l *DirLock) Unlock() error { return nil }
