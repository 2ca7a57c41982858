package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// PIDFile is an open, exclusively-locked PID file. The lock is held for
// the lifetime of the process and released by Remove (or implicitly on
// process exit).
type PIDFile struct {
	path string
	file *os.File
}

// WritePIDFile writes the current process's PID to path and acquires an
// exclusive, non-blocking advisory lock on it. If another instance
// already holds the lock, startup fails immediately rather than queuing
// behind it.
func WritePIDFile(path string) (*PIDFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("gateway: creating PID file directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("gateway: opening PID file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("gateway: another instance is running (PID file %s is locked)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("gateway: truncating PID file %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("gateway: writing PID file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("gateway: syncing PID file %s: %w", path, err)
	}

	return &PIDFile{path: path, file: f}, nil
}

// Remove releases the lock, closes the file, and deletes it from disk.
func (p *PIDFile) Remove() error {
	unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	p.file.Close()
	return os.Remove(p.path)
}
