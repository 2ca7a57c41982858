package gateway

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestWritePIDFile_WritesCurrentPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")

	pf, err := WritePIDFile(path)
	if err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	defer pf.Remove()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading PID file: %v", err)
	}
	stored, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		t.Fatalf("parsing PID file content %q: %v", content, err)
	}
	if stored != os.Getpid() {
		t.Errorf("stored PID = %d, want %d", stored, os.Getpid())
	}
}

func TestWritePIDFile_SecondLockFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")

	first, err := WritePIDFile(path)
	if err != nil {
		t.Fatalf("first WritePIDFile: %v", err)
	}
	defer first.Remove()

	if _, err := WritePIDFile(path); err == nil {
		t.Error("second WritePIDFile on the same path should fail while the first lock is held")
	}
}

func TestWritePIDFile_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dirs", "gateway.pid")

	pf, err := WritePIDFile(path)
	if err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	defer pf.Remove()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("PID file should exist at %s: %v", path, err)
	}
}

func TestPIDFile_RemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")

	pf, err := WritePIDFile(path)
	if err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file should no longer exist after Remove")
	}
}

func TestWritePIDFile_RelockAfterRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")

	first, err := WritePIDFile(path)
	if err != nil {
		t.Fatalf("first WritePIDFile: %v", err)
	}
	if err := first.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	second, err := WritePIDFile(path)
	if err != nil {
		t.Fatalf("WritePIDFile after Remove should succeed: %v", err)
	}
	second.Remove()
}
