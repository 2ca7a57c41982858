// Package workspace memoizes workspace file contents by (mtime, size) and
// tracks per-workspace bootstrap completion markers. Grounded on the
// teacher's internal/bootstrap/seed.go (seeding idiom) and
// internal/agent/loop_history.go (resolveContextFiles override merge).
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ExpectedFiles is the fixed ordered set of workspace files the context
// pack builder looks for on every turn.
var ExpectedFiles = []string{
	"AGENTS.md",
	"SOUL.md",
	"TOOLS.md",
	"IDENTITY.md",
	"USER.md",
	"HEARTBEAT.md",
	"BOOTSTRAP.md",
}

type cacheEntry struct {
	mtime   int64
	size    int64
	content string
	sha256  string
}

// Reader caches workspace file reads keyed by absolute filename, only
// re-reading from disk when the file's (mtime,size) pair changes.
type Reader struct {
	mu    sync.RWMutex
	cache map[string]cacheEntry
	dir   string
}

// NewReader returns a Reader rooted at dir.
func NewReader(dir string) *Reader {
	return &Reader{cache: make(map[string]cacheEntry), dir: dir}
}

// Result is the outcome of a single file read.
type Result struct {
	Content string
	Missing bool
	SHA256  string
}

// Read returns the content of filename under the reader's root, serving
// from cache when the underlying (mtime,size) has not changed.
func (r *Reader) Read(filename string) Result {
	path := filepath.Join(r.dir, filename)
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Missing: true}
		}
		slog.Warn("workspace: stat failed", "file", filename, "error", err)
		return Result{Missing: true}
	}

	mtime := fi.ModTime().UnixNano()
	size := fi.Size()

	r.mu.RLock()
	entry, ok := r.cache[filename]
	r.mu.RUnlock()
	if ok && entry.mtime == mtime && entry.size == size {
		slog.Debug("workspace: cache hit", "file", filename)
		return Result{Content: entry.content, SHA256: entry.sha256}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("workspace: read failed", "file", filename, "error", err)
		return Result{Missing: true}
	}
	sum := sha256.Sum256(data)
	content := string(data)
	hash := hex.EncodeToString(sum[:])

	r.mu.Lock()
	r.cache[filename] = cacheEntry{mtime: mtime, size: size, content: content, sha256: hash}
	r.mu.Unlock()

	slog.Debug("workspace: cache miss, re-read", "file", filename)
	return Result{Content: content, SHA256: hash}
}

// Present returns the subset of ExpectedFiles that exist under the
// reader's root, plus any extra filenames supplied (per-agent
// context_files additions, per SPEC_FULL §4.2).
func (r *Reader) Present(extra []string) []string {
	var present []string
	for _, f := range append(append([]string{}, ExpectedFiles...), extra...) {
		if _, err := os.Stat(filepath.Join(r.dir, f)); err == nil {
			present = append(present, f)
		}
	}
	return present
}
