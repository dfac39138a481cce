// Package cache implements envy's shared, content-addressed on-disk cache:
// two namespaced areas under a root directory (assets/, recipes/) plus
// locks/, and the single ensure_entry primitive that every asset-producing
// phase uses to safely claim a staging area.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/internal/atomicfs"
	"github.com/charlesnicholson/envy/internal/filelock"
)

const completeMarker = ".envy-complete"

// ErrCacheError wraps any filesystem or lock failure ensure_entry
// encounters, per spec.md §7's CacheError taxonomy entry.
type ErrCacheError struct {
	Op   string
	Path string
	Err  error
}

func (e *ErrCacheError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ErrCacheError) Unwrap() error { return e.Err }

// Cache is a handle to a cache root directory.
type Cache struct {
	root string
}

// Open returns a handle rooted at root, creating root/assets, root/recipes,
// and root/locks if they do not already exist.
func Open(root string) (*Cache, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &ErrCacheError{Op: "resolve", Path: root, Err: err}
	}
	for _, sub := range []string{"assets", "recipes", "locks"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, &ErrCacheError{Op: "mkdir", Path: filepath.Join(abs, sub), Err: err}
		}
	}
	return &Cache{root: abs}, nil
}

// Root returns the cache's root directory.
func (c *Cache) Root() string { return c.root }

// Entry describes the paths ensure_entry hands back. Lock is nil when the
// entry was already complete (the fast path); InstallPath/WorkPath/
// FetchPath/StagePath are empty in that case too.
type Entry struct {
	EntryPath   string
	InstallPath string
	WorkPath    string
	FetchPath   string
	StagePath   string
	lock        *filelock.Lock
	entryDir    string
}

// Complete reports whether this Entry was returned via the fast path
// (already committed) and therefore holds no lock.
func (e *Entry) Complete() bool { return e.lock == nil }

// AssetEntryDir returns the on-disk directory name for an asset entry:
// "<identity>.<platform>-<arch>-sha256-<hashPrefix>".
func AssetEntryDir(identity, platform, arch, hashPrefix string) string {
	return fmt.Sprintf("%s.%s-%s-sha256-%s", identity, platform, arch, hashPrefix)
}

// EnsureAsset is the ensure_entry helper for assets/<identity>.<platform>-
// <arch>-sha256-<hash_prefix>/, locked by locks/assets.<entry>.lock.
func (c *Cache) EnsureAsset(identity, platform, arch, hashPrefix string) (*Entry, error) {
	entryName := AssetEntryDir(identity, platform, arch, hashPrefix)
	entryDir := filepath.Join(c.root, "assets", entryName)
	lockPath := filepath.Join(c.root, "locks", "assets."+entryName+".lock")
	return c.ensureEntry(entryDir, lockPath)
}

// EnsureRecipe is the ensure_entry helper for recipes/<identity>.lua/,
// locked by locks/recipe.<identity>.lock.
func (c *Cache) EnsureRecipe(identity string) (*Entry, error) {
	entryDir := filepath.Join(c.root, "recipes", identity+".lua")
	lockPath := filepath.Join(c.root, "locks", "recipe."+identity+".lock")
	return c.ensureEntry(entryDir, lockPath)
}

// ensureEntry implements spec.md §4.4's ensure_entry primitive: fast path
// on an already-complete entry, otherwise prepare scratch directories,
// acquire the entry's exclusive lock, and re-check completeness under it
// before handing back a guard the caller must Commit or Rollback exactly
// once.
func (c *Cache) ensureEntry(entryDir, lockPath string) (*Entry, error) {
	if isComplete(entryDir) {
		return &Entry{EntryPath: entryDir}, nil
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, &ErrCacheError{Op: "mkdir", Path: filepath.Dir(lockPath), Err: err}
	}
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		return nil, &ErrCacheError{Op: "mkdir", Path: entryDir, Err: err}
	}

	installPath := filepath.Join(entryDir, "install")
	workPath := filepath.Join(entryDir, "work")
	fetchPath := filepath.Join(workPath, "fetch")
	stagePath := filepath.Join(workPath, "stage")

	if err := resetDir(installPath); err != nil {
		return nil, &ErrCacheError{Op: "reset", Path: installPath, Err: err}
	}
	if err := resetDir(stagePath); err != nil {
		return nil, &ErrCacheError{Op: "reset", Path: stagePath, Err: err}
	}
	if err := os.MkdirAll(fetchPath, 0o755); err != nil {
		return nil, &ErrCacheError{Op: "mkdir", Path: fetchPath, Err: err}
	}

	lock, err := filelock.Acquire(lockPath)
	if err != nil {
		return nil, &ErrCacheError{Op: "lock", Path: lockPath, Err: err}
	}

	if isComplete(entryDir) {
		if err := lock.Unlock(); err != nil {
			return nil, &ErrCacheError{Op: "unlock", Path: lockPath, Err: err}
		}
		return &Entry{EntryPath: entryDir}, nil
	}

	return &Entry{
		EntryPath:   entryDir,
		InstallPath: installPath,
		WorkPath:    workPath,
		FetchPath:   fetchPath,
		StagePath:   stagePath,
		lock:        lock,
		entryDir:    entryDir,
	}, nil
}

func isComplete(entryDir string) bool {
	_, err := os.Stat(filepath.Join(entryDir, completeMarker))
	return err == nil
}

func resetDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

// Commit finalizes an in-progress Entry per spec.md §4.4's scoped guard:
// drop the stale stage/, remove any pre-existing entry/asset/, atomically
// rename install/ into entry/asset/, drop work/, and create the completion
// marker. Always releases the lock, even on error. Calling Commit or
// Rollback more than once, or on an already-complete Entry, is a
// programmer error and panics.
func (e *Entry) Commit() error {
	if e.lock == nil {
		panic("cache: Commit called on an Entry with no lock (already complete or already finalized)")
	}
	defer func() { e.lock = nil }()

	if err := os.RemoveAll(e.WorkPath); err != nil {
		e.lock.Unlock()
		return &ErrCacheError{Op: "commit: remove work", Path: e.WorkPath, Err: err}
	}

	assetPath := filepath.Join(e.entryDir, "asset")
	if err := os.RemoveAll(assetPath); err != nil {
		e.lock.Unlock()
		return &ErrCacheError{Op: "commit: remove stale asset", Path: assetPath, Err: err}
	}
	if err := atomicfs.Rename(e.InstallPath, assetPath); err != nil {
		e.lock.Unlock()
		return &ErrCacheError{Op: "commit: rename install to asset", Path: assetPath, Err: err}
	}

	markerPath := filepath.Join(e.entryDir, completeMarker)
	if err := os.WriteFile(markerPath, nil, 0o644); err != nil {
		e.lock.Unlock()
		return &ErrCacheError{Op: "commit: write marker", Path: markerPath, Err: err}
	}

	if err := e.lock.Unlock(); err != nil {
		return &ErrCacheError{Op: "commit: unlock", Path: e.entryDir, Err: err}
	}
	return nil
}

// Rollback discards an in-progress Entry: removes install/ and stage/,
// leaves work/ for diagnostics, and always releases the lock.
func (e *Entry) Rollback() error {
	if e.lock == nil {
		panic("cache: Rollback called on an Entry with no lock (already complete or already finalized)")
	}
	defer func() { e.lock = nil }()

	var firstErr error
	if err := os.RemoveAll(e.InstallPath); err != nil && firstErr == nil {
		firstErr = &ErrCacheError{Op: "rollback: remove install", Path: e.InstallPath, Err: err}
	}
	if err := os.RemoveAll(e.StagePath); err != nil && firstErr == nil {
		firstErr = &ErrCacheError{Op: "rollback: remove stage", Path: e.StagePath, Err: err}
	}

	if err := e.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = &ErrCacheError{Op: "rollback: unlock", Path: e.entryDir, Err: err}
	}
	return firstErr
}
