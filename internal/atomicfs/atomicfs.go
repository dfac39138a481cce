// Package atomicfs wraps the atomic install/ -> asset/ directory rename
// spec.md §4.4 requires of the cache's scoped commit step. On POSIX,
// os.Rename within the same filesystem is already atomic; Windows needs
// MoveFileEx with MOVEFILE_REPLACE_EXISTING to replace a pre-existing
// destination directory in one operation (see platform_windows.go).
package atomicfs

// Rename atomically moves src to dst, both on the same filesystem.
// src must not exist afterward; dst holds whatever src held. On POSIX a
// pre-existing dst must be an empty directory; the cache removes any stale
// dst before calling Rename.
func Rename(src, dst string) error {
	return rename(src, dst)
}
