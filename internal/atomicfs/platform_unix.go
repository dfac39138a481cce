//go:build !windows

package atomicfs

import "os"

// rename on POSIX is already atomic for a same-filesystem directory rename
// and replaces dst only when dst is an empty directory; the cache always
// removes any stale dst first (see internal/cache.Entry.Commit), so a plain
// os.Rename suffices here.
func rename(src, dst string) error {
	return os.Rename(src, dst)
}
