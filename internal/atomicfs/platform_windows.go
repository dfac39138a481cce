//go:build windows

package atomicfs

import (
	"os"

	"golang.org/x/sys/windows"
)

// rename uses MoveFileEx with MOVEFILE_REPLACE_EXISTING so the directory
// rename replaces dst atomically even when dst already exists, a
// guarantee plain os.Rename does not make on Windows.
func rename(src, dst string) error {
	srcPtr, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return &os.PathError{Op: "rename", Path: src, Err: err}
	}
	dstPtr, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return &os.PathError{Op: "rename", Path: dst, Err: err}
	}
	return windows.MoveFileEx(srcPtr, dstPtr, windows.MOVEFILE_REPLACE_EXISTING)
}
