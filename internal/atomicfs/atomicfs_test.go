package atomicfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenameMovesSourceToDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "install")
	dst := filepath.Join(dir, "asset")

	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "new.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Rename(src, dst); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Fatalf("got %q", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("src should no longer exist after rename")
	}
}
