package verify

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256FileKnownValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SHA256Hex(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Fatalf("sha256(\"hello\") = %s, want %s", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if _, err := hex.DecodeString(got); err != nil {
		t.Fatalf("not valid hex: %v", err)
	}

	got2, err := SHA256Hex(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != got2 {
		t.Fatal("sha256 of the same file must be deterministic")
	}
}

func TestSHA256VerifyHex(t *testing.T) {
	if err := SHA256VerifyHex("abc", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := SHA256VerifyHex("abc", "def"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestBLAKE3TreeDeterministic(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("B"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := BLAKE3Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := BLAKE3Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("BLAKE3Tree must be deterministic across runs")
	}

	// Changing content changes the hash.
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("A2"), 0o644); err != nil {
		t.Fatal(err)
	}
	h3, err := BLAKE3Tree(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatal("expected hash to change when content changes")
	}
}
