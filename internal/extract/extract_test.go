package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExtractTarGzNoSubdir(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	writeTestTarGz(t, archive, map[string]string{"a.txt": "A", "sub/b.txt": "B"})

	dest := t.TempDir()
	var e Extractor
	if err := e.Extract(context.Background(), archive, "", dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "B" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractTarGzStripsSubdir(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	writeTestTarGz(t, archive, map[string]string{
		"tool-1.0/bin/tool": "binary",
		"tool-1.0/README":   "readme",
		"other/file":        "nope",
	})

	dest := t.TempDir()
	var e Extractor
	if err := e.Extract(context.Background(), archive, "tool-1.0", dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "bin", "tool"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "binary" {
		t.Fatalf("got %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "other")); err == nil {
		t.Fatal("entries outside subdir should be skipped")
	}
}

func TestStripEntryRejectsPathEscape(t *testing.T) {
	if _, _, err := stripEntry("../../etc/passwd", ""); err == nil {
		t.Fatal("expected error for path escape")
	}
}

func TestExtractRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.rar")
	os.WriteFile(path, bytes.Repeat([]byte{0}, 4), 0o644)
	var e Extractor
	if err := e.Extract(context.Background(), path, "", t.TempDir()); err == nil {
		t.Fatal("expected error for unrecognized format")
	}
}
