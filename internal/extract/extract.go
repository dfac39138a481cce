// Package extract is the archive-extraction collaborator spec.md §4.5's
// stage phase calls into: unpack a fetched archive into a cfg's work/stage
// directory, honoring a declared subdir (archive-prefix strip) rule.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Extractor dispatches on file extension to the concrete decoder. Satisfies
// pipeline.Extractor.
type Extractor struct{}

// Extract unpacks archivePath into destDir, skipping any path component
// under subdir (stripping it the way a tarball's top-level directory is
// conventionally stripped) when subdir is non-empty.
func (Extractor) Extract(ctx context.Context, archivePath, subdir, destDir string) error {
	switch {
	case hasSuffix(archivePath, ".tar.gz", ".tgz"):
		return extractTarGz(archivePath, subdir, destDir)
	case hasSuffix(archivePath, ".tar.zst"):
		return extractTarZst(archivePath, subdir, destDir)
	case hasSuffix(archivePath, ".tar"):
		return extractTarReader(mustOpen(archivePath), subdir, destDir)
	case hasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, subdir, destDir)
	default:
		return fmt.Errorf("extract: unrecognized archive format: %s", archivePath)
	}
}

func hasSuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func mustOpen(path string) io.ReadCloser {
	f, err := os.Open(path)
	if err != nil {
		return errReader{err}
	}
	return f
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
func (e errReader) Close() error              { return nil }

func extractTarGz(path, subdir, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("extract: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("extract: gzip %s: %w", path, err)
	}
	defer gz.Close()

	return extractTarReader(io.NopCloser(gz), subdir, destDir)
}

func extractTarZst(path, subdir, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("extract: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("extract: zstd %s: %w", path, err)
	}
	defer zr.Close()

	return extractTarReader(io.NopCloser(zr.IOReadCloser()), subdir, destDir)
}

func extractTarReader(r io.ReadCloser, subdir, destDir string) error {
	defer r.Close()
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("extract: tar: %w", err)
		}

		rel, skip, err := stripEntry(hdr.Name, subdir)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		target := filepath.Join(destDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract: mkdir %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return fmt.Errorf("extract: create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract: write %s: %w", target, err)
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("extract: mkdir %s: %w", target, err)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("extract: symlink %s: %w", target, err)
			}
		}
	}
}

func extractZip(path, subdir, destDir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("extract: open %s: %w", path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		rel, skip, err := stripEntry(f.Name, subdir)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		target := filepath.Join(destDir, rel)

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract: mkdir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("extract: mkdir %s: %w", target, err)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("extract: open entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return fmt.Errorf("extract: create %s: %w", target, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return fmt.Errorf("extract: write %s: %w", target, copyErr)
		}
	}
	return nil
}

// stripEntry cleans an archive entry's path and, when subdir is set,
// rewrites it relative to that prefix; entries outside subdir are skipped.
// Entries attempting to escape destDir via ".." are rejected.
func stripEntry(name, subdir string) (rel string, skip bool, err error) {
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(clean, "../") || clean == ".." {
		return "", false, fmt.Errorf("extract: entry %q escapes destination", name)
	}
	if subdir == "" {
		return filepath.FromSlash(clean), false, nil
	}
	prefix := strings.Trim(subdir, "/") + "/"
	if !strings.HasPrefix(clean+"/", prefix) {
		return "", true, nil
	}
	if clean+"/" == prefix {
		return ".", false, nil
	}
	return filepath.FromSlash(strings.TrimPrefix(clean, prefix)), false, nil
}
