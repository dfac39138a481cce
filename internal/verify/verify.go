// Package verify wraps the content-hashing primitives the engine uses to
// verify remote sources and fingerprint installed assets: SHA-256 for
// wire-format checksums (spec.md §4.2, §4.7) and BLAKE3 for the internal
// install-tree fingerprint (spec.md §4.5 install phase, §9).
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zeebo/blake3"
)

// ErrHashMismatch is returned by SHA256VerifyHex when the computed digest does not
// match the expected one. It carries both values so callers can surface a
// HashMismatch error per spec.md §7.
type ErrHashMismatch struct {
	Expected string
	Actual   string
}

func (e *ErrHashMismatch) Error() string {
	return fmt.Sprintf("verify: hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// SHA256File streams a file's contents through SHA-256 and returns the
// 32-byte digest.
func SHA256File(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("verify: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, fmt.Errorf("verify: hash %s: %w", path, err)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SHA256Hex is SHA256File formatted as lowercase hex, the form spec.md §4.2
// requires for a cfg's declared `sha256` field.
func SHA256Hex(path string) (string, error) {
	sum, err := SHA256File(path)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// SHA256VerifyHex raises ErrHashMismatch if actual (lowercase hex) does not
// byte-equal expectedHex64, a 64-character lowercase hex string.
func SHA256VerifyHex(expectedHex64, actualHex string) error {
	if expectedHex64 != actualHex {
		return &ErrHashMismatch{Expected: expectedHex64, Actual: actualHex}
	}
	return nil
}

// SHA256OfString hashes an in-memory string, used by the check phase to
// derive the outward `hash_prefix` from a resolved source identifier rather
// than file content (spec.md §4.5 check phase, §9 Open Questions).
func SHA256OfString(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// BLAKE3Tree computes the BLAKE3 digest of an installed directory tree by
// walking it in a stable (lexicographic) order and feeding each regular
// file's path and content into the hasher. This is the `result_hash` spec.md
// §4.5's install phase records; it is never embedded in a cache directory
// name (§9 Open Questions resolves BLAKE3 to an internal fingerprint only).
func BLAKE3Tree(root string) ([32]byte, error) {
	h := blake3.New()
	if err := hashTree(h, root, ""); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func hashTree(h *blake3.Hasher, root, rel string) error {
	full := root
	if rel != "" {
		full = root + "/" + rel
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Errorf("verify: read dir %s: %w", full, err)
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		byName[e.Name()] = e
	}

	for _, name := range names {
		e := byName[name]
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		if e.IsDir() {
			if err := hashTree(h, root, childRel); err != nil {
				return err
			}
			continue
		}
		io.WriteString(h, childRel)
		h.Write([]byte{0})
		f, err := os.Open(root + "/" + childRel)
		if err != nil {
			return fmt.Errorf("verify: open %s: %w", childRel, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("verify: hash %s: %w", childRel, err)
		}
	}
	return nil
}
