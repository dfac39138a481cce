package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charlesnicholson/envy/internal/phase"
)

func TestParseRemote(t *testing.T) {
	pool := NewPool()
	c, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
	}, ParseOptions{DeclaringFilePath: "/manifests/root.lua"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Source.Kind != SourceRemote {
		t.Fatalf("kind = %v, want remote", c.Source.Kind)
	}
	if c.Source.URL != "https://example.com/pkg.tar.gz" {
		t.Fatalf("url = %q", c.Source.URL)
	}
	if c.SerializedOptions != "{}" {
		t.Fatalf("options = %q, want {}", c.SerializedOptions)
	}
	if pool.Len() != 1 {
		t.Fatalf("pool.Len() = %d, want 1", pool.Len())
	}
}

func TestParseRemoteRejectsBadSHA(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "not-hex",
		},
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected error for malformed sha256")
	}
}

func TestParseRequiresExactlyOneSource(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{"identity": "ns.name@1"}, ParseOptions{})
	if err == nil {
		t.Fatal("expected error: no source present")
	}

	_, err = Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote":   map[string]any{"url": "https://x", "sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		"git":      map[string]any{"url": "https://x", "ref": "main"},
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected error: two sources present")
	}
}

func TestParseWeakRefRequiresOptIn(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"weak_ref": true,
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected rejection without AllowWeakWithoutSource")
	}

	c, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"weak_ref": true,
	}, ParseOptions{AllowWeakWithoutSource: true})
	if err != nil {
		t.Fatal(err)
	}
	if c.Source.Kind != SourceWeakRef {
		t.Fatalf("kind = %v, want weak_ref", c.Source.Kind)
	}
}

func TestParseLocalResolvesRelativeToDeclaringFile(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, "manifests"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(repo, "pkgs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "pkgs", "thing.lua"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	pool := NewPool()
	c, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"local":    map[string]any{"file_path": "../pkgs/thing.lua"},
	}, ParseOptions{DeclaringFilePath: filepath.Join(repo, "manifests", "root.lua")})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(repo, "pkgs", "thing.lua")
	if c.Source.FilePath != want {
		t.Fatalf("file_path = %q, want %q", c.Source.FilePath, want)
	}
}

func TestParseGitRequiresURLAndRef(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"git":      map[string]any{"url": "https://example.com/repo.git"},
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected error: missing ref")
	}
}

func TestParseSubdirRejectsDotDot(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			"subdir": "../escape",
		},
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected error for subdir with '..' segment")
	}
}

func TestParseNeededBy(t *testing.T) {
	pool := NewPool()
	c, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"needed_by": "stage",
	}, ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasNeededBy || c.NeededBy != phase.Stage {
		t.Fatalf("needed_by = %v (has=%v), want stage", c.NeededBy, c.HasNeededBy)
	}
}

func TestParseNeededByRejectsUnknownPhase(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"needed_by": "bogus",
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected error for unknown needed_by phase")
	}
}

func TestParseOptionsCanonicalized(t *testing.T) {
	pool := NewPool()
	c, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"options": map[string]any{"b": int64(2), "a": int64(1)},
	}, ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a"=1,"b"=2}`
	if c.SerializedOptions != want {
		t.Fatalf("options = %q, want %q", c.SerializedOptions, want)
	}
}

func TestParseProduct(t *testing.T) {
	pool := NewPool()
	c, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"product": "libfoo",
	}, ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Product != "libfoo" {
		t.Fatalf("product = %q", c.Product)
	}
}

func TestParentLinkage(t *testing.T) {
	pool := NewPool()
	parent, err := Parse(pool, Raw{
		"identity": "ns.parent@1",
		"remote": map[string]any{
			"url":    "https://example.com/p.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
	}, ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}

	child, err := Parse(pool, Raw{
		"identity": "ns.child@1",
		"remote": map[string]any{
			"url":    "https://example.com/c.tar.gz",
			"sha256": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		},
	}, ParseOptions{Parent: parent})
	if err != nil {
		t.Fatal(err)
	}
	if child.Parent != parent {
		t.Fatal("expected child.Parent to be the stable pool pointer for parent")
	}
}

func TestParseSourceDependencies(t *testing.T) {
	pool := NewPool()
	c, err := Parse(pool, Raw{
		"identity": "ns.root@1",
		"remote": map[string]any{
			"url":    "https://example.com/root.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"source_dependencies": []any{
			map[string]any{
				"identity": "ns.dep@1",
				"git":      map[string]any{"url": "https://example.com/dep.git", "ref": "main"},
			},
		},
	}, ParseOptions{DeclaringFilePath: "/manifests/root.lua"})
	if err != nil {
		t.Fatal(err)
	}

	if len(c.SourceDependencies) != 1 {
		t.Fatalf("len(SourceDependencies) = %d, want 1", len(c.SourceDependencies))
	}
	dep := c.SourceDependencies[0]
	if dep.Identity != "ns.dep@1" || dep.Source.Kind != SourceGit {
		t.Fatalf("dep = %+v, want ns.dep@1/git", dep)
	}
	if dep.Parent != c {
		t.Fatal("expected dependency's Parent to be the stable pool pointer for its declaring cfg")
	}
	if dep.DeclaringFilePath != "/manifests/root.lua" {
		t.Fatalf("dep.DeclaringFilePath = %q, want inherited from parent", dep.DeclaringFilePath)
	}
	if pool.Len() != 2 {
		t.Fatalf("pool.Len() = %d, want 2 (root + dependency)", pool.Len())
	}
}

func TestParseSourceDependenciesPropagatesNestedError(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.root@1",
		"remote": map[string]any{
			"url":    "https://example.com/root.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"source_dependencies": []any{
			map[string]any{"identity": "ns.dep@1"}, // no source: invalid
		},
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected a nested dependency missing its source to fail Parse")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	pool := NewPool()
	_, err := Parse(pool, Raw{
		"identity": "ns.name@1",
		"remote": map[string]any{
			"url":    "https://example.com/pkg.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		"sourcedependencies": []any{}, // typo'd field name
	}, ParseOptions{})
	if err == nil {
		t.Fatal("expected rejection of an unrecognized field")
	}
}
