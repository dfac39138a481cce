package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charlesnicholson/envy/internal/cache"
	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/pipeline"
)

func localCollaborators() pipeline.Collaborators {
	return pipeline.Collaborators{Platform: "linux", Arch: "amd64"}
}

func writeContentFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunLocalPackageColdThenWarm(t *testing.T) {
	srcDir := t.TempDir()
	contentPath := writeContentFile(t, srcDir, "payload.bin", "hello world")

	c, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	pool := cfg.NewPool()
	root, err := cfg.Parse(pool, cfg.Raw{
		"identity": "ns.tool@1",
		"local":    map[string]any{"file_path": contentPath},
	}, cfg.ParseOptions{DeclaringFilePath: filepath.Join(srcDir, "root.lua")})
	if err != nil {
		t.Fatal(err)
	}

	results, err := Run(pool, c, []*cfg.Cfg{root}, localCollaborators(), nil)
	if err != nil {
		t.Fatal(err)
	}

	k, _ := key.Make(root.Identity, root.SerializedOptions)
	res, ok := results[k.String()]
	if !ok {
		t.Fatalf("no result for %s; results = %v", k, results)
	}
	if res.Err != nil {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.AssetPath == "" || res.ResultHashHex == "" {
		t.Fatal("expected a populated asset path and result hash")
	}
	if _, err := os.Stat(filepath.Join(res.AssetPath, "payload.bin")); err != nil {
		t.Fatalf("expected installed payload: %v", err)
	}

	// Second run over a fresh pool against the same cache should hit the
	// fast path and reproduce the identical result hash.
	pool2 := cfg.NewPool()
	root2, err := cfg.Parse(pool2, cfg.Raw{
		"identity": "ns.tool@1",
		"local":    map[string]any{"file_path": contentPath},
	}, cfg.ParseOptions{DeclaringFilePath: filepath.Join(srcDir, "root.lua")})
	if err != nil {
		t.Fatal(err)
	}
	results2, err := Run(pool2, c, []*cfg.Cfg{root2}, localCollaborators(), nil)
	if err != nil {
		t.Fatal(err)
	}
	res2 := results2[k.String()]
	if res2.Err != nil {
		t.Fatalf("unexpected failure on warm run: %v", res2.Err)
	}
	if res2.ResultHashHex != res.ResultHashHex {
		t.Fatalf("warm run hash %q != cold run hash %q", res2.ResultHashHex, res.ResultHashHex)
	}
}

func TestRunWithSourceDependency(t *testing.T) {
	srcDir := t.TempDir()
	depPath := writeContentFile(t, srcDir, "dep.bin", "dependency content")
	rootPath := writeContentFile(t, srcDir, "root.bin", "root content")

	c, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pool := cfg.NewPool()

	depCfg, err := cfg.Parse(pool, cfg.Raw{
		"identity": "ns.dep@1",
		"local":    map[string]any{"file_path": depPath},
	}, cfg.ParseOptions{DeclaringFilePath: filepath.Join(srcDir, "root.lua")})
	if err != nil {
		t.Fatal(err)
	}

	rootCfg, err := cfg.Parse(pool, cfg.Raw{
		"identity": "ns.root@1",
		"local":    map[string]any{"file_path": rootPath},
	}, cfg.ParseOptions{DeclaringFilePath: filepath.Join(srcDir, "root.lua")})
	if err != nil {
		t.Fatal(err)
	}
	rootCfg.SourceDependencies = append(rootCfg.SourceDependencies, depCfg)

	results, err := Run(pool, c, []*cfg.Cfg{rootCfg}, localCollaborators(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rootKey, _ := key.Make(rootCfg.Identity, rootCfg.SerializedOptions)
	depKey, _ := key.Make(depCfg.Identity, depCfg.SerializedOptions)

	if res := results[rootKey.String()]; res.Err != nil {
		t.Fatalf("root failed: %v", res.Err)
	}
	if res := results[depKey.String()]; res.Err != nil {
		t.Fatalf("dependency failed: %v", res.Err)
	}
}

func TestParseRejectsMissingLocalFile(t *testing.T) {
	pool := cfg.NewPool()
	_, err := cfg.Parse(pool, cfg.Raw{
		"identity": "ns.tool@1",
		"local":    map[string]any{"file_path": "/nonexistent/path/does-not-exist.bin"},
	}, cfg.ParseOptions{})
	if err == nil {
		t.Fatal("expected failure for a missing local source file")
	}
}

func TestRunFailsOnRemoteFetchError(t *testing.T) {
	c, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pool := cfg.NewPool()
	root, err := cfg.Parse(pool, cfg.Raw{
		"identity": "ns.tool@1",
		"remote": map[string]any{
			"url":    "https://example.invalid/does-not-exist.tar.gz",
			"sha256": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
	}, cfg.ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}

	results, err := Run(pool, c, []*cfg.Cfg{root}, localCollaborators(), nil)
	if err != nil {
		t.Fatal(err)
	}
	k, _ := key.Make(root.Identity, root.SerializedOptions)
	res := results[k.String()]
	if res.Err == nil {
		t.Fatal("expected failure when no fetcher collaborator is configured for a remote source")
	}
}
