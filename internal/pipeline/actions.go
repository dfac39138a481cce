package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/envyerr"
	"github.com/charlesnicholson/envy/internal/phase"
	"github.com/charlesnicholson/envy/internal/record"
	"github.com/charlesnicholson/envy/internal/verify"
)

// errSkipToDeploy is a sentinel actionCheck returns when the fast cache
// path applies: the record has already been jumped straight to Deploy and
// drive should neither fail nor single-step advance it.
var errSkipToDeploy = errors.New("pipeline: cache fast path, already advanced to deploy")

// actionRecipeFetch runs while current is None, advancing to RecipeFetch.
// It detects dependency cycles, then joins every declared
// source_dependency at its needed_by phase (or completion) before letting
// this package's own pipeline proceed.
func (g *Graph) actionRecipeFetch(ctx context.Context, r *record.Record) error {
	if err := checkCycle(r.Cfg); err != nil {
		return err
	}

	for _, depCfg := range r.Cfg.SourceDependencies {
		dep, err := g.waitForDependency(depCfg)
		if err != nil {
			return err
		}
		r.AddDependency(dep)
	}

	switch r.Cfg.Source.Kind {
	case cfg.SourceRemote, cfg.SourceGit, cfg.SourceLocal:
		return g.ensureRecipeCached(r.Cfg)
	}
	return nil
}

// ensureRecipeCached claims (and, on a cold entry, populates) the
// recipes/<identity>.lua cache entry for a remote/git/local cfg, so the
// resolved source identifier that describes how to reach this package is
// itself content-addressed and shared across runs, not just the asset it
// ultimately produces.
func (g *Graph) ensureRecipeCached(c *cfg.Cfg) error {
	entry, err := g.Cache.EnsureRecipe(c.Identity)
	if err != nil {
		return envyerr.New(envyerr.CacheError, c.Identity, "recipe_fetch", err)
	}
	if entry.Complete() {
		return nil
	}

	recipePath := filepath.Join(entry.InstallPath, "recipe.lua")
	content := fmt.Sprintf("-- %s\nreturn %q\n", c.Identity, resolvedSourceIdentifier(c))
	if err := os.WriteFile(recipePath, []byte(content), 0o644); err != nil {
		entry.Rollback()
		return envyerr.New(envyerr.CacheError, c.Identity, "recipe_fetch", err)
	}
	if err := entry.Commit(); err != nil {
		return envyerr.New(envyerr.CacheError, c.Identity, "recipe_fetch", err)
	}
	return nil
}

// checkCycle walks a cfg's Parent chain looking for its own identity,
// per spec.md §4.5's cycle detection rule.
func checkCycle(c *cfg.Cfg) error {
	for p := c.Parent; p != nil; p = p.Parent {
		if p.Identity == c.Identity {
			return envyerr.New(envyerr.CycleError, c.Identity, "recipe_fetch",
				fmt.Errorf("dependency cycle: %s depends on itself via %s", c.Identity, p.Identity))
		}
	}
	return nil
}

// resolvedSourceIdentifier renders a stable string describing where a
// cfg's content comes from, the input to the check phase's digest.
func resolvedSourceIdentifier(c *cfg.Cfg) string {
	switch c.Source.Kind {
	case cfg.SourceRemote:
		return "remote:" + c.Source.URL + ":" + c.Source.SHA256
	case cfg.SourceGit:
		return "git:" + c.Source.GitURL + "@" + c.Source.Ref
	case cfg.SourceLocal:
		return "local:" + c.Source.FilePath
	case cfg.SourceFetchFunction:
		return "fetch_function:" + c.Identity
	case cfg.SourceWeakRef:
		return "weak_ref:" + c.Identity
	default:
		return "none:" + c.Identity
	}
}

// actionCheck runs while current is RecipeFetch, advancing to Check. It
// computes the cache entry's hash_prefix from a stable input digest, then
// probes ensure_asset. A cache hit jumps the record straight to Deploy.
func (g *Graph) actionCheck(ctx context.Context, r *record.Record) error {
	digestInput := r.Key.String() + "\x00" + resolvedSourceIdentifier(r.Cfg)
	for _, dep := range r.Dependencies() {
		// result_hash is only guaranteed valid once the dependency reaches
		// completion (spec.md §4.5's ordering guarantee), independent of
		// whatever earlier phase recipe_fetch's join actually waited for.
		dep.RequestTarget(phase.Completion)
		if dep.WaitUntil(phase.Completion) == phase.Failed {
			return envyerr.New(envyerr.FetchError, r.Cfg.Identity, "check",
				fmt.Errorf("dependency %s failed: %w", dep.Key, dep.Err()))
		}
		digestInput += "\x00" + dep.Key.String() + ":" + fmt.Sprintf("%x", dep.ResultHash)
	}
	digest := verify.SHA256OfString(digestInput)
	hashPrefix := fmt.Sprintf("%x", digest[:8])

	entry, err := g.Cache.EnsureAsset(r.Cfg.Identity, g.Collaborators.Platform, g.Collaborators.Arch, hashPrefix)
	if err != nil {
		return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "check", err)
	}
	r.Entry = entry

	if entry.Complete() {
		assetPath := filepath.Join(entry.EntryPath, "asset")
		hash, err := readResultHash(entry.EntryPath)
		if err != nil {
			return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "check", err)
		}
		r.SetAsset(assetPath, hash)
		if !r.JumpTo(phase.RecipeFetch, phase.Deploy) {
			return fmt.Errorf("pipeline: internal: lost race jumping %s to deploy", r.Key)
		}
		return errSkipToDeploy
	}

	return nil
}

func readResultHash(entryPath string) ([32]byte, error) {
	var out [32]byte
	data, err := os.ReadFile(resultHashPath(entryPath))
	if err != nil {
		return out, err
	}
	sum, err := hex.DecodeString(string(data))
	if err != nil || len(sum) != len(out) {
		return out, fmt.Errorf("pipeline: malformed result hash file %s", resultHashPath(entryPath))
	}
	copy(out[:], sum)
	return out, nil
}

func writeResultHash(entryPath string, hash [32]byte) error {
	return os.WriteFile(resultHashPath(entryPath), []byte(fmt.Sprintf("%x", hash)), 0o644)
}

func resultHashPath(entryPath string) string {
	return filepath.Join(entryPath, ".envy-hash")
}

// actionFetch runs while current is Check, advancing to Fetch. It
// populates the held entry's fetch/ directory from the cfg's source.
func (g *Graph) actionFetch(ctx context.Context, r *record.Record) error {
	if r.Entry == nil {
		return fmt.Errorf("pipeline: fetch phase ran without a held cache entry for %s", r.Key)
	}

	switch r.Cfg.Source.Kind {
	case cfg.SourceRemote:
		if g.Collaborators.Fetch == nil {
			return envyerr.New(envyerr.NetworkError, r.Cfg.Identity, "fetch", fmt.Errorf("no fetcher collaborator configured"))
		}
		path, err := g.Collaborators.Fetch.FetchRemote(ctx, r.Cfg.Source.URL, r.Entry.FetchPath)
		if err != nil {
			return envyerr.New(envyerr.NetworkError, r.Cfg.Identity, "fetch", err)
		}
		sum, err := verify.SHA256Hex(path)
		if err != nil {
			return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "fetch", err)
		}
		if err := verify.SHA256VerifyHex(r.Cfg.Source.SHA256, sum); err != nil {
			return envyerr.New(envyerr.HashMismatch, r.Cfg.Identity, "fetch", err)
		}
	case cfg.SourceGit:
		if g.Collaborators.Fetch == nil {
			return envyerr.New(envyerr.NetworkError, r.Cfg.Identity, "fetch", fmt.Errorf("no fetcher collaborator configured"))
		}
		if err := g.Collaborators.Fetch.FetchGit(ctx, r.Cfg.Source.GitURL, r.Cfg.Source.Ref, r.Entry.FetchPath); err != nil {
			return envyerr.New(envyerr.NetworkError, r.Cfg.Identity, "fetch", err)
		}
	case cfg.SourceLocal:
		if err := copyFile(r.Cfg.Source.FilePath, filepath.Join(r.Entry.FetchPath, filepath.Base(r.Cfg.Source.FilePath))); err != nil {
			return envyerr.New(envyerr.FetchError, r.Cfg.Identity, "fetch", err)
		}
	case cfg.SourceFetchFunction:
		if g.Collaborators.Script == nil {
			return envyerr.New(envyerr.ScriptError, r.Cfg.Identity, "fetch", fmt.Errorf("no script collaborator configured"))
		}
		rawDeps, err := g.Collaborators.Script.RunFetchFunction(ctx, r.Cfg.Source.FetchFunction, r.Entry.FetchPath)
		if err != nil {
			return envyerr.New(envyerr.ScriptError, r.Cfg.Identity, "fetch", err)
		}
		// The closure's returned tables become declared_dependencies: parse
		// each into its own cfg, spawn its record, and join this package's
		// advance past fetch on that dependency reaching its needed_by
		// phase, exactly like recipe_fetch's source_dependencies join.
		for i, raw := range rawDeps {
			depCfg, err := cfg.Parse(g.Pool, cfg.Raw(raw), cfg.ParseOptions{
				Parent:            r.Cfg,
				DeclaringFilePath: r.Cfg.DeclaringFilePath,
			})
			if err != nil {
				return envyerr.New(envyerr.ScriptError, r.Cfg.Identity, "fetch",
					fmt.Errorf("fetch_function dependency %d: %w", i, err))
			}
			dep, err := g.waitForDependency(depCfg)
			if err != nil {
				return err
			}
			r.AddDependency(dep)
		}
	case cfg.SourceWeakRef:
		// No content to fetch: a weak_ref cfg is a pure graph edge.
	default:
		return envyerr.New(envyerr.InvalidCfg, r.Cfg.Identity, "fetch", fmt.Errorf("unknown source kind %v", r.Cfg.Source.Kind))
	}
	return nil
}

// actionStage runs while current is Fetch, advancing to Stage. It unpacks
// or copies fetched content into stage/, honoring the cfg's subdir rule.
func (g *Graph) actionStage(ctx context.Context, r *record.Record) error {
	if r.Cfg.Source.Kind == cfg.SourceWeakRef {
		return nil
	}

	entries, err := os.ReadDir(r.Entry.FetchPath)
	if err != nil {
		return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "stage", err)
	}
	if len(entries) == 0 {
		return nil
	}

	subdir := r.Cfg.Source.Subdir
	for _, e := range entries {
		full := filepath.Join(r.Entry.FetchPath, e.Name())
		if isArchive(e.Name()) {
			if g.Collaborators.Extract == nil {
				return envyerr.New(envyerr.ExtractError, r.Cfg.Identity, "stage", fmt.Errorf("no extractor configured"))
			}
			if err := g.Collaborators.Extract.Extract(ctx, full, subdir, r.Entry.StagePath); err != nil {
				return envyerr.New(envyerr.ExtractError, r.Cfg.Identity, "stage", err)
			}
			continue
		}
		if e.IsDir() {
			if err := copyTree(full, filepath.Join(r.Entry.StagePath, e.Name())); err != nil {
				return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "stage", err)
			}
			continue
		}
		if err := copyFile(full, filepath.Join(r.Entry.StagePath, e.Name())); err != nil {
			return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "stage", err)
		}
	}
	return nil
}

func isArchive(name string) bool {
	for _, suf := range []string{".tar", ".tar.gz", ".tgz", ".tar.zst", ".zip"} {
		if len(name) >= len(suf) && name[len(name)-len(suf):] == suf {
			return true
		}
	}
	return false
}

// actionBuild runs while current is Stage, advancing to Build. It invokes
// the cfg's build function (or the default copy-through build) against
// stage/, producing install/.
func (g *Graph) actionBuild(ctx context.Context, r *record.Record) error {
	if r.Cfg.Source.Kind == cfg.SourceWeakRef {
		return nil
	}

	onOutput := func(line string) { g.Sink.Line(r.Key, line) }

	if g.Collaborators.Build == nil {
		if err := copyTree(r.Entry.StagePath, r.Entry.InstallPath); err != nil {
			return envyerr.New(envyerr.BuildError, r.Cfg.Identity, "build", err)
		}
		return nil
	}
	if err := g.Collaborators.Build.Build(ctx, r.Cfg.BuildFunction, r.Entry.StagePath, r.Entry.InstallPath, onOutput); err != nil {
		return envyerr.New(envyerr.BuildError, r.Cfg.Identity, "build", err)
	}
	return nil
}

// actionInstall runs while current is Build, advancing to Install. It
// fingerprints the installed tree and records result_hash.
func (g *Graph) actionInstall(ctx context.Context, r *record.Record) error {
	hash, err := verify.BLAKE3Tree(r.Entry.InstallPath)
	if err != nil {
		return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "install", err)
	}
	if err := writeResultHash(r.Entry.EntryPath, hash); err != nil {
		return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "install", err)
	}
	r.SetAsset(filepath.Join(r.Entry.EntryPath, "asset"), hash)
	return nil
}

// actionDeploy runs while current is Install, advancing to Deploy. It
// commits the cache entry (releasing the held lock), unless the entry was
// already complete on arrival (the cache fast path, which holds no lock).
// It records no product mapping; a product dependency's path is resolved
// on the dependent's side, in resolveProductDependency.
func (g *Graph) actionDeploy(ctx context.Context, r *record.Record) error {
	if r.Entry.Complete() {
		return nil
	}
	if err := r.Entry.Commit(); err != nil {
		return envyerr.New(envyerr.CacheError, r.Cfg.Identity, "deploy", err)
	}
	return nil
}

// actionCompletion runs while current is Deploy, advancing to Completion.
// There is nothing left to do but let the driver's Advance call signal
// waiters blocked in record.WaitUntil.
func (g *Graph) actionCompletion(ctx context.Context, r *record.Record) error {
	return nil
}

// ResolveProduct returns the path a product-dependency cfg resolves to:
// productCfg.Product joined under the provider record's asset path, or the
// provider's asset path itself if productCfg declares no product name.
func ResolveProduct(provider *record.Record, productCfg *cfg.Cfg) string {
	if productCfg.Product == "" {
		return provider.AssetPath
	}
	return filepath.Join(provider.AssetPath, productCfg.Product)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
