package pipeline

import "context"

// Fetcher is the network collaborator a recipe_fetch/fetch phase action
// calls into. Concrete implementations live in internal/fetchers/httpfetch
// and internal/fetchers/gitfetch; s3fetch satisfies the same interface for
// s3:// URLs.
type Fetcher interface {
	// FetchRemote downloads url into destDir and returns the path to the
	// downloaded file.
	FetchRemote(ctx context.Context, url, destDir string) (string, error)
	// FetchGit clones url at ref into destDir.
	FetchGit(ctx context.Context, url, ref, destDir string) error
}

// Extractor is the archive collaborator the stage phase calls into.
// Concrete implementation lives in internal/extract.
type Extractor interface {
	// Extract unpacks archivePath into destDir, descending into subdir
	// first if non-empty (the cfg's declared strip-prefix rule).
	Extract(ctx context.Context, archivePath, subdir, destDir string) error
}

// Builder is the shell/script collaborator the build phase calls into.
// Concrete implementations live in internal/buildenv: Env (a rendered
// command, or the default copy-through build) and Scripted (Lua build
// closures resolved through internal/script).
type Builder interface {
	// Build runs fn (nil means "no build function": copy stageDir to
	// installDir verbatim) against stageDir, producing installDir.
	// Output lines are forwarded to onOutput as they are produced.
	Build(ctx context.Context, fn any, stageDir, installDir string, onOutput func(line string)) error
}

// Scripter is the Lua runtime collaborator fetch_function cfgs call into.
// Concrete implementation lives in internal/script.
type Scripter interface {
	// RunFetchFunction invokes fn (opaque Lua closure handle) with
	// workDir as its destination and returns the raw dependency tables
	// it declared, per spec.md §4.5 recipe_fetch.
	RunFetchFunction(ctx context.Context, fn any, workDir string) ([]map[string]any, error)
}

// Collaborators bundles every external dependency the phase actions need,
// plus the host platform/arch pair ensure_asset entries key on.
type Collaborators struct {
	Fetch    Fetcher
	Extract  Extractor
	Build    Builder
	Script   Scripter
	Platform string
	Arch     string
}
