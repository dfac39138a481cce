package buildenv

import (
	"context"
	"fmt"
)

// scripter is the subset of script.Runtime Scripted needs; declared here
// instead of importing internal/script directly so buildenv stays free of
// a dependency on gopher-lua.
type scripter interface {
	RunBuildFunction(ctx context.Context, fn any, stageDir, installDir string) (string, error)
}

// Scripted adapts a Lua build{} closure to Env.Build: it resolves fn (the
// opaque *lua.LFunction a cfg.Cfg.BuildFunction carries) to a shell command
// via Script, then runs that command through Env exactly as a manifest's
// static BuildScript would run.
type Scripted struct {
	Env    *Env
	Script scripter
}

// Build satisfies pipeline.Builder. fn nil means copy-through; otherwise
// fn must be a Lua closure Script can resolve to a command line.
func (s *Scripted) Build(ctx context.Context, fn any, stageDir, installDir string, onOutput func(line string)) error {
	if fn == nil {
		return s.Env.Build(ctx, nil, stageDir, installDir, onOutput)
	}
	if s.Script == nil {
		return fmt.Errorf("buildenv: build function present but no script runtime configured")
	}

	cmd, err := s.Script.RunBuildFunction(ctx, fn, stageDir, installDir)
	if err != nil {
		return fmt.Errorf("buildenv: resolve build function: %w", err)
	}
	if cmd == "" {
		return nil
	}
	return s.Env.Build(ctx, &BuildScript{Command: cmd}, stageDir, installDir, onOutput)
}
