package buildenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeScripter struct {
	cmd string
	err error
}

func (f *fakeScripter) RunBuildFunction(ctx context.Context, fn any, stageDir, installDir string) (string, error) {
	return f.cmd, f.err
}

func TestScriptedBuildRunsResolvedCommand(t *testing.T) {
	stage := t.TempDir()
	install := t.TempDir()
	if err := os.WriteFile(filepath.Join(stage, "in.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Scripted{
		Env:    &Env{},
		Script: &fakeScripter{cmd: "cp in.txt " + filepath.Join(install, "out.txt")},
	}
	if err := s.Build(context.Background(), "some-lua-closure", stage, install, func(string) {}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(install, "out.txt")); err != nil {
		t.Fatalf("expected resolved command to run: %v", err)
	}
}

func TestScriptedBuildNilFunctionCopiesThrough(t *testing.T) {
	stage := t.TempDir()
	install := t.TempDir()
	if err := os.WriteFile(filepath.Join(stage, "in.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := &Scripted{Env: &Env{}}
	if err := s.Build(context.Background(), nil, stage, install, func(string) {}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(install, "in.txt")); err != nil {
		t.Fatalf("expected copy-through: %v", err)
	}
}
