package buildenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildCopyThroughWhenNoScript(t *testing.T) {
	stage := t.TempDir()
	install := filepath.Join(t.TempDir(), "install")

	if err := os.WriteFile(filepath.Join(stage, "file.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(stage, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stage, "nested", "deep.txt"), []byte("deep"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := &Env{}
	if err := env.Build(context.Background(), nil, stage, install, func(string) {}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(install, "nested", "deep.txt"))
	if err != nil {
		t.Fatalf("reading copied file: %v", err)
	}
	if string(got) != "deep" {
		t.Fatalf("got %q, want %q", got, "deep")
	}
}

func TestBuildRunsScriptAndForwardsOutput(t *testing.T) {
	stage := t.TempDir()
	install := t.TempDir()

	var lines []string
	env := &Env{}
	script := &BuildScript{Command: "echo building; mkdir -p \"$ENVY_INSTALL_DIR\"; touch \"$ENVY_INSTALL_DIR/out\""}
	err := env.Build(context.Background(), script, stage, install, func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(lines) == 0 || lines[0] != "building" {
		t.Fatalf("expected forwarded output line %q, got %v", "building", lines)
	}
	if _, err := os.Stat(filepath.Join(install, "out")); err != nil {
		t.Fatalf("expected install output: %v", err)
	}
}

func TestBuildRejectsUnknownFunctionType(t *testing.T) {
	env := &Env{}
	err := env.Build(context.Background(), "not-a-script", t.TempDir(), t.TempDir(), func(string) {})
	if err == nil {
		t.Fatal("expected error for unexpected build function type")
	}
}
