package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func resetState() {
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	configMu.Lock()
	config = loggingConfig{}
	configMu.Unlock()
	logsDir = ""
	cacheRoot = ""
}

func TestInitializeDisabledWithoutConfig(t *testing.T) {
	resetState()
	dir := t.TempDir()
	if err := Initialize(dir, filepath.Join(dir, "envy.json")); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if IsDebugMode() {
		t.Fatal("expected debug mode disabled when envy.json is absent")
	}
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Fatal("expected no logs directory to be created when debug mode is off")
	}
}

func TestInitializeEnabledWritesLogFile(t *testing.T) {
	resetState()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "envy.json")
	if err := os.WriteFile(cfgPath, []byte(`{"logging":{"debug_mode":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(dir, cfgPath); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("expected debug mode enabled")
	}
	Get(CategoryEngine).Info("hello %s", "world")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("logs dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one log file")
	}
}

func TestCategoryDisabledIsNoOp(t *testing.T) {
	resetState()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "envy.json")
	body := `{"logging":{"debug_mode":true,"categories":{"cache":false}}}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(dir, cfgPath); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if IsCategoryEnabled(CategoryCache) {
		t.Fatal("expected cache category disabled")
	}
	if !IsCategoryEnabled(CategoryEngine) {
		t.Fatal("expected engine category enabled by default")
	}
}

func TestWithKeyPhaseDoesNotPanic(t *testing.T) {
	resetState()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "envy.json")
	if err := os.WriteFile(cfgPath, []byte(`{"logging":{"debug_mode":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(dir, cfgPath); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	kl := Get(CategoryFetch).WithKeyPhase("ns.pkg@1", "fetch")
	kl.Info("downloading")
	kl.Error("failed: %v", os.ErrNotExist)
	CloseAll()
}
