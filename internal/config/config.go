// Package config resolves the cache root and loads envy.json, the project
// config discovered by walking upward from the working directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkConfig holds fetch timeouts and retry policy.
type NetworkConfig struct {
	ConnectTimeout  string `json:"connect_timeout,omitempty"`
	TransferTimeout string `json:"transfer_timeout,omitempty"`
	Retries         int    `json:"retries,omitempty"`
}

// LoggingConfig mirrors internal/logging's envy.json schema so a single
// envy.json round-trips through both packages.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode,omitempty"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
	JSONFormat bool            `json:"json_format,omitempty"`
}

// Config holds the project-level settings read from envy.json.
type Config struct {
	CacheRoot string        `json:"cache_root,omitempty"`
	Network   NetworkConfig `json:"network,omitempty"`
	TUI       *bool         `json:"tui,omitempty"`
	Jobs      int           `json:"jobs,omitempty"`
	Logging   LoggingConfig `json:"logging,omitempty"`
}

// DefaultConfig returns envy's built-in defaults before envy.json or
// environment overrides are applied.
func DefaultConfig() *Config {
	tui := true
	return &Config{
		Network: NetworkConfig{
			ConnectTimeout:  "60s",
			TransferTimeout: "600s",
			Retries:         3,
		},
		TUI:  &tui,
		Jobs: runtime.NumCPU(),
	}
}

// Load reads envy.json at path, layering it over DefaultConfig, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("ENVY_CACHE_ROOT"); root != "" {
		c.CacheRoot = root
	}
	if c.CacheRoot == "" {
		c.CacheRoot = DefaultCacheRoot()
	}
	if jobs := os.Getenv("ENVY_JOBS"); jobs != "" {
		if n, err := parsePositiveInt(jobs); err == nil {
			c.Jobs = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("not positive: %s", s)
	}
	return n, nil
}

// DefaultCacheRoot resolves the cache root per-platform when neither
// envy.json nor ENVY_CACHE_ROOT name one: macOS uses
// ~/Library/Caches/envy, other POSIX systems use $XDG_CACHE_HOME/envy or
// ~/.cache/envy, and Windows uses %LOCALAPPDATA%\envy or
// %USERPROFILE%\AppData\Local\envy.
func DefaultCacheRoot() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "envy")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "envy")
		}
		return filepath.Join(home, "AppData", "Local", "envy")
	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "envy")
		}
		return filepath.Join(home, ".cache", "envy")
	}
}

// ConnectTimeout parses Network.ConnectTimeout, defaulting to 60s.
func (c *Config) ConnectTimeout() time.Duration {
	return parseDurationOr(c.Network.ConnectTimeout, 60*time.Second)
}

// TransferTimeout parses Network.TransferTimeout, defaulting to 600s.
func (c *Config) TransferTimeout() time.Duration {
	return parseDurationOr(c.Network.TransferTimeout, 600*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// TUIEnabled reports whether the terminal dashboard should run.
func (c *Config) TUIEnabled() bool {
	return c.TUI == nil || *c.TUI
}

// DefaultManifestPath returns the default path to envy.json.
func DefaultManifestPath() string {
	root, err := FindProjectRoot()
	if err != nil {
		return "envy.json"
	}
	return filepath.Join(root, "envy.json")
}

// FindProjectRoot walks upward from the working directory looking for
// envy.json or go.mod, falling back to the working directory itself.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	start := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, "envy.json")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start, nil
}
