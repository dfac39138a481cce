// Package main implements the envy CLI: a content-addressed package
// manager driven by Lua manifests. Entry point and global flags live here;
// each subcommand's implementation is split into its own cmd_*.go file.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/charlesnicholson/envy/internal/config"
	"github.com/charlesnicholson/envy/internal/logging"
)

var (
	flagCacheRoot string
	flagVerbose   bool
	flagNoTUI     bool
	flagJobs      int

	appConfig *config.Config
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "envy",
	Short: "envy builds and caches packages from Lua manifests",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		manifestPath := config.DefaultManifestPath()
		loaded, err := config.Load(manifestPath)
		if err != nil {
			return fmt.Errorf("load envy.json: %w", err)
		}
		appConfig = loaded
		if flagCacheRoot != "" {
			appConfig.CacheRoot = flagCacheRoot
		}
		if flagJobs > 0 {
			appConfig.Jobs = flagJobs
		}
		if flagNoTUI {
			disabled := false
			appConfig.TUI = &disabled
		}

		zc := zap.NewProductionConfig()
		if flagVerbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		built, err := zc.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		logger = built

		if err := logging.Initialize(appConfig.CacheRoot, manifestPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCacheRoot, "cache-root", "", "cache root directory (default: platform cache dir)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&flagNoTUI, "no-tui", false, "disable the terminal dashboard, print plain output")
	rootCmd.PersistentFlags().IntVar(&flagJobs, "jobs", 0, "job count stored in the run config (default: number of CPUs); the pipeline runs one goroutine per package and does not read it")

	rootCmd.AddCommand(buildCmd, cacheCmd, whyCmd, deployCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cmdContext returns cmd's context, falling back to Background: cobra
// always sets one via ExecuteContext, but direct test invocations of a
// RunE may not.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func manifestArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	root, err := config.FindProjectRoot()
	if err != nil {
		return "envy.lua"
	}
	return filepath.Join(root, "envy.lua")
}
