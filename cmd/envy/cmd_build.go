package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/engine"
	"github.com/charlesnicholson/envy/internal/errfmt"
	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/pipeline"
	"github.com/charlesnicholson/envy/internal/tui"
)

var buildCmd = &cobra.Command{
	Use:   "build [manifest.lua] [package-query...]",
	Short: "fetch, build, and cache the packages a manifest declares",
	Long: "build loads a Lua manifest, resolves every package{...} it declares, and\n" +
		"drives each through the engine's phase pipeline. With no package-query\n" +
		"arguments every declared package is a root; otherwise only packages\n" +
		"matching one of the given queries (see 'envy why' for query syntax) run.",
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	manifestPath := manifestArg(args)
	queries := args
	if len(args) > 0 {
		queries = args[1:]
	}

	rt, err := newRuntime(cmdContext(cmd))
	if err != nil {
		return err
	}

	pool, roots, err := loadRoots(rt, manifestPath, queries)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("build: no packages matched")
	}

	var dashboardDone chan struct{}
	if rt.sink != nil {
		dashboardDone = make(chan struct{})
		go func() {
			_ = tui.RunDashboard(rt.sink.Events())
			close(dashboardDone)
		}()
	}

	var outSink pipeline.OutputSink
	if rt.sink != nil {
		outSink = rt.sink
	}

	start := time.Now()
	results, runErr := engine.Run(pool, rt.cache, roots, rt.collab, outSink)
	if rt.sink != nil {
		rt.sink.Close()
		<-dashboardDone
	}
	if runErr != nil {
		return fmt.Errorf("build: %w", runErr)
	}

	return printBuildReport(cmd.OutOrStdout(), pool, results, time.Since(start))
}

// loadRoots parses every package{...} table the manifest declares and
// narrows the root set to those matching queries, if any were given.
func loadRoots(rt *cliRuntime, manifestPath string, queries []string) (*cfg.Pool, []*cfg.Cfg, error) {
	pool := cfg.NewPool()
	raws, err := rt.script.LoadManifest(manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load manifest %s: %w", manifestPath, err)
	}

	all := make([]*cfg.Cfg, 0, len(raws))
	for _, raw := range raws {
		c, err := cfg.Parse(pool, raw, cfg.ParseOptions{DeclaringFilePath: manifestPath})
		if err != nil {
			return nil, nil, fmt.Errorf("parse package: %w", err)
		}
		all = append(all, c)
	}

	if len(queries) == 0 {
		return pool, all, nil
	}

	parsed := make([]key.Query, len(queries))
	for i, q := range queries {
		pq, err := key.ParseQuery(q)
		if err != nil {
			return nil, nil, fmt.Errorf("package query %q: %w", q, err)
		}
		parsed[i] = pq
	}

	var roots []*cfg.Cfg
	for _, c := range all {
		k, err := key.Make(c.Identity, c.SerializedOptions)
		if err != nil {
			continue
		}
		for _, pq := range parsed {
			if k.Matches(pq) {
				roots = append(roots, c)
				break
			}
		}
	}
	return pool, roots, nil
}

// printBuildReport writes the final per-package summary: canonical key,
// asset path or failure, and the walked provenance chain for anything that
// failed, the way errfmt.Report.String renders a diagnostic.
func printBuildReport(w io.Writer, pool *cfg.Pool, results map[string]engine.Result, elapsed time.Duration) error {
	byIdentity := make(map[string]*cfg.Cfg, pool.Len())
	for _, c := range pool.All() {
		if k, err := key.Make(c.Identity, c.SerializedOptions); err == nil {
			byIdentity[k.String()] = c
		}
	}

	var failed int
	for k, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", k, r.Err)
			if c, ok := byIdentity[k]; ok {
				report := errfmt.Format(c, "build", r.Err.Error())
				fmt.Fprint(w, indent(report.String()))
			}
			continue
		}
		fmt.Fprintf(w, "ok   %s -> %s\n", k, r.AssetPath)
	}

	fmt.Fprintf(w, "\n%d package(s), %d failed, in %s\n", len(results), failed, tui.FormatDuration(elapsed))
	if failed > 0 {
		return fmt.Errorf("build: %d package(s) failed", failed)
	}
	return nil
}

func indent(s string) string {
	var out strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		out.WriteString("    " + line + "\n")
	}
	return out.String()
}
