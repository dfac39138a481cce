package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charlesnicholson/envy/internal/deploy"
	"github.com/charlesnicholson/envy/internal/engine"
	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/pipeline"
)

var deployTarget string

var deployCmd = &cobra.Command{
	Use:   "deploy <manifest.lua> [package-query...]",
	Short: "build the given packages, then publish their asset trees to a destination",
	Long: "deploy runs the same build as 'envy build', then for every requested\n" +
		"root that completed successfully, publishes its asset tree to --target\n" +
		"(a filesystem path or an s3://bucket/prefix URL).",
	Args: cobra.MinimumNArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployTarget, "target", "", "deploy destination: a filesystem path or s3://bucket/prefix")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if deployTarget == "" {
		return fmt.Errorf("deploy: --target is required")
	}
	target, err := deploy.ParseTarget(deployTarget)
	if err != nil {
		return err
	}

	manifestPath := manifestArg(args)
	queries := args[1:]

	rt, err := newRuntime(cmdContext(cmd))
	if err != nil {
		return err
	}

	pool, roots, err := loadRoots(rt, manifestPath, queries)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("deploy: no packages matched")
	}

	var outSink pipeline.OutputSink
	if rt.sink != nil {
		outSink = rt.sink
	}

	results, err := engine.Run(pool, rt.cache, roots, rt.collab, outSink)
	if err != nil {
		return fmt.Errorf("deploy: build: %w", err)
	}

	w := cmd.OutOrStdout()
	ctx := cmdContext(cmd)
	var failed int
	for _, root := range roots {
		k, err := key.Make(root.Identity, root.SerializedOptions)
		if err != nil {
			continue
		}
		r, ok := results[k.String()]
		if !ok || r.Err != nil {
			fmt.Fprintf(w, "skip %s: build did not complete\n", k.String())
			failed++
			continue
		}

		dest, err := rt.deployP.Publish(ctx, r.AssetPath, target)
		if err != nil {
			fmt.Fprintf(w, "FAIL %s: %v\n", k.String(), err)
			failed++
			continue
		}
		fmt.Fprintf(w, "deployed %s -> %s\n", k.String(), dest)
	}

	if failed > 0 {
		return fmt.Errorf("deploy: %d package(s) failed", failed)
	}
	return nil
}
