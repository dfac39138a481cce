package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/key"
)

var whyCmd = &cobra.Command{
	Use:   "why <package-query> [manifest.lua]",
	Short: "print why a package is in the manifest: its declaring file and dependency chain",
	Long: "why loads a manifest the same way build does (defaulting to the project's\n" +
		"envy.lua when none is given), resolves the query against the parsed\n" +
		"packages, and walks each match's parent chain back to the manifest root,\n" +
		"printing the declaring file at each hop.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runWhy,
}

func runWhy(cmd *cobra.Command, args []string) error {
	query := args[0]
	manifestPath := manifestArg(args[1:])

	rt, err := newRuntime(cmdContext(cmd))
	if err != nil {
		return err
	}

	_, all, err := loadRoots(rt, manifestPath, nil)
	if err != nil {
		return err
	}

	pq, err := key.ParseQuery(query)
	if err != nil {
		return fmt.Errorf("package query %q: %w", query, err)
	}

	w := cmd.OutOrStdout()
	matched := 0
	for _, c := range all {
		k, err := key.Make(c.Identity, c.SerializedOptions)
		if err != nil || !k.Matches(pq) {
			continue
		}
		matched++
		fmt.Fprintf(w, "%s\n", k.String())
		printChain(w, c)
		fmt.Fprintln(w)
	}
	if matched == 0 {
		return fmt.Errorf("why: no package matched %q", query)
	}
	return nil
}

// printChain walks c's Parent pointers out to the manifest root, printing
// one line per hop: the declaring identity and the basename of the file
// that declared it.
func printChain(w io.Writer, c *cfg.Cfg) {
	fmt.Fprintf(w, "  declared in %s\n", c.DeclaringFilePath)
	depth := 1
	for p := c.Parent; p != nil; p = p.Parent {
		fmt.Fprintf(w, "  %*sneeded by %s (%s)\n", depth*2, "", p.Identity, filepath.Base(p.DeclaringFilePath))
		depth++
	}
}
