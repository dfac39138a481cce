package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlesnicholson/envy/internal/cache"
	"github.com/charlesnicholson/envy/internal/verify"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "inspect and maintain the on-disk package cache",
}

var gcOlderThan time.Duration

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "remove incomplete cache entries left behind by an interrupted build",
	Long: "gc walks assets/ and recipes/ under the cache root and removes any\n" +
		"entry directory missing its .envy-complete marker: the leftovers of a\n" +
		"build that was killed between ensure_entry and Commit. With\n" +
		"--older-than, also removes complete entries whose marker is older\n" +
		"than the given duration.",
	RunE: runCacheGC,
}

func init() {
	cacheGCCmd.Flags().DurationVar(&gcOlderThan, "older-than", 0,
		"additionally remove complete entries whose .envy-complete marker is older than this duration (e.g. 720h)")
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "recompute every asset's install-tree fingerprint and compare it to .envy-hash",
	RunE:  runCacheVerify,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "print the resolved cache root directory",
	RunE:  runCachePath,
}

func init() {
	cacheCmd.AddCommand(cacheGCCmd, cacheVerifyCmd, cachePathCmd)
}

func runCachePath(cmd *cobra.Command, args []string) error {
	c, err := cache.Open(appConfig.CacheRoot)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), c.Root())
	return nil
}

func runCacheGC(cmd *cobra.Command, args []string) error {
	c, err := cache.Open(appConfig.CacheRoot)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	var removedIncomplete, removedAged int
	cutoff := time.Now().Add(-gcOlderThan)
	for _, area := range []string{"assets", "recipes"} {
		dir := filepath.Join(c.Root(), area)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("cache gc: read %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			entryPath := filepath.Join(dir, e.Name())
			markerPath := filepath.Join(entryPath, ".envy-complete")
			marker, err := os.Stat(markerPath)
			if err != nil {
				if err := os.RemoveAll(entryPath); err != nil {
					return fmt.Errorf("cache gc: remove %s: %w", entryPath, err)
				}
				fmt.Fprintf(w, "removed incomplete entry %s\n", entryPath)
				removedIncomplete++
				continue
			}
			if gcOlderThan > 0 && marker.ModTime().Before(cutoff) {
				if err := os.RemoveAll(entryPath); err != nil {
					return fmt.Errorf("cache gc: remove %s: %w", entryPath, err)
				}
				fmt.Fprintf(w, "removed aged entry %s (marker age %s)\n", entryPath, time.Since(marker.ModTime()).Round(time.Second))
				removedAged++
			}
		}
	}
	fmt.Fprintf(w, "%d incomplete entr(y/ies) removed, %d aged entr(y/ies) removed\n", removedIncomplete, removedAged)
	return nil
}

func runCacheVerify(cmd *cobra.Command, args []string) error {
	c, err := cache.Open(appConfig.CacheRoot)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	assetsDir := filepath.Join(c.Root(), "assets")
	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "0 asset(s) checked")
			return nil
		}
		return fmt.Errorf("cache verify: read %s: %w", assetsDir, err)
	}

	var checked, mismatched int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		entryPath := filepath.Join(assetsDir, e.Name())
		assetPath := filepath.Join(entryPath, "asset")
		if _, err := os.Stat(assetPath); err != nil {
			continue
		}

		recorded, err := os.ReadFile(filepath.Join(entryPath, ".envy-hash"))
		if err != nil {
			fmt.Fprintf(w, "%s: no recorded hash: %v\n", e.Name(), err)
			mismatched++
			continue
		}

		actual, err := verify.BLAKE3Tree(assetPath)
		if err != nil {
			fmt.Fprintf(w, "%s: hash failed: %v\n", e.Name(), err)
			mismatched++
			continue
		}
		checked++

		if hex.EncodeToString(actual[:]) != string(recorded) {
			fmt.Fprintf(w, "%s: MISMATCH recorded=%s actual=%x\n", e.Name(), recorded, actual)
			mismatched++
		}
	}

	fmt.Fprintf(w, "%d asset(s) checked, %d mismatch(es)\n", checked, mismatched)
	if mismatched > 0 {
		return fmt.Errorf("cache verify: %d mismatch(es)", mismatched)
	}
	return nil
}
