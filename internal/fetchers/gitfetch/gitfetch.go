// Package gitfetch is the Git client collaborator spec.md §1 names
// explicitly ("Git clients") and §4.5's fetch phase action calls into for
// git{} sources: a shallow clone at a pinned ref into the cfg's
// work/fetch directory.
package gitfetch

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client clones git{} sources. Satisfies pipeline.Fetcher's FetchGit half;
// FetchRemote always errors (pair with httpfetch.Client for http(s)://
// remote{} sources).
type Client struct{}

// FetchRemote is not supported by the Git client.
func (c *Client) FetchRemote(ctx context.Context, url, destDir string) (string, error) {
	return "", fmt.Errorf("gitfetch: does not handle remote sources (%s)", url)
}

// FetchGit performs a shallow (depth-1) clone of url at ref into destDir.
// ref may be a branch, tag, or full commit SHA; go-git resolves it via a
// reference lookup first and falls back to a full-history clone plus
// checkout when ref names an arbitrary commit a shallow clone cannot
// reach directly.
func (c *Client) FetchGit(ctx context.Context, url, ref, destDir string) error {
	opts := &git.CloneOptions{
		URL:           url,
		Depth:         1,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
		SingleBranch:  true,
		Tags:          git.NoTags,
	}

	repo, err := git.PlainCloneContext(ctx, destDir, false, opts)
	if err == nil {
		return nil
	}

	// ref was not a branch name (tag, or bare commit SHA): retry with a
	// full clone and an explicit checkout, since a shallow clone cannot
	// fetch an arbitrary commit without knowing its ancestry in advance.
	repo, err = git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL: url,
	})
	if err != nil {
		return fmt.Errorf("gitfetch: clone %s: %w", url, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitfetch: worktree for %s: %w", url, err)
	}

	hash, err := resolveRef(repo, ref)
	if err != nil {
		return fmt.Errorf("gitfetch: resolve ref %q in %s: %w", ref, url, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		return fmt.Errorf("gitfetch: checkout %q in %s: %w", ref, url, err)
	}
	return nil
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if h, err := repo.ResolveRevision(plumbing.Revision(ref)); err == nil {
		return *h, nil
	}
	return plumbing.NewHash(ref), nil
}
