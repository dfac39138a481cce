// Package fetchers composes the URL-scheme-specific fetch collaborators
// (httpfetch, gitfetch, s3fetch) behind a single pipeline.Fetcher, routing
// each call by scheme rather than forcing every caller to know which
// client handles which URL.
package fetchers

import (
	"context"
	"fmt"
	"strings"

	"github.com/charlesnicholson/envy/internal/fetchers/gitfetch"
	"github.com/charlesnicholson/envy/internal/fetchers/httpfetch"
	"github.com/charlesnicholson/envy/internal/fetchers/s3fetch"
)

// Composite routes FetchRemote/FetchGit calls to the collaborator that
// understands the URL's scheme.
type Composite struct {
	HTTP *httpfetch.Client
	Git  *gitfetch.Client
	S3   *s3fetch.Client
}

// New builds a Composite from the default HTTP and Git clients. s3 is
// optional; pass nil when no s3:// destinations are in play.
func New(httpClient *httpfetch.Client, gitClient *gitfetch.Client, s3Client *s3fetch.Client) *Composite {
	return &Composite{HTTP: httpClient, Git: gitClient, S3: s3Client}
}

// FetchRemote dispatches to s3fetch for s3:// URLs and httpfetch otherwise.
func (c *Composite) FetchRemote(ctx context.Context, url, destDir string) (string, error) {
	if strings.HasPrefix(url, "s3://") {
		if c.S3 == nil {
			return "", fmt.Errorf("fetchers: s3:// source but no s3 client configured")
		}
		return c.S3.FetchRemote(ctx, url, destDir)
	}
	return c.HTTP.FetchRemote(ctx, url, destDir)
}

// FetchGit always dispatches to gitfetch.
func (c *Composite) FetchGit(ctx context.Context, url, ref, destDir string) error {
	return c.Git.FetchGit(ctx, url, ref, destDir)
}
