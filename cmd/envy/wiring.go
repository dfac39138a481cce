package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/charlesnicholson/envy/internal/buildenv"
	"github.com/charlesnicholson/envy/internal/cache"
	"github.com/charlesnicholson/envy/internal/deploy"
	"github.com/charlesnicholson/envy/internal/extract"
	"github.com/charlesnicholson/envy/internal/fetchers"
	"github.com/charlesnicholson/envy/internal/fetchers/gitfetch"
	"github.com/charlesnicholson/envy/internal/fetchers/httpfetch"
	"github.com/charlesnicholson/envy/internal/fetchers/s3fetch"
	"github.com/charlesnicholson/envy/internal/pipeline"
	"github.com/charlesnicholson/envy/internal/script"
	"github.com/charlesnicholson/envy/internal/tui"
)

// cliRuntime bundles the collaborators every command that drives the
// engine needs: the cache, the scripted build/fetch/deploy stack, and the
// dashboard sink.
type cliRuntime struct {
	cache   *cache.Cache
	collab  pipeline.Collaborators
	script  *script.Runtime
	deployP *deploy.Publisher
	sink    *tui.Sink
}

// newRuntime opens the cache and wires every external collaborator behind
// pipeline.Collaborators, attempting an S3 client opportunistically (a
// manifest with no s3:// sources or deploy target works without AWS
// credentials configured).
func newRuntime(ctx context.Context) (*cliRuntime, error) {
	c, err := cache.Open(appConfig.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	scriptRT := script.New()
	s3Client, err := s3fetch.New(ctx)
	if err != nil {
		s3Client = nil
	}

	fetch := fetchers.New(httpfetch.New(), &gitfetch.Client{}, s3Client)
	extractor := &extract.Extractor{}
	builder := &buildenv.Scripted{Env: &buildenv.Env{}, Script: scriptRT}

	var sink *tui.Sink
	if appConfig.TUIEnabled() {
		sink = tui.NewSink(256)
	}

	return &cliRuntime{
		cache: c,
		collab: pipeline.Collaborators{
			Fetch:    fetch,
			Extract:  extractor,
			Build:    builder,
			Script:   scriptRT,
			Platform: runtime.GOOS,
			Arch:     runtime.GOARCH,
		},
		script:  scriptRT,
		deployP: &deploy.Publisher{S3: s3Client, Script: scriptRT},
		sink:    sink,
	}, nil
}
