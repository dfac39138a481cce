// Package deploy publishes a completed root package's installed asset tree
// to a destination given on the command line (envy deploy --target).
// Distinct from a package's own
// per-package "deploy" phase (the cache commit); this is the higher-level,
// whole-build "publish the result somewhere" step: resolve target -> copy
// or upload -> run post-deploy hook.
package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charlesnicholson/envy/internal/fetchers/s3fetch"
	"github.com/charlesnicholson/envy/internal/script"
)

// Target describes where a completed asset tree is published.
type Target struct {
	// LocalPath, if set, is a destination directory on the local
	// filesystem the asset tree is copied into verbatim.
	LocalPath string
	// S3Bucket/S3Prefix, if set, publish through internal/fetchers/s3fetch.
	S3Bucket string
	S3Prefix string
	// PostDeployHook, if non-nil, is a Lua closure (opaque; *lua.LFunction
	// in practice) run after publish with the final destination
	// description as its single string argument.
	PostDeployHook any
}

// ParseTarget reads a deploy destination string (envy deploy's --target
// flag): a filesystem path, or an "s3://bucket/prefix" URL.
func ParseTarget(dest string) (Target, error) {
	if bucket, prefix, ok := s3fetch.ParseS3URL(dest); ok {
		return Target{S3Bucket: bucket, S3Prefix: prefix}, nil
	}
	if dest == "" {
		return Target{}, fmt.Errorf("deploy: empty destination")
	}
	return Target{LocalPath: dest}, nil
}

// Publisher runs the publish step and any post-deploy Lua hook.
type Publisher struct {
	S3     *s3fetch.Client
	Script *script.Runtime
}

// Publish copies or uploads assetDir to t's destination, then invokes
// t.PostDeployHook if present.
func (p *Publisher) Publish(ctx context.Context, assetDir string, t Target) (string, error) {
	var destDescription string
	switch {
	case t.S3Bucket != "":
		if p.S3 == nil {
			return "", fmt.Errorf("deploy: s3 destination requires an s3fetch.Client")
		}
		if err := p.S3.Deploy(ctx, assetDir, t.S3Bucket, t.S3Prefix); err != nil {
			return "", fmt.Errorf("deploy: publish to s3://%s/%s: %w", t.S3Bucket, t.S3Prefix, err)
		}
		destDescription = fmt.Sprintf("s3://%s/%s", t.S3Bucket, strings.TrimPrefix(t.S3Prefix, "/"))
	case t.LocalPath != "":
		if err := copyTree(assetDir, t.LocalPath); err != nil {
			return "", fmt.Errorf("deploy: publish to %s: %w", t.LocalPath, err)
		}
		destDescription = t.LocalPath
	default:
		return "", fmt.Errorf("deploy: target has neither a local path nor an s3 bucket")
	}

	if t.PostDeployHook != nil {
		if p.Script == nil {
			return "", fmt.Errorf("deploy: post-deploy hook requires a script.Runtime")
		}
		if err := p.Script.RunHook(ctx, t.PostDeployHook, destDescription); err != nil {
			return "", fmt.Errorf("deploy: post-deploy hook: %w", err)
		}
	}
	return destDescription, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
