// Package s3fetch is the AWS client collaborator spec.md §1 names
// explicitly ("AWS clients"): an alternate remote{} transport for cfgs
// whose url uses the s3:// scheme, and the deploy target internal/deploy
// publishes completed asset trees to.
package s3fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client downloads s3:// remote{} sources and uploads completed assets as
// a deploy target.
type Client struct {
	S3 *s3.Client
}

// New loads the default AWS config chain (env vars, shared config,
// instance role) and returns a ready Client.
func New(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3fetch: load AWS config: %w", err)
	}
	return &Client{S3: s3.NewFromConfig(cfg)}, nil
}

// ParseS3URL splits an "s3://bucket/key" URL into its parts.
func ParseS3URL(url string) (bucket, key string, ok bool) {
	const prefix = "s3://"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// FetchRemote downloads an s3:// URL into destDir, returning the
// downloaded file's path.
func (c *Client) FetchRemote(ctx context.Context, url, destDir string) (string, error) {
	bucket, key, ok := ParseS3URL(url)
	if !ok {
		return "", fmt.Errorf("s3fetch: not an s3:// url: %s", url)
	}

	dest := filepath.Join(destDir, filepath.Base(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("s3fetch: mkdir: %w", err)
	}

	out, err := c.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("s3fetch: get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("s3fetch: create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return "", fmt.Errorf("s3fetch: copy %s/%s: %w", bucket, key, err)
	}
	return dest, nil
}

// FetchGit is not supported by the S3 client.
func (c *Client) FetchGit(ctx context.Context, url, ref, destDir string) error {
	return fmt.Errorf("s3fetch: does not handle git sources (%s@%s)", url, ref)
}

// Deploy uploads every file under assetDir to bucket, keyed under prefix,
// used by internal/deploy when the deploy target is an s3:// URL.
func (c *Client) Deploy(ctx context.Context, assetDir, bucket, prefix string) error {
	return filepath.Walk(assetDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(assetDir, path)
		if err != nil {
			return err
		}
		key := strings.TrimPrefix(prefix+"/"+filepath.ToSlash(rel), "/")

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = c.S3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("s3fetch: upload %s: %w", key, err)
		}
		return nil
	})
}
