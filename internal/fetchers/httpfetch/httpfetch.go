// Package httpfetch is the HTTP(S) network collaborator spec.md §1
// names as an external dependency ("HTTP clients") and §4.5's fetch phase
// action calls into for remote{} sources. Downloads are rate-limited and
// retried with exponential backoff on transient failures, per spec.md §7's
// NetworkError recovery policy.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Default per-operation timeouts, spec.md §5: 60s connect / 600s transfer.
const (
	DefaultConnectTimeout  = 60 * time.Second
	DefaultTransferTimeout = 600 * time.Second
	DefaultRetries         = 3
)

// ErrNetworkError marks a transient failure eligible for the caller's
// retry-with-backoff policy (spec.md §7 NetworkError). ErrFetchError marks
// one that is not (spec.md §7 FetchError): a 4xx response, for instance.
type ErrNetworkError struct{ Err error }

func (e *ErrNetworkError) Error() string { return fmt.Sprintf("httpfetch: network: %v", e.Err) }
func (e *ErrNetworkError) Unwrap() error { return e.Err }

type ErrFetchError struct{ Err error }

func (e *ErrFetchError) Error() string { return fmt.Sprintf("httpfetch: %v", e.Err) }
func (e *ErrFetchError) Unwrap() error { return e.Err }

// Client downloads remote{} sources into a cfg's work/fetch directory.
// Satisfies pipeline.Fetcher's FetchRemote half; FetchGit always errors
// (use gitfetch.Client, or the composite in internal/fetchers for a single
// Fetcher that dispatches between them).
type Client struct {
	HTTP    *http.Client
	Limiter *rate.Limiter
	Retries int
}

// New returns a Client configured per spec.md §5's default timeouts and
// §7's default retry count, rate-limited to avoid hammering a single
// upstream across many concurrently-fetching packages.
func New() *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout: DefaultConnectTimeout + DefaultTransferTimeout,
		},
		Limiter: rate.NewLimiter(rate.Limit(8), 16),
		Retries: DefaultRetries,
	}
}

// FetchRemote downloads url into destDir, retrying transient failures up
// to Retries times (DefaultRetries when Retries is zero or negative) with
// exponential backoff, and returns the downloaded file's path.
func (c *Client) FetchRemote(ctx context.Context, url, destDir string) (string, error) {
	name := filepath.Base(path.Clean(url))
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	dest := filepath.Join(destDir, name)

	retries := c.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", &ErrNetworkError{Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		if err := c.Limiter.Wait(ctx); err != nil {
			return "", &ErrNetworkError{Err: err}
		}

		err := c.download(ctx, url, dest)
		if err == nil {
			return dest, nil
		}
		if _, fatal := err.(*ErrFetchError); fatal {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// FetchGit is not supported by the HTTP client; a Fetcher for git{} sources
// is internal/fetchers/gitfetch.
func (c *Client) FetchGit(ctx context.Context, url, ref, destDir string) error {
	return &ErrFetchError{Err: fmt.Errorf("httpfetch: does not handle git sources (%s@%s)", url, ref)}
}

func (c *Client) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ErrFetchError{Err: err}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ErrNetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &ErrNetworkError{Err: fmt.Errorf("status %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ErrFetchError{Err: fmt.Errorf("status %s fetching %s", resp.Status, url)}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &ErrFetchError{Err: err}
	}
	out, err := os.Create(dest)
	if err != nil {
		return &ErrFetchError{Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(dest)
		if strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "EOF") {
			return &ErrNetworkError{Err: err}
		}
		return &ErrFetchError{Err: err}
	}
	return nil
}
