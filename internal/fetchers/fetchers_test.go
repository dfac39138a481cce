package fetchers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/charlesnicholson/envy/internal/fetchers/gitfetch"
	"github.com/charlesnicholson/envy/internal/fetchers/httpfetch"
)

func TestFetchRemoteRoutesPlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := New(httpfetch.New(), &gitfetch.Client{}, nil)
	path, err := c.FetchRemote(context.Background(), srv.URL+"/x.tar.gz", t.TempDir())
	if err != nil {
		t.Fatalf("FetchRemote: %v", err)
	}
	if filepath.Base(path) != "x.tar.gz" {
		t.Fatalf("unexpected path: %s", path)
	}
}

func TestFetchRemoteS3WithoutClientErrors(t *testing.T) {
	c := New(httpfetch.New(), &gitfetch.Client{}, nil)
	if _, err := c.FetchRemote(context.Background(), "s3://bucket/key", t.TempDir()); err == nil {
		t.Fatal("expected error for s3:// without configured client")
	}
}
