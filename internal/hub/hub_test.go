package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/llmfunc/internal/errs"
)

func TestGetDownloadsOnceAndCaches(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/lmz/candle-mistral/resolve/main/tokenizer.json" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			http.Error(w, "unauthorised: "+got, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"model":{}}`))
	}))
	defer srv.Close()

	cache := t.TempDir()
	c := New(WithBaseURL(srv.URL+"/"), WithCacheDir(cache), WithToken("secret"))
	repo := c.Repo("lmz/candle-mistral", "")
	if repo.String() != "lmz/candle-mistral@main" {
		t.Fatalf("String = %s", repo)
	}

	path, err := repo.Get(context.Background(), "tokenizer.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := filepath.Join(cache, "models--lmz--candle-mistral", "snapshots", "main", "tokenizer.json")
	if path != want {
		t.Fatalf("path = %s, want %s", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"model":{}}` {
		t.Fatalf("cached file = %q, %v", data, err)
	}

	if _, err := repo.Get(context.Background(), "tokenizer.json"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single request, got %d", hits.Load())
	}
}

func TestGetErrorsLeaveNoFile(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithCacheDir(t.TempDir()), WithToken(""))
	repo := c.Repo("org/model", "v1")
	_, err := repo.Get(context.Background(), "model.safetensors.index.json")
	if !errors.Is(err, errs.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if _, statErr := os.Stat(repo.LocalPath("model.safetensors.index.json")); !os.IsNotExist(statErr) {
		t.Fatalf("failed download left a file behind: %v", statErr)
	}
}

func TestGetHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	c := New(WithBaseURL("http://127.0.0.1:1"), WithCacheDir(t.TempDir()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Repo("a/b", "").Get(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
