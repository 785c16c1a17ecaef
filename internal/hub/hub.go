// Package hub downloads model files from a Hugging Face compatible hub into
// the local cache layout used by the huggingface_hub tooling.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/logger"
)

// DefaultBaseURL is the public hub endpoint.
const DefaultBaseURL = "https://huggingface.co"

// Client fetches files. The zero value is not usable; call New.
type Client struct {
	BaseURL  string
	CacheDir string
	Token    string
	HTTP     *http.Client
	Log      logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a mirror or a test server.
func WithBaseURL(u string) Option { return func(c *Client) { c.BaseURL = strings.TrimRight(u, "/") } }

// WithCacheDir overrides the cache root.
func WithCacheDir(dir string) Option { return func(c *Client) { c.CacheDir = dir } }

// WithToken sets the bearer token for gated repos.
func WithToken(tok string) Option { return func(c *Client) { c.Token = tok } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(c *Client) { c.Log = l } }

// New builds a client from the environment (HF_ENDPOINT, HF_HOME,
// HF_HUB_CACHE, HF_TOKEN) and then applies opts.
func New(opts ...Option) *Client {
	c := &Client{
		BaseURL:  DefaultBaseURL,
		CacheDir: DefaultCacheDir(),
		Token:    os.Getenv("HF_TOKEN"),
		HTTP:     http.DefaultClient,
		Log:      logger.Nop(),
	}
	if ep := os.Getenv("HF_ENDPOINT"); ep != "" {
		c.BaseURL = strings.TrimRight(ep, "/")
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DefaultCacheDir follows huggingface_hub: $HF_HUB_CACHE, then
// $HF_HOME/hub, then ~/.cache/huggingface/hub.
func DefaultCacheDir() string {
	if d := os.Getenv("HF_HUB_CACHE"); d != "" {
		return d
	}
	if d := os.Getenv("HF_HOME"); d != "" {
		return filepath.Join(d, "hub")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "huggingface", "hub")
	}
	return filepath.Join(os.TempDir(), "huggingface", "hub")
}

// Repo is a model repository at a revision.
type Repo struct {
	ID       string
	Revision string
	client   *Client
}

// Repo returns a handle for id at revision ("main" when empty).
func (c *Client) Repo(id, revision string) *Repo {
	if revision == "" {
		revision = "main"
	}
	return &Repo{ID: id, Revision: revision, client: c}
}

func (r *Repo) String() string { return r.ID + "@" + r.Revision }

// LocalPath is where filename is cached.
func (r *Repo) LocalPath(filename string) string {
	dir := "models--" + strings.ReplaceAll(r.ID, "/", "--")
	return filepath.Join(r.client.CacheDir, dir, "snapshots", r.Revision, filepath.FromSlash(filename))
}

// Get returns the local path of filename, downloading it when absent.
// Downloads are written to a temporary file and renamed into place, so a
// failed transfer never leaves a truncated file in the cache. No retries.
func (r *Repo) Get(ctx context.Context, filename string) (string, error) {
	dst := r.LocalPath(filename)
	if st, err := os.Stat(dst); err == nil && st.Mode().IsRegular() {
		return dst, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/%s/resolve/%s/%s", r.client.BaseURL, r.ID, url.PathEscape(r.Revision), filename)
	log := r.client.Log.With("repo", r.ID, "revision", r.Revision, "file", filename)
	log.Info("downloading")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", errs.Wrap(errs.ErrIO, "hub request", err)
	}
	if r.client.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.client.Token)
	}
	resp, err := r.client.HTTP.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.ErrIO, "hub get "+filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.ErrIO, "hub get "+filename, "%s: %s", u, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errs.Wrap(errs.ErrIO, "hub cache", err)
	}
	pf, err := renameio.TempFile("", dst)
	if err != nil {
		return "", errs.Wrap(errs.ErrIO, "hub cache", err)
	}
	defer pf.Cleanup()

	n, err := io.Copy(pf, resp.Body)
	if err != nil {
		return "", errs.Wrap(errs.ErrIO, "hub download "+filename, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return "", errs.New(errs.ErrIO, "hub download "+filename, "short body: %d of %d bytes", n, resp.ContentLength)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", errs.Wrap(errs.ErrIO, "hub cache", err)
	}
	log.Info("downloaded", "bytes", n, "path", dst)
	return dst, nil
}
