// Package weights resolves the safetensors shards named by a
// model.safetensors.index.json manifest.
package weights

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/hub"
)

// IndexFile is the conventional manifest name.
const IndexFile = "model.safetensors.index.json"

// ParseManifest returns the unique shard file names in the manifest's
// weight_map, sorted. Non-string values are ignored.
func ParseManifest(r io.Reader) ([]string, error) {
	var doc map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, errs.Wrap(errs.ErrManifest, "parse manifest", err)
	}
	raw, ok := doc["weight_map"]
	if !ok {
		return nil, errs.New(errs.ErrManifest, "parse manifest", "no weight map")
	}
	wm, ok := raw.(map[string]any)
	if !ok {
		return nil, errs.New(errs.ErrManifest, "parse manifest", "weight map is not a map")
	}

	seen := make(map[string]struct{}, 8)
	for _, v := range wm {
		if s, ok := v.(string); ok {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// FromDir resolves shard paths relative to dir. manifest defaults to
// IndexFile. Shards are not opened here.
func FromDir(dir, manifest string) ([]string, error) {
	if manifest == "" {
		manifest = IndexFile
	}
	f, err := os.Open(filepath.Join(dir, manifest))
	if err != nil {
		return nil, errs.Wrap(errs.ErrManifest, "open manifest", err)
	}
	defer f.Close()

	names, err := ParseManifest(f)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, filepath.FromSlash(n))
	}
	return paths, nil
}

// FromHub downloads the manifest and every shard it names, returning the
// local shard paths in manifest order.
func FromHub(ctx context.Context, repo *hub.Repo, manifest string) ([]string, error) {
	if manifest == "" {
		manifest = IndexFile
	}
	idx, err := repo.Get(ctx, manifest)
	if err != nil {
		return nil, errs.Wrap(errs.ErrManifest, "fetch manifest", err)
	}
	f, err := os.Open(idx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrManifest, "open manifest", err)
	}
	names, err := ParseManifest(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(names))
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := repo.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
