package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/safetensors"
	"github.com/samcharles93/llmfunc/internal/weights"
)

const (
	// MixtralRepo is the default sparse mixture-of-experts checkpoint.
	MixtralRepo = "mistralai/Mixtral-8x7B-v0.1"
	ConfigFile  = "config.json"
)

// Mixtral runs a safetensors checkpoint whose shards are listed by a
// model.safetensors.index.json manifest.
type Mixtral struct {
	base
	shards []string
}

// Shards returns the resolved shard paths.
func (m *Mixtral) Shards() []string { return append([]string(nil), m.shards...) }

// LoadMixtralFromHub downloads config.json (optional), tokenizer.json and
// every shard, then loads them. repoID defaults to MixtralRepo.
func LoadMixtralFromHub(ctx context.Context, repoID, revision string, params Params, opts ...Option) (*Mixtral, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	if repoID == "" {
		repoID = MixtralRepo
	}
	repo := o.hub.Repo(repoID, revision)

	cfg := Mixtral8x7Bv01()
	if p, err := repo.Get(ctx, ConfigFile); err == nil {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, errs.Wrap(errs.ErrIO, "read config", err)
		}
		if cfg, err = ParseConfig(raw); err != nil {
			return nil, err
		}
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	} else {
		o.log.Warn("config.json unavailable, using Mixtral 8x7B v0.1 preset", "repo", repo.String(), "error", err)
	}

	tokPath, err := repo.Get(ctx, TokenizerFile)
	if err != nil {
		return nil, err
	}
	shards, err := weights.FromHub(ctx, repo, weights.IndexFile)
	if err != nil {
		return nil, err
	}
	if o.config != nil {
		cfg = *o.config
	}
	return loadMixtral(repo.String(), cfg, tokPath, shards, params, o)
}

// LoadMixtral loads a local checkpoint directory holding tokenizer.json,
// the shard manifest and, optionally, config.json.
func LoadMixtral(dir string, params Params, opts ...Option) (*Mixtral, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	cfg := Mixtral8x7Bv01()
	if raw, err := os.ReadFile(filepath.Join(dir, ConfigFile)); err == nil {
		if cfg, err = ParseConfig(raw); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.ErrIO, "read config", err)
	}
	if o.config != nil {
		cfg = *o.config
	}
	shards, err := weights.FromDir(dir, weights.IndexFile)
	if err != nil {
		return nil, err
	}
	return loadMixtral(filepath.Base(dir), cfg, filepath.Join(dir, TokenizerFile), shards, params, o)
}

func loadMixtral(name string, cfg Config, tokPath string, shards []string, params Params, o loadOptions) (*Mixtral, error) {
	dev, err := prepare(params, o)
	if err != nil {
		return nil, err
	}
	tok, err := loadTokenizer(tokPath)
	if err != nil {
		return nil, err
	}

	set, err := safetensors.OpenSet(shards)
	if err != nil {
		return nil, tensorErr("open shards", err)
	}
	t, err := loadTransformer(cfg, hfNames(), set, params.MaxContext, dev.Threads())
	if err != nil {
		set.Close()
		return nil, tensorErr("load safetensors", err)
	}

	o.log.Info("loaded model",
		"name", name,
		"shards", len(shards),
		"tensors", set.Len(),
		"layers", cfg.NumLayers,
		"experts", cfg.NumExperts,
		"max_context", t.MaxContext(),
	)
	return &Mixtral{
		base: base{
			name:   "mixtral:" + name,
			t:      t,
			tok:    tok,
			dev:    dev,
			params: params,
			log:    o.log,
			close:  set.Close,
		},
		shards: shards,
	}, nil
}
