package model

import (
	"context"
	"path/filepath"

	"github.com/samcharles93/llmfunc/internal/gguf"
)

const (
	// QuantizedMistralRepo hosts the q4k Mistral weights and tokenizer.
	QuantizedMistralRepo     = "lmz/candle-mistral"
	QuantizedMistralRevision = "main"
	QuantizedMistralWeights  = "model-q4k.gguf"
	TokenizerFile            = "tokenizer.json"
)

// QuantizedMistral runs a GGUF checkpoint with weights kept in their
// quantized encoding. It always runs on the CPU.
type QuantizedMistral struct {
	base
	file *gguf.File
}

// LoadQuantizedMistralFromHub fetches the tokenizer and q4k weights and
// loads them.
func LoadQuantizedMistralFromHub(ctx context.Context, params Params, opts ...Option) (*QuantizedMistral, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	repo := o.hub.Repo(QuantizedMistralRepo, QuantizedMistralRevision)
	tokPath, err := repo.Get(ctx, TokenizerFile)
	if err != nil {
		return nil, err
	}
	weights, err := repo.Get(ctx, QuantizedMistralWeights)
	if err != nil {
		return nil, err
	}
	return LoadQuantizedMistral(weights, tokPath, params, opts...)
}

// LoadQuantizedMistral loads local files. Dimensions come from llama.cpp
// metadata when present and from the Mistral 7B v0.1 preset otherwise.
func LoadQuantizedMistral(ggufPath, tokenizerPath string, params Params, opts ...Option) (*QuantizedMistral, error) {
	o := applyOptions(opts)
	params.ForceCPU = true
	dev, err := prepare(params, o)
	if err != nil {
		return nil, err
	}

	tok, err := loadTokenizer(tokenizerPath)
	if err != nil {
		return nil, err
	}

	f, err := gguf.Open(ggufPath)
	if err != nil {
		return nil, tensorErr("open gguf", err)
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	names := hfNames()
	if _, llamaCpp := f.TensorByName("token_embd.weight"); llamaCpp {
		names = ggufNames()
	}
	cfg, fromMeta, err := ConfigFromGGUF(f)
	if err != nil {
		return nil, tensorErr("gguf config", err)
	}
	if !fromMeta {
		cfg = Mistral7Bv01()
		if info, found := f.TensorByName(names.embedding); found && len(info.Dims) == 2 {
			cfg.VocabSize = int(info.Dims[1])
		}
	}
	if o.config != nil {
		cfg = *o.config
	}

	t, err := loadTransformer(cfg, names, ggufSource{f}, params.MaxContext, dev.Threads())
	if err != nil {
		return nil, tensorErr("load gguf", err)
	}
	ok = true

	o.log.Info("loaded model",
		"file", filepath.Base(ggufPath),
		"tensors", len(f.Tensors),
		"layers", cfg.NumLayers,
		"vocab", cfg.VocabSize,
		"max_context", t.MaxContext(),
	)
	return &QuantizedMistral{
		base: base{
			name:   "quantized-mistral:" + filepath.Base(ggufPath),
			t:      t,
			tok:    tok,
			dev:    dev,
			params: params,
			log:    o.log,
			close:  f.Close,
		},
		file: f,
	}, nil
}
