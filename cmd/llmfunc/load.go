package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samcharles93/llmfunc/internal/hub"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/model"
)

const (
	modelQuantizedMistral = "quantized-mistral"
	modelMixtral          = "mixtral"
)

// loadModel loads the checkpoint src names, from disk when a directory is
// given and from the hub otherwise.
func loadModel(ctx context.Context, src modelSource, params model.Params) (model.Model, error) {
	log := logger.FromContext(ctx)
	opts := []model.Option{
		model.WithLogger(log),
		model.WithHub(hub.New(hub.WithLogger(log))),
	}

	switch strings.ToLower(strings.TrimSpace(src.kind)) {
	case modelQuantizedMistral, "mistral":
		if src.dir != "" {
			return model.LoadQuantizedMistral(
				filepath.Join(src.dir, src.weights),
				filepath.Join(src.dir, model.TokenizerFile),
				params, opts...)
		}
		return model.LoadQuantizedMistralFromHub(ctx, params, opts...)
	case modelMixtral:
		if src.dir != "" {
			return model.LoadMixtral(src.dir, params, opts...)
		}
		repo := src.repo
		if repo == "" {
			repo = model.MixtralRepo
		}
		return model.LoadMixtralFromHub(ctx, repo, src.revision, params, opts...)
	default:
		return nil, fmt.Errorf("unknown model %q (want %s or %s)", src.kind, modelQuantizedMistral, modelMixtral)
	}
}
