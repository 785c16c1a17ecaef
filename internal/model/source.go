package model

import (
	"fmt"

	"github.com/samcharles93/llmfunc/internal/gguf"
	"github.com/samcharles93/llmfunc/internal/tensor"
)

// tensorSource is a read-only view over checkpoint weights.
type tensorSource interface {
	Has(name string) bool
	Mat(name string) (tensor.Mat, error)
	Vector(name string) ([]float32, error)
}

type ggufSource struct{ f *gguf.File }

func (s ggufSource) Has(name string) bool {
	_, ok := s.f.TensorByName(name)
	return ok
}

func (s ggufSource) Mat(name string) (tensor.Mat, error)   { return s.f.Mat(name) }
func (s ggufSource) Vector(name string) ([]float32, error) { return s.f.Vector(name) }

func loadMatCandidates(src tensorSource, names []string) (tensor.Mat, string, error) {
	for _, n := range names {
		if src.Has(n) {
			m, err := src.Mat(n)
			return m, n, err
		}
	}
	return tensor.Mat{}, "", fmt.Errorf("missing tensor (tried %v)", names)
}

func loadMatShape(src tensorSource, name string, rows, cols int) (tensor.Mat, error) {
	m, err := src.Mat(name)
	if err != nil {
		return tensor.Mat{}, err
	}
	if m.R != rows || m.C != cols {
		return tensor.Mat{}, fmt.Errorf("tensor %s: shape %dx%d, want %dx%d", name, m.R, m.C, rows, cols)
	}
	return m, nil
}

func loadVecLen(src tensorSource, name string, n int) ([]float32, error) {
	v, err := src.Vector(name)
	if err != nil {
		return nil, err
	}
	if len(v) != n {
		return nil, fmt.Errorf("tensor %s: length %d, want %d", name, len(v), n)
	}
	return v, nil
}
