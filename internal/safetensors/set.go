package safetensors

import (
	"errors"
	"fmt"

	"github.com/samcharles93/llmfunc/internal/tensor"
)

// Set resolves tensor names across several shards.
type Set struct {
	files  []*File
	byName map[string]*File
}

// OpenSet opens every shard. A tensor present in two shards is an error.
func OpenSet(paths []string) (*Set, error) {
	s := &Set{byName: make(map[string]*File)}
	for _, p := range paths {
		f, err := Open(p)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.files = append(s.files, f)
		for name := range f.Tensors {
			if prev, dup := s.byName[name]; dup {
				_ = s.Close()
				return nil, fmt.Errorf("tensor %s appears in both %s and %s", name, prev.Path, p)
			}
			s.byName[name] = f
		}
	}
	return s, nil
}

// Has reports whether any shard holds name.
func (s *Set) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Len returns the total tensor count.
func (s *Set) Len() int { return len(s.byName) }

// Mat loads a matrix from whichever shard holds it.
func (s *Set) Mat(name string) (tensor.Mat, error) {
	f, ok := s.byName[name]
	if !ok {
		return tensor.Mat{}, fmt.Errorf("tensor not found: %s", name)
	}
	return f.Mat(name)
}

// Vector decodes a tensor from whichever shard holds it.
func (s *Set) Vector(name string) ([]float32, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	return f.Vector(name)
}

// Close unmaps every shard.
func (s *Set) Close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}
