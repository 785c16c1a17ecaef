// Package logits turns next-token logits into a sampled token id.
package logits

import (
	"math"
	"math/rand/v2"
	"sort"
)

// SamplerConfig configures a Sampler. A nil or non-positive Temperature
// selects greedy arg-max decoding. TopP is applied when set and below 1.
// TopK of zero keeps the whole vocabulary.
type SamplerConfig struct {
	Seed        uint64
	Temperature *float64
	TopP        *float64
	TopK        int
}

// Sampler draws token ids from logits. Its RNG is seeded once, so a fixed
// config yields a reproducible sequence of draws.
type Sampler struct {
	rng    *rand.Rand
	greedy bool
	temp   float64
	topP   float64
	topK   int

	idx  []int
	prob []float64
}

// NewSampler returns a sampler for cfg.
func NewSampler(cfg SamplerConfig) *Sampler {
	s := &Sampler{
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		topP: 1,
		topK: max(cfg.TopK, 0),
	}
	if cfg.Temperature == nil || *cfg.Temperature <= 0 {
		s.greedy = true
	} else {
		s.temp = *cfg.Temperature
	}
	if cfg.TopP != nil && *cfg.TopP > 0 && *cfg.TopP < 1 {
		s.topP = *cfg.TopP
	}
	return s
}

// Greedy reports whether the sampler always returns the arg-max.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample returns the next token id. logits is not modified.
func (s *Sampler) Sample(logits []float32) int {
	if len(logits) == 0 {
		return 0
	}
	if s.greedy {
		return argmax(logits)
	}

	idx, prob := s.softmax(logits)

	cut := len(prob)
	if s.topP < 1 {
		var c float64
		for i, p := range prob {
			c += p
			if c >= s.topP {
				cut = i + 1
				break
			}
		}
	}

	var total float64
	for _, p := range prob[:cut] {
		total += p
	}
	r := s.rng.Float64() * total
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r < c {
			return idx[i]
		}
	}
	return idx[cut-1]
}

// softmax returns candidate ids ordered by descending probability together
// with their temperature-scaled probabilities.
func (s *Sampler) softmax(logits []float32) ([]int, []float64) {
	n := len(logits)
	if cap(s.idx) < n {
		s.idx = make([]int, n)
		s.prob = make([]float64, n)
	}
	idx := s.idx[:n]
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return logits[idx[a]] > logits[idx[b]] })
	if s.topK > 0 && s.topK < n {
		idx = idx[:s.topK]
	}

	prob := s.prob[:len(idx)]
	maxv := float64(logits[idx[0]])
	var sum float64
	for i, id := range idx {
		e := math.Exp((float64(logits[id]) - maxv) / s.temp)
		prob[i] = e
		sum += e
	}
	if sum > 0 && !math.IsInf(sum, 0) {
		for i := range prob {
			prob[i] /= sum
		}
	}
	return idx, prob
}

// argmax returns the index of the largest value; ties go to the lowest index.
func argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
