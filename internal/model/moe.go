package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/llmfunc/internal/tensor"
)

func loadMoE(cfg Config, names tensorNames, src tensorSource, i int) (*moeBlock, error) {
	hidden, ffn := cfg.HiddenSize, cfg.IntermediateSize
	router, err := loadMatShape(src, names.router(i), cfg.NumExperts, hidden)
	if err != nil {
		return nil, err
	}
	b := &moeBlock{router: router, experts: make([]expert, cfg.NumExperts), topK: cfg.ExpertsPerTok}
	for e := range b.experts {
		ex := &b.experts[e]
		if ex.gate, err = loadMatShape(src, names.expertGate(i, e), ffn, hidden); err != nil {
			return nil, fmt.Errorf("expert %d: %w", e, err)
		}
		if ex.up, err = loadMatShape(src, names.expertUp(i, e), ffn, hidden); err != nil {
			return nil, fmt.Errorf("expert %d: %w", e, err)
		}
		if ex.down, err = loadMatShape(src, names.expertDown(i, e), hidden, ffn); err != nil {
			return nil, fmt.Errorf("expert %d: %w", e, err)
		}
	}
	return b, nil
}

// moe routes x to the top-k experts and sums their outputs weighted by a
// softmax over the selected router logits.
func (t *Transformer) moe(b *moeBlock, x []float32) []float32 {
	accum := t.scratch.moeAccum
	clear(accum)

	raw := t.scratch.routerRaw
	tensor.MatVec(raw, &b.router, x)

	idx := t.scratch.routerIdx[:b.topK]
	weights := t.scratch.routerW[:b.topK]
	selectTopK(raw, idx, weights)

	for j, id := range idx {
		if id < 0 || weights[j] == 0 {
			continue
		}
		ex := &b.experts[id]
		out := t.ffn(&ex.up, &ex.gate, &ex.down, x)
		w := weights[j]
		for i := range accum {
			accum[i] += w * out[i]
		}
	}
	return accum
}

// selectTopK writes the indices of the len(idxOut) largest scores, ties to
// the lower index, and their softmax-normalised weights.
func selectTopK(scores []float32, idxOut []int, wOut []float32) {
	k := len(idxOut)
	if k == 0 {
		return
	}
	best := make([]float32, k)
	for i := range k {
		idxOut[i] = -1
		best[i] = float32(math.Inf(-1))
	}
	for i, s := range scores {
		insert := -1
		for j := range k {
			if idxOut[j] == -1 || s > best[j] {
				insert = j
				break
			}
		}
		if insert == -1 {
			continue
		}
		copy(best[insert+1:], best[insert:k-1])
		copy(idxOut[insert+1:], idxOut[insert:k-1])
		best[insert] = s
		idxOut[insert] = i
	}

	var sum float64
	for j := range k {
		if idxOut[j] < 0 {
			wOut[j] = 0
			continue
		}
		e := math.Exp(float64(best[j] - best[0]))
		wOut[j] = float32(e)
		sum += e
	}
	for j := range k {
		wOut[j] = float32(float64(wOut[j]) / sum)
	}
}
