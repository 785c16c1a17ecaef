package model

import (
	"fmt"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/tensor"
)

type expert struct {
	gate, up, down tensor.Mat
}

type moeBlock struct {
	router  tensor.Mat
	experts []expert
	topK    int
}

type layer struct {
	attnNorm, ffnNorm []float32
	wq, wk, wv, wo    tensor.Mat

	// Dense feed-forward. Unused when moe is set.
	up, gate, down tensor.Mat
	moe            *moeBlock

	// KV cache, pos*kvDim floats each. Grown on demand up to maxContext.
	k, v []float32
}

type scratch struct {
	x, tmp, tmp2           []float32
	q, k, v                []float32
	attnOut, attnProj      []float32
	ffnUp, ffnGate, ffnAct []float32
	moeAccum, routerRaw    []float32
	routerIdx              []int
	routerW                []float32
	logits                 []float32
}

// Transformer is the Mistral decoder stack with a KV cache. It is not safe
// for concurrent use.
type Transformer struct {
	cfg        Config
	ropeHalf   bool
	invFreq    []float64
	maxContext int

	embed    tensor.Mat
	output   tensor.Mat
	outNorm  []float32
	layers   []layer
	pos      int
	scratch  scratch
	attnPool *attnPool
}

func loadTransformer(cfg Config, names tensorNames, src tensorSource, maxContext, threads int) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxContext <= 0 || maxContext > cfg.MaxPositions {
		maxContext = cfg.MaxPositions
	}
	hidden := cfg.HiddenSize
	qDim := cfg.NumHeads * cfg.HeadDim
	kvDim := cfg.NumKVHeads * cfg.HeadDim

	t := &Transformer{
		cfg:        cfg,
		ropeHalf:   names.ropeHalf,
		invFreq:    tensor.RoPEFreqs(cfg.HeadDim, cfg.RopeTheta),
		maxContext: maxContext,
		layers:     make([]layer, cfg.NumLayers),
	}

	var err error
	if t.embed, err = loadMatShape(src, names.embedding, cfg.VocabSize, hidden); err != nil {
		return nil, err
	}
	if t.outNorm, err = loadVecLen(src, names.outputNorm, hidden); err != nil {
		return nil, err
	}
	if t.output, _, err = loadMatCandidates(src, names.output); err != nil {
		return nil, err
	}
	if t.output.R != cfg.VocabSize || t.output.C != hidden {
		return nil, fmt.Errorf("output projection: shape %dx%d, want %dx%d", t.output.R, t.output.C, cfg.VocabSize, hidden)
	}

	for i := range t.layers {
		l := &t.layers[i]
		if l.attnNorm, err = loadVecLen(src, names.attnNorm(i), hidden); err != nil {
			return nil, err
		}
		if l.ffnNorm, err = loadVecLen(src, names.ffnNorm(i), hidden); err != nil {
			return nil, err
		}
		if l.wq, err = loadMatShape(src, names.wq(i), qDim, hidden); err != nil {
			return nil, err
		}
		if l.wk, err = loadMatShape(src, names.wk(i), kvDim, hidden); err != nil {
			return nil, err
		}
		if l.wv, err = loadMatShape(src, names.wv(i), kvDim, hidden); err != nil {
			return nil, err
		}
		if l.wo, err = loadMatShape(src, names.wo(i), hidden, qDim); err != nil {
			return nil, err
		}

		if cfg.IsMoE() {
			if l.moe, err = loadMoE(cfg, names, src, i); err != nil {
				return nil, err
			}
			continue
		}
		ffn := cfg.IntermediateSize
		if l.gate, err = loadMatShape(src, names.ffnGate(i), ffn, hidden); err != nil {
			return nil, err
		}
		if l.up, err = loadMatShape(src, names.ffnUp(i), ffn, hidden); err != nil {
			return nil, err
		}
		if l.down, err = loadMatShape(src, names.ffnDown(i), hidden, ffn); err != nil {
			return nil, err
		}
	}

	t.initScratch()
	t.attnPool = newAttnPool(attnWorkersFor(cfg.NumHeads, threads), maxContext)
	return t, nil
}

func (t *Transformer) initScratch() {
	c := t.cfg
	hidden := c.HiddenSize
	qDim := c.NumHeads * c.HeadDim
	kvDim := c.NumKVHeads * c.HeadDim
	t.scratch = scratch{
		x:         make([]float32, hidden),
		tmp:       make([]float32, hidden),
		tmp2:      make([]float32, hidden),
		q:         make([]float32, qDim),
		k:         make([]float32, kvDim),
		v:         make([]float32, kvDim),
		attnOut:   make([]float32, qDim),
		attnProj:  make([]float32, hidden),
		ffnUp:     make([]float32, c.IntermediateSize),
		ffnGate:   make([]float32, c.IntermediateSize),
		ffnAct:    make([]float32, c.IntermediateSize),
		moeAccum:  make([]float32, hidden),
		routerRaw: make([]float32, c.NumExperts),
		routerIdx: make([]int, c.ExpertsPerTok),
		routerW:   make([]float32, c.ExpertsPerTok),
		logits:    make([]float32, c.VocabSize),
	}
}

// Config returns the model dimensions.
func (t *Transformer) Config() Config { return t.cfg }

// Pos is the number of cached positions.
func (t *Transformer) Pos() int { return t.pos }

// MaxContext is the KV cache capacity.
func (t *Transformer) MaxContext() int { return t.maxContext }

// Forward feeds tokens starting at position offset and returns the logits
// for the last one. An offset behind the cache rewinds it; an offset past
// the cache is an error. The returned slice is reused by the next call.
func (t *Transformer) Forward(tokens []int, offset int) (logits []float32, err error) {
	defer errs.Recover(errs.ErrTensor, "forward", &err)

	if len(tokens) == 0 {
		return nil, errs.New(errs.ErrTensor, "forward", "no tokens")
	}
	if offset < 0 || offset > t.pos {
		return nil, errs.New(errs.ErrTensor, "forward", "offset %d does not continue cache at %d", offset, t.pos)
	}
	if offset+len(tokens) > t.maxContext {
		return nil, errs.New(errs.ErrTensor, "forward", "context length exceeded: %d > %d", offset+len(tokens), t.maxContext)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= t.cfg.VocabSize {
			return nil, errs.New(errs.ErrTensor, "forward", "token id out of range: %d", tok)
		}
	}
	t.pos = offset
	for _, tok := range tokens {
		t.step(tok)
	}
	return t.scratch.logits, nil
}

// step runs one token through every layer at position t.pos.
func (t *Transformer) step(tok int) {
	eps := float32(t.cfg.RMSNormEps)
	x := t.scratch.x
	t.embed.RowTo(x, tok)

	for i := range t.layers {
		l := &t.layers[i]

		tensor.RMSNorm(t.scratch.tmp, x, l.attnNorm, eps)
		tensor.Add(x, t.attention(l, t.scratch.tmp, t.pos))

		tensor.RMSNorm(t.scratch.tmp, x, l.ffnNorm, eps)
		if l.moe != nil {
			tensor.Add(x, t.moe(l.moe, t.scratch.tmp))
		} else {
			tensor.Add(x, t.ffn(&l.up, &l.gate, &l.down, t.scratch.tmp))
		}
	}

	tensor.RMSNorm(t.scratch.tmp, x, t.outNorm, eps)
	tensor.MatVec(t.scratch.logits, &t.output, t.scratch.tmp)
	t.pos++
}

// ffn is the SwiGLU block down(silu(gate·x) * up·x).
func (t *Transformer) ffn(up, gate, down *tensor.Mat, x []float32) []float32 {
	n := up.R
	upBuf := t.scratch.ffnUp[:n]
	gateBuf := t.scratch.ffnGate[:n]
	act := t.scratch.ffnAct[:n]
	tensor.MatVec(upBuf, up, x)
	tensor.MatVec(gateBuf, gate, x)
	tensor.SiluMul(act, gateBuf, upBuf)
	tensor.MatVec(t.scratch.tmp2, down, act)
	return t.scratch.tmp2
}

// Reset empties the KV cache.
func (t *Transformer) Reset() {
	t.pos = 0
}

// Close stops the attention workers.
func (t *Transformer) Close() {
	if t.attnPool != nil {
		t.attnPool.close()
		t.attnPool = nil
	}
}
