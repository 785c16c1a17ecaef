package model

import (
	"math"

	"github.com/samcharles93/llmfunc/internal/tensor"
)

type attnTask struct {
	ctx    *attnContext
	rs, re int
	done   chan struct{}
}

type attnContext struct {
	q, cacheK, cacheV []float32
	attnOut           []float32

	pos, start        int
	kvStride, headDim int
	nHead, kvHeads    int
	scale             float32
}

// attnPool runs attention heads in parallel. Each worker owns a scores
// buffer sized for the full context.
type attnPool struct {
	size      int
	tasks     chan attnTask
	doneSlots chan chan struct{}
	scores    []float32
	maxCtx    int
}

func attnWorkersFor(nHead, threads int) int {
	return max(1, min(threads, nHead))
}

func newAttnPool(workers, maxCtx int) *attnPool {
	workers = max(workers, 1)
	maxCtx = max(maxCtx, 1)
	p := &attnPool{
		size:      workers,
		doneSlots: make(chan chan struct{}, 1),
		scores:    make([]float32, workers*maxCtx),
		maxCtx:    maxCtx,
	}
	p.doneSlots <- make(chan struct{}, workers)
	if workers == 1 {
		return p
	}
	p.tasks = make(chan attnTask, workers*2)
	for i := range workers {
		scores := p.scores[i*maxCtx : (i+1)*maxCtx]
		go func() {
			for task := range p.tasks {
				runAttnHeads(task.ctx, scores, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

func (p *attnPool) close() {
	if p.tasks != nil {
		close(p.tasks)
	}
}

func (p *attnPool) run(ctx *attnContext) {
	if p.size <= 1 {
		runAttnHeads(ctx, p.scores[:p.maxCtx], 0, ctx.nHead)
		return
	}
	chunk := (ctx.nHead + p.size - 1) / p.size
	done := <-p.doneSlots
	active := 0
	for rs := 0; rs < ctx.nHead; rs += chunk {
		active++
		p.tasks <- attnTask{ctx: ctx, rs: rs, re: min(rs+chunk, ctx.nHead), done: done}
	}
	for range active {
		<-done
	}
	p.doneSlots <- done
}

func runAttnHeads(ctx *attnContext, scoresBuf []float32, rs, re int) {
	if rs >= re {
		return
	}
	if ctx.start < 0 || ctx.start > ctx.pos {
		panic("invalid attention window start")
	}
	winLen := ctx.pos - ctx.start + 1
	if winLen > len(scoresBuf) {
		panic("attention scores buffer too small")
	}
	scores := scoresBuf[:winLen]
	group := ctx.nHead / ctx.kvHeads
	for h := rs; h < re; h++ {
		kvHead := h / group
		qh := ctx.q[h*ctx.headDim : (h+1)*ctx.headDim]
		for t := ctx.start; t <= ctx.pos; t++ {
			koff := t*ctx.kvStride + kvHead*ctx.headDim
			scores[t-ctx.start] = tensor.Dot(qh, ctx.cacheK[koff:koff+ctx.headDim]) * ctx.scale
		}
		tensor.Softmax(scores)
		out := ctx.attnOut[h*ctx.headDim : (h+1)*ctx.headDim]
		clear(out)
		for t := ctx.start; t <= ctx.pos; t++ {
			w := scores[t-ctx.start]
			voff := t*ctx.kvStride + kvHead*ctx.headDim
			for d, v := range ctx.cacheV[voff : voff+ctx.headDim] {
				out[d] += w * v
			}
		}
	}
}

// attention projects x to q/k/v, rotates q and k, appends k/v to the cache
// and attends over the sliding window ending at pos.
func (t *Transformer) attention(l *layer, x []float32, pos int) []float32 {
	c := t.cfg
	kvStride := c.NumKVHeads * c.HeadDim
	q, k, v := t.scratch.q, t.scratch.k, t.scratch.v

	tensor.MatVec(q, &l.wq, x)
	tensor.MatVec(k, &l.wk, x)
	tensor.MatVec(v, &l.wv, x)

	if t.ropeHalf {
		tensor.ApplyRoPEHalf(q, c.NumHeads, c.HeadDim, pos, t.invFreq)
		tensor.ApplyRoPEHalf(k, c.NumKVHeads, c.HeadDim, pos, t.invFreq)
	} else {
		tensor.ApplyRoPE(q, c.NumHeads, c.HeadDim, pos, t.invFreq)
		tensor.ApplyRoPE(k, c.NumKVHeads, c.HeadDim, pos, t.invFreq)
	}

	l.k = growCache(l.k, (pos+1)*kvStride, t.maxContext*kvStride)
	l.v = growCache(l.v, (pos+1)*kvStride, t.maxContext*kvStride)
	copy(l.k[pos*kvStride:], k)
	copy(l.v[pos*kvStride:], v)

	start := 0
	if c.SlidingWindow > 0 {
		start = max(0, pos-c.SlidingWindow+1)
	}
	t.attnPool.run(&attnContext{
		q:        q,
		cacheK:   l.k,
		cacheV:   l.v,
		attnOut:  t.scratch.attnOut,
		pos:      pos,
		start:    start,
		kvStride: kvStride,
		headDim:  c.HeadDim,
		nHead:    c.NumHeads,
		kvHeads:  c.NumKVHeads,
		scale:    float32(1 / math.Sqrt(float64(c.HeadDim))),
	})

	tensor.MatVec(t.scratch.attnProj, &l.wo, t.scratch.attnOut)
	return t.scratch.attnProj
}

// growCache extends buf to at least n floats, doubling capacity up to limit.
func growCache(buf []float32, n, limit int) []float32 {
	if n <= len(buf) {
		return buf
	}
	if n <= cap(buf) {
		return buf[:n]
	}
	next := min(max(n, 2*cap(buf), 256), limit)
	out := make([]float32, n, max(next, n))
	copy(out, buf)
	return out
}
