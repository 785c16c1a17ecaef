package tensor

import (
	"runtime"
	"sync"
)

type matVecTask struct {
	dst    []float32
	w      *Mat
	x      []float32
	rs, re int
	done   chan struct{}
}

type matVecPool struct {
	size      int
	tasks     chan matVecTask
	doneSlots chan chan struct{}
}

var (
	matVecWorkPool *matVecPool
	matVecPoolOnce sync.Once
)

func getMatVecPool() *matVecPool {
	matVecPoolOnce.Do(func() {
		matVecWorkPool = newMatVecPool(runtime.GOMAXPROCS(0))
	})
	return matVecWorkPool
}

func newMatVecPool(size int) *matVecPool {
	size = max(size, 1)
	p := &matVecPool{
		size:      size,
		tasks:     make(chan matVecTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for range size {
		p.doneSlots <- make(chan struct{}, size)
	}
	for range size {
		go func() {
			buf := []float32(nil)
			for task := range p.tasks {
				buf = matVecRange(task.dst, task.w, task.x, task.rs, task.re, buf)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// minParallelRows keeps tiny matrices on the calling goroutine.
const minParallelRows = 64

// MatVec computes dst = w·x, fanning rows out across the worker pool.
func MatVec(dst []float32, w *Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}

	pool := getMatVecPool()
	workers := min(pool.size, w.R/minParallelRows)
	if workers <= 1 {
		matVecRange(dst, w, x, 0, w.R, nil)
		return
	}

	chunk := (w.R + workers - 1) / workers
	done := <-pool.doneSlots
	active := 0
	for rs := 0; rs < w.R; rs += chunk {
		active++
		pool.tasks <- matVecTask{dst: dst, w: w, x: x, rs: rs, re: min(rs+chunk, w.R), done: done}
	}
	for range active {
		<-done
	}
	pool.doneSlots <- done
}

// matVecRange handles rows [rs, re). buf is reused for decoding encoded rows.
func matVecRange(dst []float32, w *Mat, x []float32, rs, re int, buf []float32) []float32 {
	if w.Raw == nil {
		for i := rs; i < re; i++ {
			dst[i] = Dot(w.Data[i*w.C:(i+1)*w.C], x[:w.C])
		}
		return buf
	}
	if cap(buf) < w.C {
		buf = make([]float32, w.C)
	}
	row := buf[:w.C]
	for i := rs; i < re; i++ {
		w.RowTo(row, i)
		dst[i] = Dot(row, x[:w.C])
	}
	return buf
}
