package tensor

import (
	"math"
	"testing"

	"github.com/samcharles93/llmfunc/internal/quant"
)

func matVecNaive(dst []float32, w *Mat, x []float32) {
	row := make([]float32, w.C)
	for i := 0; i < w.R; i++ {
		w.RowTo(row, i)
		var sum float64
		for j := range row {
			sum += float64(row[j]) * float64(x[j])
		}
		dst[i] = float32(sum)
	}
}

func almostEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestMatVecMatchesNaive(t *testing.T) {
	t.Parallel()
	for _, shape := range [][2]int{{3, 5}, {64, 32}, {513, 96}} {
		w := NewMat(shape[0], shape[1])
		FillRand(&w, 7)
		x := make([]float32, shape[1])
		for i := range x {
			x[i] = float32(i%7) - 3
		}
		got := make([]float32, shape[0])
		want := make([]float32, shape[0])
		MatVec(got, &w, x)
		matVecNaive(want, &w, x)
		for i := range want {
			if !almostEqual(got[i], want[i], 1e-3) {
				t.Fatalf("%v row %d: got %v want %v", shape, i, got[i], want[i])
			}
		}
	}
}

func TestMatVecEncodedWeights(t *testing.T) {
	t.Parallel()
	const r, c = 130, 64
	ref := NewMat(r, c)
	FillRand(&ref, 3)
	x := make([]float32, c)
	for i := range x {
		x[i] = 0.25 * float32(i%5)
	}
	want := make([]float32, r)
	MatVec(want, &ref, x)

	q8, err := quant.QuantizeQ8_0(ref.Data)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		dtype quant.DType
		raw   []byte
		tol   float32
	}{
		{quant.F32, quant.EncodeF32(ref.Data), 1e-5},
		{quant.F16, quant.EncodeF16(ref.Data), 1e-2},
		{quant.BF16, quant.EncodeBF16(ref.Data), 0.1},
		{quant.Q8_0, q8, 0.1},
	} {
		w, err := NewMatFromRaw(r, c, tc.dtype, tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.dtype, err)
		}
		got := make([]float32, r)
		MatVec(got, &w, x)
		for i := range want {
			if !almostEqual(got[i], want[i], tc.tol) {
				t.Fatalf("%s row %d: got %v want %v", tc.dtype, i, got[i], want[i])
			}
		}
	}
}

func TestNewMatFromRawSizeMismatch(t *testing.T) {
	t.Parallel()
	if _, err := NewMatFromRaw(2, 4, quant.F16, make([]byte, 15)); err == nil {
		t.Fatal("expected size mismatch")
	}
	if _, err := NewMatFromRaw(1, 30, quant.Q8_0, make([]byte, 34)); err == nil {
		t.Fatal("expected block alignment error")
	}
}

func TestRMSNorm(t *testing.T) {
	t.Parallel()
	src := []float32{3, 4}
	dst := make([]float32, 2)
	RMSNorm(dst, src, []float32{1, 2}, 0)
	// rms = sqrt((9+16)/2) = 3.5355
	if !almostEqual(dst[0], 3/3.5355339, 1e-5) || !almostEqual(dst[1], 8/3.5355339, 1e-5) {
		t.Fatalf("RMSNorm = %v", dst)
	}
}

func TestSoftmax(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3, 1000}
	Softmax(x)
	if !almostEqual(x[3], 1, 1e-6) {
		t.Fatalf("Softmax should be stable for large inputs: %v", x)
	}
	y := []float32{0, 0}
	Softmax(y)
	if y[0] != 0.5 || y[1] != 0.5 {
		t.Fatalf("Softmax(0,0) = %v", y)
	}
}

func TestRoPELayoutsAgreeAfterPermutation(t *testing.T) {
	t.Parallel()
	const headDim = 8
	inv := RoPEFreqs(headDim, 10000)
	interleaved := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	// Half layout stores pair i as (x[i], x[i+half]).
	half := []float32{1, 3, 5, 7, 2, 4, 6, 8}
	ApplyRoPE(interleaved, 1, headDim, 5, inv)
	ApplyRoPEHalf(half, 1, headDim, 5, inv)
	for i := range headDim / 2 {
		if !almostEqual(interleaved[2*i], half[i], 1e-5) || !almostEqual(interleaved[2*i+1], half[i+headDim/2], 1e-5) {
			t.Fatalf("pair %d differs: %v vs %v", i, interleaved, half)
		}
	}
}

func TestRoPEPositionZeroIsIdentity(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, 3, 4}
	ApplyRoPE(x, 1, 4, 0, RoPEFreqs(4, 10000))
	if x[0] != 1 || x[1] != 2 || x[2] != 3 || x[3] != 4 {
		t.Fatalf("position 0 changed x: %v", x)
	}
}

func TestSiluMul(t *testing.T) {
	t.Parallel()
	dst := make([]float32, 2)
	SiluMul(dst, []float32{0, 1}, []float32{5, 2})
	if dst[0] != 0 || !almostEqual(dst[1], 2*0.7310586, 1e-6) {
		t.Fatalf("SiluMul = %v", dst)
	}
}

func BenchmarkMatVecQ8(b *testing.B) {
	w := NewMat(1024, 1024)
	FillRand(&w, 1)
	raw, _ := quant.QuantizeQ8_0(w.Data)
	qw, _ := NewMatFromRaw(1024, 1024, quant.Q8_0, raw)
	x := make([]float32, 1024)
	dst := make([]float32, 1024)
	for b.Loop() {
		MatVec(dst, &qw, x)
	}
}
