package tensor

import "math"

// Add adds src into dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies x by s in place.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// Dot returns a·b.
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	b = b[:len(a)]
	i := 0
	for ; i+3 < len(a); i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < len(a); i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}

// RMSNorm writes src normalised by its root mean square and scaled by weight.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var sum float64
	for _, v := range src {
		sum += float64(v) * float64(v)
	}
	scale := float32(1 / math.Sqrt(sum/float64(len(src))+float64(eps)))
	for i := range src {
		dst[i] = src[i] * scale * weight[i]
	}
}

// Softmax normalises x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for _, v := range x[1:] {
		maxv = max(maxv, v)
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}

// Silu is x·sigmoid(x).
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// SiluMul computes dst[i] = Silu(gate[i]) * up[i].
func SiluMul(dst, gate, up []float32) {
	for i := range dst {
		dst[i] = Silu(gate[i]) * up[i]
	}
}

// RoPEFreqs returns the inverse frequencies for a head dimension and base.
func RoPEFreqs(headDim int, theta float64) []float64 {
	inv := make([]float64, headDim/2)
	for i := range inv {
		inv[i] = 1 / math.Pow(theta, float64(2*i)/float64(headDim))
	}
	return inv
}

// ApplyRoPE rotates adjacent pairs (x[2i], x[2i+1]) of every head. This is
// the layout of llama.cpp GGUF exports.
func ApplyRoPE(x []float32, nHead, headDim, pos int, invFreq []float64) {
	for h := range nHead {
		base := h * headDim
		for i := range headDim / 2 {
			s, c := math.Sincos(float64(pos) * invFreq[i])
			i0, i1 := base+2*i, base+2*i+1
			x0, x1 := x[i0], x[i1]
			x[i0] = x0*float32(c) - x1*float32(s)
			x[i1] = x0*float32(s) + x1*float32(c)
		}
	}
}

// ApplyRoPEHalf rotates (x[i], x[i+headDim/2]) of every head. This is the
// layout of Hugging Face checkpoints.
func ApplyRoPEHalf(x []float32, nHead, headDim, pos int, invFreq []float64) {
	half := headDim / 2
	for h := range nHead {
		base := h * headDim
		for i := range half {
			s, c := math.Sincos(float64(pos) * invFreq[i])
			i0, i1 := base+i, base+i+half
			x0, x1 := x[i0], x[i1]
			x[i0] = x0*float32(c) - x1*float32(s)
			x[i1] = x1*float32(c) + x0*float32(s)
		}
	}
}
