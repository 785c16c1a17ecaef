// Package tensor holds the dense matrix type and the CPU kernels used by the
// transformer forward pass.
package tensor

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/samcharles93/llmfunc/internal/quant"
)

var (
	errNegativeDim     = errors.New("negative matrix dimension")
	errRawSizeMismatch = errors.New("raw data size does not match shape")
)

// Mat is a row-major matrix of R rows by C columns.
//
// F32 matrices keep their values in Data. Any other DType keeps the encoded
// bytes in Raw and decodes one row at a time, so mmapped quantized weights
// are never expanded in memory.
type Mat struct {
	R, C     int
	DType    quant.DType
	Data     []float32
	Raw      []byte
	rowBytes int
}

// NewMat allocates a zeroed F32 matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic(errNegativeDim)
	}
	return Mat{R: r, C: c, DType: quant.F32, Data: make([]float32, r*c)}
}

// NewMatFromData wraps data, which must hold exactly r*c values.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic(fmt.Sprintf("data length %d does not match %dx%d", len(data), r, c))
	}
	return Mat{R: r, C: c, DType: quant.F32, Data: data}
}

// NewMatFromRaw wraps encoded bytes. F32 input is decoded eagerly.
func NewMatFromRaw(r, c int, dtype quant.DType, raw []byte) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	rowBytes, err := quant.RowBytes(dtype, c)
	if err != nil {
		return Mat{}, err
	}
	if len(raw) != r*rowBytes {
		return Mat{}, fmt.Errorf("%w: %dx%d %s wants %d bytes, got %d", errRawSizeMismatch, r, c, dtype, r*rowBytes, len(raw))
	}
	if dtype == quant.F32 {
		data := make([]float32, r*c)
		if err := quant.DecodeRow(data, quant.F32, raw); err != nil {
			return Mat{}, err
		}
		return NewMatFromData(r, c, data), nil
	}
	return Mat{R: r, C: c, DType: dtype, Raw: raw, rowBytes: rowBytes}, nil
}

// Row returns row i. For F32 it is a view; otherwise a decoded copy.
func (m *Mat) Row(i int) []float32 {
	if m.Raw == nil {
		return m.Data[i*m.C : (i+1)*m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes row i into dst, which must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic(fmt.Sprintf("row %d out of range [0,%d)", i, m.R))
	}
	if m.Raw == nil {
		copy(dst[:m.C], m.Data[i*m.C:(i+1)*m.C])
		return
	}
	off := i * m.rowBytes
	if err := quant.DecodeRow(dst[:m.C], m.DType, m.Raw[off:off+m.rowBytes]); err != nil {
		panic(err)
	}
}

// FillRand fills an F32 matrix with reproducible values in [-0.5, 0.5).
func FillRand(m *Mat, seed uint64) {
	if m.Raw != nil {
		panic("FillRand only supports F32 matrices")
	}
	rng := rand.New(rand.NewPCG(seed, seed+1))
	for i := range m.Data {
		m.Data[i] = rng.Float32() - 0.5
	}
}
