package gguf

import (
	"errors"
	"fmt"

	"github.com/samcharles93/llmfunc/internal/quant"
	"github.com/samcharles93/llmfunc/internal/tensor"
)

// TensorType is a ggml element type id.
type TensorType uint32

const (
	GGMLTypeF32  TensorType = 0
	GGMLTypeF16  TensorType = 1
	GGMLTypeQ4_0 TensorType = 2
	GGMLTypeQ8_0 TensorType = 8
	GGMLTypeQ4_K TensorType = 12
	GGMLTypeQ6_K TensorType = 14
	GGMLTypeBF16 TensorType = 30
)

// ErrUnsupportedType reports a ggml type with no decoder.
var ErrUnsupportedType = errors.New("unsupported tensor type")

// DType maps a ggml type onto a decoder.
func (t TensorType) DType() (quant.DType, error) {
	switch t {
	case GGMLTypeF32:
		return quant.F32, nil
	case GGMLTypeF16:
		return quant.F16, nil
	case GGMLTypeBF16:
		return quant.BF16, nil
	case GGMLTypeQ4_0:
		return quant.Q4_0, nil
	case GGMLTypeQ8_0:
		return quant.Q8_0, nil
	case GGMLTypeQ4_K:
		return quant.Q4_K, nil
	case GGMLTypeQ6_K:
		return quant.Q6_K, nil
	default:
		return 0, fmt.Errorf("%w: ggml type %d", ErrUnsupportedType, uint32(t))
	}
}

func (t TensorType) String() string {
	if d, err := t.DType(); err == nil {
		return d.String()
	}
	return fmt.Sprintf("ggml(%d)", uint32(t))
}

// TensorByName looks up a tensor.
func (f *File) TensorByName(name string) (TensorInfo, bool) {
	i, ok := f.index[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// Raw returns the encoded bytes of a tensor without copying.
func (f *File) Raw(name string) ([]byte, TensorInfo, error) {
	info, ok := f.TensorByName(name)
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor not found: %s", name)
	}
	dt, err := info.Type.DType()
	if err != nil {
		return nil, info, fmt.Errorf("tensor %s: %w", name, err)
	}
	n := uint64(1)
	for _, d := range info.Dims {
		n *= d
	}
	size, err := quant.RowBytes(dt, int(n))
	if err != nil {
		return nil, info, fmt.Errorf("tensor %s: %w", name, err)
	}
	start := f.DataOffset + info.Offset
	if start+uint64(size) > uint64(len(f.data)) {
		return nil, info, fmt.Errorf("tensor %s: data runs past end of file", name)
	}
	return f.data[start : start+uint64(size)], info, nil
}

// Mat returns a 1-D or 2-D tensor as a matrix without expanding it.
// Vectors come back as a single row.
func (f *File) Mat(name string) (tensor.Mat, error) {
	raw, info, err := f.Raw(name)
	if err != nil {
		return tensor.Mat{}, err
	}
	dt, _ := info.Type.DType()
	var rows, cols int
	switch len(info.Dims) {
	case 1:
		rows, cols = 1, int(info.Dims[0])
	case 2:
		rows, cols = int(info.Dims[1]), int(info.Dims[0])
	default:
		return tensor.Mat{}, fmt.Errorf("tensor %s: want 1 or 2 dims, have %v", name, info.Dims)
	}
	m, err := tensor.NewMatFromRaw(rows, cols, dt, raw)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return m, nil
}

// Vector decodes a 1-D tensor to float32.
func (f *File) Vector(name string) ([]float32, error) {
	raw, info, err := f.Raw(name)
	if err != nil {
		return nil, err
	}
	dt, _ := info.Type.DType()
	n := 1
	for _, d := range info.Dims {
		n *= int(d)
	}
	return quant.Dequantize(dt, raw, n)
}
