// Package quant decodes the block-quantized and half-precision weight
// encodings found in GGUF and safetensors files.
package quant

import "fmt"

// DType is a weight element encoding.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
	Q4_0
	Q8_0
	Q4_K
	Q6_K
)

// QK_K is the super-block size of the K-quant formats.
const QK_K = 256

const (
	q40Block = 2 + 16
	q80Block = 2 + 32
	q4kBlock = 2 + 2 + 12 + 128
	q6kBlock = 128 + 64 + 16 + 2
)

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	case Q4_0:
		return "Q4_0"
	case Q8_0:
		return "Q8_0"
	case Q4_K:
		return "Q4_K"
	case Q6_K:
		return "Q6_K"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// BlockSize returns elements per block and bytes per block.
func (d DType) BlockSize() (elems, bytes int) {
	switch d {
	case F32:
		return 1, 4
	case F16, BF16:
		return 1, 2
	case Q4_0:
		return 32, q40Block
	case Q8_0:
		return 32, q80Block
	case Q4_K:
		return QK_K, q4kBlock
	case Q6_K:
		return QK_K, q6kBlock
	default:
		return 0, 0
	}
}

// RowBytes returns the encoded size of n elements.
func RowBytes(d DType, n int) (int, error) {
	elems, size := d.BlockSize()
	if elems == 0 {
		return 0, fmt.Errorf("unsupported dtype %s", d)
	}
	if n%elems != 0 {
		return 0, fmt.Errorf("%s: %d elements is not a multiple of block size %d", d, n, elems)
	}
	return n / elems * size, nil
}

// DecodeRow decodes len(dst) elements from raw into dst.
func DecodeRow(dst []float32, d DType, raw []byte) error {
	want, err := RowBytes(d, len(dst))
	if err != nil {
		return err
	}
	if len(raw) < want {
		return fmt.Errorf("%s: need %d bytes, have %d", d, want, len(raw))
	}
	switch d {
	case F32:
		for i := range dst {
			dst[i] = F32At(raw, i)
		}
	case F16:
		for i := range dst {
			dst[i] = F16ToF32(u16(raw, i*2))
		}
	case BF16:
		for i := range dst {
			dst[i] = BF16ToF32(u16(raw, i*2))
		}
	case Q4_0:
		decodeQ40(dst, raw)
	case Q8_0:
		decodeQ80(dst, raw)
	case Q4_K:
		decodeQ4K(dst, raw)
	case Q6_K:
		decodeQ6K(dst, raw)
	}
	return nil
}

// Dequantize decodes n elements into a new slice.
func Dequantize(d DType, raw []byte, n int) ([]float32, error) {
	out := make([]float32, n)
	if err := DecodeRow(out, d, raw); err != nil {
		return nil, err
	}
	return out, nil
}
