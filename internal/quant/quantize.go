package quant

import (
	"encoding/binary"
	"fmt"
	"math"
)

// QuantizeQ8_0 encodes src (a multiple of 32 values) as Q8_0 blocks.
func QuantizeQ8_0(src []float32) ([]byte, error) {
	if len(src)%32 != 0 {
		return nil, fmt.Errorf("Q8_0: %d values is not a multiple of 32", len(src))
	}
	out := make([]byte, len(src)/32*q80Block)
	for b := 0; b*32 < len(src); b++ {
		blk := src[b*32 : b*32+32]
		var amax float32
		for _, v := range blk {
			amax = max(amax, float32(math.Abs(float64(v))))
		}
		d := amax / 127
		inv := float32(0)
		if d != 0 {
			inv = 1 / d
		}
		dst := out[b*q80Block:]
		binary.LittleEndian.PutUint16(dst, F32ToF16(d))
		for j, v := range blk {
			dst[2+j] = byte(int8(math.Round(float64(v * inv))))
		}
	}
	return out, nil
}

// EncodeF16 packs src as little-endian halves.
func EncodeF16(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], F32ToF16(v))
	}
	return out
}

// EncodeBF16 packs src as little-endian bfloat16 by truncation.
func EncodeBF16(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(math.Float32bits(v)>>16))
	}
	return out
}

// EncodeF32 packs src as little-endian float32.
func EncodeF32(src []float32) []byte {
	out := make([]byte, len(src)*4)
	for i, v := range src {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
