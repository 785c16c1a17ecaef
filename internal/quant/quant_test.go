package quant

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestF16RoundTrip(t *testing.T) {
	t.Parallel()
	for _, v := range []float32{0, 1, -1, 0.5, 65504, -2.25, 6.1035156e-05, 5.9604645e-08} {
		if got := F16ToF32(F32ToF16(v)); got != v {
			t.Errorf("f16 round trip %v -> %v", v, got)
		}
	}
	if !math.IsInf(float64(F16ToF32(F32ToF16(1e6))), 1) {
		t.Error("large values should overflow to +Inf")
	}
	if F16ToF32(0x3c00) != 1 {
		t.Error("0x3c00 should be 1.0")
	}
}

func TestDecodeRowHalfFormats(t *testing.T) {
	t.Parallel()
	src := []float32{1, -2, 0.25, 3.5}
	for _, tc := range []struct {
		d   DType
		raw []byte
	}{
		{F32, EncodeF32(src)},
		{F16, EncodeF16(src)},
		{BF16, EncodeBF16(src)},
	} {
		dst := make([]float32, len(src))
		if err := DecodeRow(dst, tc.d, tc.raw); err != nil {
			t.Fatalf("%s: %v", tc.d, err)
		}
		for i := range src {
			if dst[i] != src[i] {
				t.Fatalf("%s: dst[%d] = %v, want %v", tc.d, i, dst[i], src[i])
			}
		}
	}
}

func TestQ8_0RoundTrip(t *testing.T) {
	t.Parallel()
	src := make([]float32, 64)
	for i := range src {
		src[i] = float32(i-32) / 8
	}
	raw, err := QuantizeQ8_0(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 2*34 {
		t.Fatalf("encoded length %d", len(raw))
	}
	got, err := Dequantize(Q8_0, raw, len(src))
	if err != nil {
		t.Fatal(err)
	}
	for i := range src {
		if math.Abs(float64(got[i]-src[i])) > 0.02 {
			t.Fatalf("value %d: got %v want %v", i, got[i], src[i])
		}
	}
}

func TestDecodeQ4_0(t *testing.T) {
	t.Parallel()
	raw := make([]byte, q40Block)
	binary.LittleEndian.PutUint16(raw, F32ToF16(0.5))
	for j := range 16 {
		raw[2+j] = 0x9 | 0x7<<4 // low 9-8=1, high 7-8=-1
	}
	got, err := Dequantize(Q4_0, raw, 32)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0.5 || got[15] != 0.5 || got[16] != -0.5 || got[31] != -0.5 {
		t.Fatalf("unexpected Q4_0 decode %v", got)
	}
}

func TestDecodeQ4K(t *testing.T) {
	t.Parallel()
	raw := make([]byte, q4kBlock)
	binary.LittleEndian.PutUint16(raw[0:], F32ToF16(1))
	binary.LittleEndian.PutUint16(raw[2:], F32ToF16(0.5))
	for j := range 4 {
		raw[4+j] = 2     // scale for sub-blocks 0-3
		raw[8+j] = 1     // min for sub-blocks 0-3
		raw[12+j] = 0x13 // scale 3, min 1 for sub-blocks 4-7
	}
	for j := range 128 {
		raw[16+j] = 0x21
	}
	got, err := Dequantize(Q4_K, raw, QK_K)
	if err != nil {
		t.Fatal(err)
	}
	checks := map[int]float32{0: 1.5, 31: 1.5, 32: 3.5, 64: 1.5, 128: 2.5, 160: 5.5, 255: 5.5}
	for i, want := range checks {
		if got[i] != want {
			t.Errorf("y[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestDecodeQ6K(t *testing.T) {
	t.Parallel()
	raw := make([]byte, q6kBlock)
	for j := range 16 {
		raw[192+j] = 1
	}
	binary.LittleEndian.PutUint16(raw[208:], F32ToF16(1))
	raw[0] = 0x0f
	raw[128] = 0xff
	got, err := Dequantize(Q6_K, raw, QK_K)
	if err != nil {
		t.Fatal(err)
	}
	checks := map[int]float32{0: 31, 32: 16, 64: 16, 96: 16, 1: -32, 128: -32, 255: -32}
	for i, want := range checks {
		if got[i] != want {
			t.Errorf("y[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestRowBytesErrors(t *testing.T) {
	t.Parallel()
	if _, err := RowBytes(Q4_K, 100); err == nil {
		t.Fatal("expected block alignment error")
	}
	if _, err := RowBytes(DType(99), 4); err == nil {
		t.Fatal("expected unsupported dtype error")
	}
	if n, _ := RowBytes(Q6_K, 512); n != 420 {
		t.Fatalf("RowBytes(Q6_K, 512) = %d", n)
	}
	if err := DecodeRow(make([]float32, 32), Q8_0, make([]byte, 10)); err == nil {
		t.Fatal("expected short buffer error")
	}
}
