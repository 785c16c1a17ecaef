package quant

import (
	"encoding/binary"
	"math"
)

func u16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }

// F32At reads the i-th little-endian float32 of b.
func F32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

// BF16ToF32 widens a bfloat16.
func BF16ToF32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

// F16ToF32 widens an IEEE half.
func F16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x3ff)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
			break
		}
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		f = sign<<31 | e<<23 | frac<<13
	case 0x1f:
		f = sign<<31 | 0x7f800000 | frac<<13
	default:
		f = sign<<31 | (exp+127-15)<<23 | frac<<13
	}
	return math.Float32frombits(f)
}

// F32ToF16 narrows to an IEEE half with round-to-nearest-even. Used when
// writing test fixtures.
func F32ToF16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case bits&0x7fffffff == 0:
		return sign
	case exp >= 0x1f:
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		mid := uint32(1) << (shift - 1)
		if rem > mid || (rem == mid && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}
	half := uint32(exp)<<10 | mant>>13
	rem := mant & 0x1fff
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return sign | uint16(half)
}

func decodeQ40(dst []float32, raw []byte) {
	for b := 0; b*32 < len(dst); b++ {
		blk := raw[b*q40Block:]
		d := F16ToF32(u16(blk, 0))
		qs := blk[2:18]
		y := dst[b*32:]
		for j := range 16 {
			y[j] = float32(int(qs[j]&0x0f)-8) * d
			y[j+16] = float32(int(qs[j]>>4)-8) * d
		}
	}
}

func decodeQ80(dst []float32, raw []byte) {
	for b := 0; b*32 < len(dst); b++ {
		blk := raw[b*q80Block:]
		d := F16ToF32(u16(blk, 0))
		y := dst[b*32:]
		for j := range 32 {
			y[j] = float32(int8(blk[2+j])) * d
		}
	}
}

func decodeQ4K(dst []float32, raw []byte) {
	for b := 0; b*QK_K < len(dst); b++ {
		blk := raw[b*q4kBlock:]
		d := F16ToF32(u16(blk, 0))
		dmin := F16ToF32(u16(blk, 2))
		scales := blk[4:16]
		q := blk[16:q4kBlock]
		y := dst[b*QK_K:]
		yi, is := 0, 0
		for j := 0; j < QK_K; j += 64 {
			sc1, m1 := scaleMinK4(is, scales)
			sc2, m2 := scaleMinK4(is+1, scales)
			d1, mm1 := d*float32(sc1), dmin*float32(m1)
			d2, mm2 := d*float32(sc2), dmin*float32(m2)
			for l := range 32 {
				y[yi+l] = d1*float32(q[l]&0x0f) - mm1
				y[yi+32+l] = d2*float32(q[l]>>4) - mm2
			}
			yi += 64
			q = q[32:]
			is += 2
		}
	}
}

func scaleMinK4(j int, scales []byte) (uint8, uint8) {
	if j < 4 {
		return scales[j] & 63, scales[j+4] & 63
	}
	d := scales[j+4]&0x0f | (scales[j-4]>>6)<<4
	m := scales[j+4]>>4 | (scales[j]>>6)<<4
	return d, m
}

func decodeQ6K(dst []float32, raw []byte) {
	for b := 0; b*QK_K < len(dst); b++ {
		blk := raw[b*q6kBlock:]
		ql := blk[:128]
		qh := blk[128:192]
		sc := blk[192:208]
		d := F16ToF32(u16(blk, 208))
		y := dst[b*QK_K:]
		for n := 0; n < QK_K; n += 128 {
			for l := range 32 {
				is := l / 16
				q1 := int8(ql[l]&0x0f|(qh[l]&3)<<4) - 32
				q2 := int8(ql[l+32]&0x0f|(qh[l]>>2&3)<<4) - 32
				q3 := int8(ql[l]>>4|(qh[l]>>4&3)<<4) - 32
				q4 := int8(ql[l+32]>>4|(qh[l]>>6&3)<<4) - 32
				y[n+l] = d * float32(int8(sc[is])) * float32(q1)
				y[n+l+32] = d * float32(int8(sc[is+2])) * float32(q2)
				y[n+l+64] = d * float32(int8(sc[is+4])) * float32(q3)
				y[n+l+96] = d * float32(int8(sc[is+6])) * float32(q4)
			}
			ql = ql[64:]
			qh = qh[32:]
			sc = sc[8:]
		}
	}
}
