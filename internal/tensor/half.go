package tensor

import "math"

// HalfToFloat32 expands an IEEE 754 binary16 value.
func HalfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := int32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// subnormal: renormalise
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | uint32(exp+112)<<23 | mant<<13)
}

// Float32ToHalf narrows f to binary16, truncating the mantissa.
func Float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	s := uint16((bits >> 16) & 0x8000)
	e := int32((bits >> 23) & 0xff)
	m := bits & 0x7fffff

	if e == 0xff {
		if m == 0 {
			return s | 0x7c00
		}
		return s | 0x7e00
	}
	if e == 0 {
		return s
	}

	e -= 127 - 15
	switch {
	case e >= 31:
		return s | 0x7c00
	case e <= 0:
		if e < -10 {
			return s
		}
		m |= 0x800000
		m >>= uint32(1 - e)
		return s | uint16(m>>13)
	}
	return s | uint16(e<<10) | uint16(m>>13)
}
