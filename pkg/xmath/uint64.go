package xmath

import (
	"encoding/binary"
	"math/bits"
)

// Uint64 is a checked/wrapping/saturating wrapper around the native 64-bit
// unsigned integer. It exists so that callers have a uniform API across all
// four widths the engine supports (64/128/256/512).
type Uint64 struct{ v uint64 }

// NewUint64 constructs a Uint64 from a native value.
func NewUint64(v uint64) Uint64 { return Uint64{v} }

// Uint64 returns the underlying native value.
func (a Uint64) Uint64() uint64 { return a.v }

// IsZero reports whether the value is zero.
func (a Uint64) IsZero() bool { return a.v == 0 }

// Cmp compares a and b, returning -1, 0 or 1.
func (a Uint64) Cmp(b Uint64) int {
	switch {
	case a.v < b.v:
		return -1
	case a.v > b.v:
		return 1
	default:
		return 0
	}
}

// CheckedAdd returns a+b, or ErrOverflow if it wraps.
func (a Uint64) CheckedAdd(b Uint64) (Uint64, error) {
	sum := a.v + b.v
	if sum < a.v {
		return Uint64{}, ErrOverflow
	}
	return Uint64{sum}, nil
}

// CheckedSub returns a-b, or ErrOverflow if b > a.
func (a Uint64) CheckedSub(b Uint64) (Uint64, error) {
	if b.v > a.v {
		return Uint64{}, ErrOverflow
	}
	return Uint64{a.v - b.v}, nil
}

// CheckedMul returns a*b, or ErrOverflow on wraparound.
func (a Uint64) CheckedMul(b Uint64) (Uint64, error) {
	hi, lo := bits.Mul64(a.v, b.v)
	if hi != 0 {
		return Uint64{}, ErrOverflow
	}
	return Uint64{lo}, nil
}

// CheckedDiv returns a/b floor, or ErrDivideByZero.
func (a Uint64) CheckedDiv(b Uint64) (Uint64, error) {
	if b.v == 0 {
		return Uint64{}, ErrDivideByZero
	}
	return Uint64{a.v / b.v}, nil
}

// CheckedRem returns a%b, or ErrDivideByZero.
func (a Uint64) CheckedRem(b Uint64) (Uint64, error) {
	if b.v == 0 {
		return Uint64{}, ErrDivideByZero
	}
	return Uint64{a.v % b.v}, nil
}

// WrappingAdd returns a+b modulo 2^64.
func (a Uint64) WrappingAdd(b Uint64) Uint64 { return Uint64{a.v + b.v} }

// WrappingSub returns a-b modulo 2^64.
func (a Uint64) WrappingSub(b Uint64) Uint64 { return Uint64{a.v - b.v} }

// WrappingMul returns a*b modulo 2^64.
func (a Uint64) WrappingMul(b Uint64) Uint64 { return Uint64{a.v * b.v} }

// SaturatingAdd returns a+b clamped to the max value.
func (a Uint64) SaturatingAdd(b Uint64) Uint64 {
	if r, err := a.CheckedAdd(b); err == nil {
		return r
	}
	return Uint64{^uint64(0)}
}

// SaturatingSub returns a-b clamped to zero.
func (a Uint64) SaturatingSub(b Uint64) Uint64 {
	if r, err := a.CheckedSub(b); err == nil {
		return r
	}
	return Uint64{0}
}

// SaturatingMul returns a*b clamped to the max value.
func (a Uint64) SaturatingMul(b Uint64) Uint64 {
	if r, err := a.CheckedMul(b); err == nil {
		return r
	}
	return Uint64{^uint64(0)}
}

// CheckedMultiplyRatioFloor computes floor(a*n/d), widening to 128 bits for
// the intermediate product so the operation is exact before rounding.
func (a Uint64) CheckedMultiplyRatioFloor(n, d Uint64) (Uint64, error) {
	if d.v == 0 {
		return Uint64{}, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a.v, n.v)
	if hi >= d.v {
		return Uint64{}, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d.v)
	return Uint64{q}, nil
}

// CheckedMultiplyRatioCeil computes ceil(a*n/d).
func (a Uint64) CheckedMultiplyRatioCeil(n, d Uint64) (Uint64, error) {
	if d.v == 0 {
		return Uint64{}, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a.v, n.v)
	if hi >= d.v {
		return Uint64{}, ErrOverflow
	}
	q, r := bits.Div64(hi, lo, d.v)
	if r != 0 {
		q++
		if q == 0 {
			return Uint64{}, ErrOverflow
		}
	}
	return Uint64{q}, nil
}

// BigEndianBytes encodes a in 8-byte big-endian order, preserving numeric
// ordering on the byte representation so it can be used directly as a
// storage key component.
func (a Uint64) BigEndianBytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], a.v)
	return b
}

// Uint64FromBigEndian decodes the encoding produced by BigEndianBytes.
func Uint64FromBigEndian(b []byte) Uint64 {
	return Uint64{binary.BigEndian.Uint64(b)}
}

// Int64 is the signed counterpart of Uint64.
type Int64 struct{ v int64 }

// NewInt64 constructs an Int64 from a native value.
func NewInt64(v int64) Int64 { return Int64{v} }

// Int64 returns the underlying native value.
func (a Int64) Int64() int64 { return a.v }

// IsNegative reports whether the value is strictly negative.
func (a Int64) IsNegative() bool { return a.v < 0 }

// Cmp compares a and b, returning -1, 0 or 1.
func (a Int64) Cmp(b Int64) int {
	switch {
	case a.v < b.v:
		return -1
	case a.v > b.v:
		return 1
	default:
		return 0
	}
}

// CheckedAdd returns a+b, or ErrOverflow on signed overflow.
func (a Int64) CheckedAdd(b Int64) (Int64, error) {
	sum := a.v + b.v
	if ((a.v > 0 && b.v > 0) && sum < 0) || ((a.v < 0 && b.v < 0) && sum >= 0) {
		return Int64{}, ErrOverflow
	}
	return Int64{sum}, nil
}

// CheckedSub returns a-b, or ErrOverflow on signed overflow.
func (a Int64) CheckedSub(b Int64) (Int64, error) {
	if b.v == minInt64 {
		if a.v >= 0 {
			return Int64{}, ErrOverflow
		}
		return Int64{a.v - b.v}, nil
	}
	return a.CheckedAdd(Int64{-b.v})
}

const minInt64 = -(1 << 63)

// CheckedMul returns a*b, or ErrOverflow on signed overflow.
func (a Int64) CheckedMul(b Int64) (Int64, error) {
	if a.v == 0 || b.v == 0 {
		return Int64{0}, nil
	}
	if a.v == minInt64 && b.v == -1 {
		return Int64{}, ErrOverflow
	}
	r := a.v * b.v
	if r/b.v != a.v {
		return Int64{}, ErrOverflow
	}
	return Int64{r}, nil
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero / ErrOverflow.
func (a Int64) CheckedDiv(b Int64) (Int64, error) {
	if b.v == 0 {
		return Int64{}, ErrDivideByZero
	}
	if a.v == minInt64 && b.v == -1 {
		return Int64{}, ErrOverflow
	}
	q := a.v / b.v
	if (a.v%b.v != 0) && ((a.v < 0) != (b.v < 0)) {
		q--
	}
	return Int64{q}, nil
}

// BigEndianBytes encodes a in 8-byte big-endian order with the sign bit
// flipped, so that the byte ordering matches signed numeric ordering.
func (a Int64) BigEndianBytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(a.v)^(1<<63))
	return b
}

// Int64FromBigEndian decodes the encoding produced by BigEndianBytes.
func Int64FromBigEndian(b []byte) Int64 {
	u := binary.BigEndian.Uint64(b) ^ (1 << 63)
	return Int64{int64(u)}
}
