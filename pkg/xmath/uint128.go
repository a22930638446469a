package xmath

import (
	"math/big"
)

// bit-length bounds for the 128-bit types. No fixed-width 128-bit integer
// library is present anywhere in the example corpus (see DESIGN.md), so
// Uint128/Int128 wrap math/big.Int and enforce these bounds after every
// operation.
var (
	uint128Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	int128Max  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	int128Min  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Uint128 is a checked/wrapping/saturating unsigned 128-bit integer.
type Uint128 struct{ i big.Int }

// NewUint128FromUint64 constructs a Uint128 from a native uint64.
func NewUint128FromUint64(v uint64) Uint128 {
	var u Uint128
	u.i.SetUint64(v)
	return u
}

// NewUint128FromBigInt constructs a Uint128 from a big.Int, which must
// already lie within [0, 2^128).
func NewUint128FromBigInt(v *big.Int) (Uint128, error) {
	if v.Sign() < 0 || v.Cmp(uint128Max) > 0 {
		return Uint128{}, ErrOverflow
	}
	var u Uint128
	u.i.Set(v)
	return u, nil
}

// BigInt returns a copy of the underlying big.Int.
func (a Uint128) BigInt() *big.Int { return new(big.Int).Set(&a.i) }

// IsZero reports whether the value is zero.
func (a Uint128) IsZero() bool { return a.i.Sign() == 0 }

// Cmp compares a and b.
func (a Uint128) Cmp(b Uint128) int { return a.i.Cmp(&b.i) }

func (a Uint128) checkBounds() (Uint128, error) {
	if a.i.Sign() < 0 || a.i.Cmp(uint128Max) > 0 {
		return Uint128{}, ErrOverflow
	}
	return a, nil
}

// CheckedAdd returns a+b, or ErrOverflow if the result exceeds 2^128-1.
func (a Uint128) CheckedAdd(b Uint128) (Uint128, error) {
	var r Uint128
	r.i.Add(&a.i, &b.i)
	return r.checkBounds()
}

// CheckedSub returns a-b, or ErrOverflow if b > a.
func (a Uint128) CheckedSub(b Uint128) (Uint128, error) {
	var r Uint128
	r.i.Sub(&a.i, &b.i)
	return r.checkBounds()
}

// CheckedMul returns a*b, or ErrOverflow if the result exceeds 2^128-1.
func (a Uint128) CheckedMul(b Uint128) (Uint128, error) {
	var r Uint128
	r.i.Mul(&a.i, &b.i)
	return r.checkBounds()
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero.
func (a Uint128) CheckedDiv(b Uint128) (Uint128, error) {
	if b.i.Sign() == 0 {
		return Uint128{}, ErrDivideByZero
	}
	var r Uint128
	r.i.Div(&a.i, &b.i)
	return r, nil
}

// CheckedRem returns a%b, or ErrDivideByZero.
func (a Uint128) CheckedRem(b Uint128) (Uint128, error) {
	if b.i.Sign() == 0 {
		return Uint128{}, ErrDivideByZero
	}
	var r Uint128
	r.i.Mod(&a.i, &b.i)
	return r, nil
}

// WrappingAdd returns (a+b) mod 2^128.
func (a Uint128) WrappingAdd(b Uint128) Uint128 {
	var r Uint128
	r.i.Add(&a.i, &b.i)
	r.i.And(&r.i, uint128Max)
	return r
}

// SaturatingAdd returns a+b clamped to 2^128-1.
func (a Uint128) SaturatingAdd(b Uint128) Uint128 {
	if r, err := a.CheckedAdd(b); err == nil {
		return r
	}
	var r Uint128
	r.i.Set(uint128Max)
	return r
}

// SaturatingSub returns a-b clamped to zero.
func (a Uint128) SaturatingSub(b Uint128) Uint128 {
	if r, err := a.CheckedSub(b); err == nil {
		return r
	}
	return Uint128{}
}

// CheckedMultiplyRatioFloor computes floor(a*n/d), widening through
// math/big so the intermediate product is exact.
func (a Uint128) CheckedMultiplyRatioFloor(n, d Uint128) (Uint128, error) {
	if d.i.Sign() == 0 {
		return Uint128{}, ErrDivideByZero
	}
	prod := new(big.Int).Mul(&a.i, &n.i)
	q := new(big.Int).Div(prod, &d.i)
	return NewUint128FromBigInt(q)
}

// CheckedMultiplyRatioCeil computes ceil(a*n/d).
func (a Uint128) CheckedMultiplyRatioCeil(n, d Uint128) (Uint128, error) {
	if d.i.Sign() == 0 {
		return Uint128{}, ErrDivideByZero
	}
	prod := new(big.Int).Mul(&a.i, &n.i)
	q, r := new(big.Int).DivMod(prod, &d.i, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return NewUint128FromBigInt(q)
}

// BigEndianBytes encodes a as 16 big-endian bytes, preserving numeric
// ordering on the byte representation.
func (a Uint128) BigEndianBytes() [16]byte {
	var out [16]byte
	a.i.FillBytes(out[:])
	return out
}

// Uint128FromBigEndian decodes the encoding produced by BigEndianBytes.
func Uint128FromBigEndian(b []byte) Uint128 {
	var u Uint128
	u.i.SetBytes(b)
	return u
}

// MarshalBinary implements encoding.BinaryMarshaler via BigEndianBytes, so
// Uint128 round-trips through any codec that defers to it for an otherwise
// field-less struct (e.g. CBOR, gob) instead of silently encoding as empty.
func (a Uint128) MarshalBinary() ([]byte, error) {
	b := a.BigEndianBytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, the inverse of
// MarshalBinary.
func (a *Uint128) UnmarshalBinary(data []byte) error {
	*a = Uint128FromBigEndian(data)
	return nil
}

// Int128 is a checked signed 128-bit integer with a saturating add; it has
// no wrapping operations.
type Int128 struct{ i big.Int }

// NewInt128FromInt64 constructs an Int128 from a native int64.
func NewInt128FromInt64(v int64) Int128 {
	var n Int128
	n.i.SetInt64(v)
	return n
}

// NewInt128FromBigInt constructs an Int128 from a big.Int within
// [-2^127, 2^127-1].
func NewInt128FromBigInt(v *big.Int) (Int128, error) {
	if v.Cmp(int128Min) < 0 || v.Cmp(int128Max) > 0 {
		return Int128{}, ErrOverflow
	}
	var n Int128
	n.i.Set(v)
	return n, nil
}

// BigInt returns a copy of the underlying big.Int.
func (a Int128) BigInt() *big.Int { return new(big.Int).Set(&a.i) }

// IsNegative reports whether the value is strictly negative.
func (a Int128) IsNegative() bool { return a.i.Sign() < 0 }

// Cmp compares a and b.
func (a Int128) Cmp(b Int128) int { return a.i.Cmp(&b.i) }

func (a Int128) checkBounds() (Int128, error) {
	if a.i.Cmp(int128Min) < 0 || a.i.Cmp(int128Max) > 0 {
		return Int128{}, ErrOverflow
	}
	return a, nil
}

// CheckedAdd returns a+b, or ErrOverflow.
func (a Int128) CheckedAdd(b Int128) (Int128, error) {
	var r Int128
	r.i.Add(&a.i, &b.i)
	return r.checkBounds()
}

// CheckedSub returns a-b, or ErrOverflow.
func (a Int128) CheckedSub(b Int128) (Int128, error) {
	var r Int128
	r.i.Sub(&a.i, &b.i)
	return r.checkBounds()
}

// CheckedMul returns a*b, or ErrOverflow.
func (a Int128) CheckedMul(b Int128) (Int128, error) {
	var r Int128
	r.i.Mul(&a.i, &b.i)
	return r.checkBounds()
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero.
func (a Int128) CheckedDiv(b Int128) (Int128, error) {
	if b.i.Sign() == 0 {
		return Int128{}, ErrDivideByZero
	}
	q, m := new(big.Int).QuoRem(&a.i, &b.i, new(big.Int))
	if m.Sign() != 0 && (m.Sign() < 0) != (b.i.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	var r Int128
	r.i.Set(q)
	return r.checkBounds()
}

// SaturatingAdd returns a+b clamped to the Int128 range.
func (a Int128) SaturatingAdd(b Int128) Int128 {
	if r, err := a.CheckedAdd(b); err == nil {
		return r
	}
	var r Int128
	if a.i.Sign() > 0 {
		r.i.Set(int128Max)
	} else {
		r.i.Set(int128Min)
	}
	return r
}

// BigEndianBytes encodes a as 16 big-endian bytes with the sign bit
// flipped, preserving signed numeric ordering on the byte representation.
func (a Int128) BigEndianBytes() [16]byte {
	biased := new(big.Int).Sub(&a.i, int128Min)
	var out [16]byte
	biased.FillBytes(out[:])
	return out
}

// Int128FromBigEndian decodes the encoding produced by BigEndianBytes.
func Int128FromBigEndian(b []byte) Int128 {
	biased := new(big.Int).SetBytes(b)
	var r Int128
	r.i.Add(biased, int128Min)
	return r
}
