package xmath

import "math/big"

// bit-length bounds for the 512-bit types. No fixed-width 512-bit integer
// library appears anywhere in the example corpus, so Uint512/Int512 wrap
// math/big.Int directly and enforce these bounds after every operation
// (see DESIGN.md).
var (
	uint512Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 512), big.NewInt(1))
	int512Max  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 511), big.NewInt(1))
	int512Min  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 511))
)

// Uint512 is a checked unsigned 512-bit integer; it has no wrapping or
// saturating operations.
type Uint512 struct{ i big.Int }

// NewUint512FromUint64 constructs a Uint512 from a native uint64.
func NewUint512FromUint64(v uint64) Uint512 {
	var u Uint512
	u.i.SetUint64(v)
	return u
}

// NewUint512FromBigInt constructs a Uint512 from a big.Int within
// [0, 2^512).
func NewUint512FromBigInt(v *big.Int) (Uint512, error) {
	if v.Sign() < 0 || v.Cmp(uint512Max) > 0 {
		return Uint512{}, ErrOverflow
	}
	var u Uint512
	u.i.Set(v)
	return u, nil
}

// BigInt returns a copy of the underlying big.Int.
func (a Uint512) BigInt() *big.Int { return new(big.Int).Set(&a.i) }

// IsZero reports whether the value is zero.
func (a Uint512) IsZero() bool { return a.i.Sign() == 0 }

// Cmp compares a and b.
func (a Uint512) Cmp(b Uint512) int { return a.i.Cmp(&b.i) }

// CheckedAdd returns a+b, or ErrOverflow.
func (a Uint512) CheckedAdd(b Uint512) (Uint512, error) {
	return NewUint512FromBigInt(new(big.Int).Add(&a.i, &b.i))
}

// CheckedSub returns a-b, or ErrOverflow if b > a.
func (a Uint512) CheckedSub(b Uint512) (Uint512, error) {
	return NewUint512FromBigInt(new(big.Int).Sub(&a.i, &b.i))
}

// CheckedMul returns a*b, or ErrOverflow.
func (a Uint512) CheckedMul(b Uint512) (Uint512, error) {
	return NewUint512FromBigInt(new(big.Int).Mul(&a.i, &b.i))
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero.
func (a Uint512) CheckedDiv(b Uint512) (Uint512, error) {
	if b.i.Sign() == 0 {
		return Uint512{}, ErrDivideByZero
	}
	var r Uint512
	r.i.Div(&a.i, &b.i)
	return r, nil
}

// CheckedMultiplyRatioFloor computes floor(a*n/d).
func (a Uint512) CheckedMultiplyRatioFloor(n, d Uint512) (Uint512, error) {
	if d.i.Sign() == 0 {
		return Uint512{}, ErrDivideByZero
	}
	prod := new(big.Int).Mul(&a.i, &n.i)
	q := new(big.Int).Div(prod, &d.i)
	return NewUint512FromBigInt(q)
}

// CheckedMultiplyRatioCeil computes ceil(a*n/d).
func (a Uint512) CheckedMultiplyRatioCeil(n, d Uint512) (Uint512, error) {
	if d.i.Sign() == 0 {
		return Uint512{}, ErrDivideByZero
	}
	prod := new(big.Int).Mul(&a.i, &n.i)
	q, r := new(big.Int).DivMod(prod, &d.i, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return NewUint512FromBigInt(q)
}

// BigEndianBytes encodes a as 64 big-endian bytes.
func (a Uint512) BigEndianBytes() [64]byte {
	var out [64]byte
	a.i.FillBytes(out[:])
	return out
}

// Uint512FromBigEndian decodes the encoding produced by BigEndianBytes.
func Uint512FromBigEndian(b []byte) Uint512 {
	var u Uint512
	u.i.SetBytes(b)
	return u
}

// Int512 is a checked signed 512-bit integer.
type Int512 struct{ i big.Int }

// NewInt512FromInt64 constructs an Int512 from a native int64.
func NewInt512FromInt64(v int64) Int512 {
	var n Int512
	n.i.SetInt64(v)
	return n
}

// NewInt512FromBigInt constructs an Int512 from a big.Int within
// [-2^511, 2^511-1].
func NewInt512FromBigInt(v *big.Int) (Int512, error) {
	if v.Cmp(int512Min) < 0 || v.Cmp(int512Max) > 0 {
		return Int512{}, ErrOverflow
	}
	var n Int512
	n.i.Set(v)
	return n, nil
}

// BigInt returns a copy of the underlying big.Int.
func (a Int512) BigInt() *big.Int { return new(big.Int).Set(&a.i) }

// IsNegative reports whether the value is strictly negative.
func (a Int512) IsNegative() bool { return a.i.Sign() < 0 }

// Cmp compares a and b.
func (a Int512) Cmp(b Int512) int { return a.i.Cmp(&b.i) }

// CheckedAdd returns a+b, or ErrOverflow.
func (a Int512) CheckedAdd(b Int512) (Int512, error) {
	return NewInt512FromBigInt(new(big.Int).Add(&a.i, &b.i))
}

// CheckedSub returns a-b, or ErrOverflow.
func (a Int512) CheckedSub(b Int512) (Int512, error) {
	return NewInt512FromBigInt(new(big.Int).Sub(&a.i, &b.i))
}

// CheckedMul returns a*b, or ErrOverflow.
func (a Int512) CheckedMul(b Int512) (Int512, error) {
	return NewInt512FromBigInt(new(big.Int).Mul(&a.i, &b.i))
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero.
func (a Int512) CheckedDiv(b Int512) (Int512, error) {
	if b.i.Sign() == 0 {
		return Int512{}, ErrDivideByZero
	}
	q, m := new(big.Int).QuoRem(&a.i, &b.i, new(big.Int))
	if m.Sign() != 0 && (m.Sign() < 0) != (b.i.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return NewInt512FromBigInt(q)
}

// BigEndianBytes encodes a as 64 big-endian bytes with the sign bit
// flipped, preserving signed numeric ordering on the byte representation.
func (a Int512) BigEndianBytes() [64]byte {
	biased := new(big.Int).Sub(&a.i, int512Min)
	var out [64]byte
	biased.FillBytes(out[:])
	return out
}

// Int512FromBigEndian decodes the encoding produced by BigEndianBytes.
func Int512FromBigEndian(b []byte) Int512 {
	biased := new(big.Int).SetBytes(b)
	var r Int512
	r.i.Add(biased, int512Min)
	return r
}
