package xmath

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Uint256 wraps github.com/holiman/uint256.Int, the fixed-width 256-bit
// integer type go-ethereum itself uses for EVM words.
type Uint256 struct{ i uint256.Int }

// NewUint256FromUint64 constructs a Uint256 from a native uint64.
func NewUint256FromUint64(v uint64) Uint256 {
	var u Uint256
	u.i.SetUint64(v)
	return u
}

// NewUint256FromBigInt constructs a Uint256 from a big.Int, which must lie
// within [0, 2^256).
func NewUint256FromBigInt(v *big.Int) (Uint256, error) {
	var u Uint256
	overflow := u.i.SetFromBig(v)
	if overflow {
		return Uint256{}, ErrOverflow
	}
	return u, nil
}

// BigInt converts to a big.Int.
func (a Uint256) BigInt() *big.Int { return a.i.ToBig() }

// IsZero reports whether the value is zero.
func (a Uint256) IsZero() bool { return a.i.IsZero() }

// Cmp compares a and b.
func (a Uint256) Cmp(b Uint256) int { return a.i.Cmp(&b.i) }

// CheckedAdd returns a+b, or ErrOverflow.
func (a Uint256) CheckedAdd(b Uint256) (Uint256, error) {
	var r Uint256
	_, overflow := r.i.AddOverflow(&a.i, &b.i)
	if overflow {
		return Uint256{}, ErrOverflow
	}
	return r, nil
}

// CheckedSub returns a-b, or ErrOverflow if b > a.
func (a Uint256) CheckedSub(b Uint256) (Uint256, error) {
	var r Uint256
	_, overflow := r.i.SubOverflow(&a.i, &b.i)
	if overflow {
		return Uint256{}, ErrOverflow
	}
	return r, nil
}

// CheckedMul returns a*b, or ErrOverflow.
func (a Uint256) CheckedMul(b Uint256) (Uint256, error) {
	var r Uint256
	_, overflow := r.i.MulOverflow(&a.i, &b.i)
	if overflow {
		return Uint256{}, ErrOverflow
	}
	return r, nil
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero.
func (a Uint256) CheckedDiv(b Uint256) (Uint256, error) {
	if b.i.IsZero() {
		return Uint256{}, ErrDivideByZero
	}
	var r Uint256
	r.i.Div(&a.i, &b.i)
	return r, nil
}

// CheckedRem returns a%b, or ErrDivideByZero.
func (a Uint256) CheckedRem(b Uint256) (Uint256, error) {
	if b.i.IsZero() {
		return Uint256{}, ErrDivideByZero
	}
	var r Uint256
	r.i.Mod(&a.i, &b.i)
	return r, nil
}

// WrappingAdd returns (a+b) mod 2^256.
func (a Uint256) WrappingAdd(b Uint256) Uint256 {
	var r Uint256
	r.i.Add(&a.i, &b.i)
	return r
}

// SaturatingAdd returns a+b clamped to the max Uint256 value.
func (a Uint256) SaturatingAdd(b Uint256) Uint256 {
	if r, err := a.CheckedAdd(b); err == nil {
		return r
	}
	var r Uint256
	r.i.SetAllOne()
	return r
}

// SaturatingSub returns a-b clamped to zero.
func (a Uint256) SaturatingSub(b Uint256) Uint256 {
	if r, err := a.CheckedSub(b); err == nil {
		return r
	}
	return Uint256{}
}

// CheckedMultiplyRatioFloor computes floor(a*n/d), widening the
// intermediate product through math/big (uint256's MulDivOverflow covers
// the common case but a correctness-first fallback keeps this exact for
// every input).
func (a Uint256) CheckedMultiplyRatioFloor(n, d Uint256) (Uint256, error) {
	if d.i.IsZero() {
		return Uint256{}, ErrDivideByZero
	}
	prod := new(big.Int).Mul(a.BigInt(), n.BigInt())
	q := new(big.Int).Div(prod, d.BigInt())
	return NewUint256FromBigInt(q)
}

// CheckedMultiplyRatioCeil computes ceil(a*n/d).
func (a Uint256) CheckedMultiplyRatioCeil(n, d Uint256) (Uint256, error) {
	if d.i.IsZero() {
		return Uint256{}, ErrDivideByZero
	}
	prod := new(big.Int).Mul(a.BigInt(), n.BigInt())
	q, r := new(big.Int).DivMod(prod, d.BigInt(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return NewUint256FromBigInt(q)
}

// BigEndianBytes encodes a as 32 big-endian bytes.
func (a Uint256) BigEndianBytes() [32]byte {
	return a.i.Bytes32()
}

// Uint256FromBigEndian decodes the encoding produced by BigEndianBytes.
func Uint256FromBigEndian(b []byte) Uint256 {
	var u Uint256
	u.i.SetBytes(b)
	return u
}

// Int256 is a sign-and-magnitude signed 256-bit integer, built on top of
// Uint256 since uint256.Int itself is unsigned-only.
type Int256 struct {
	neg bool
	mag uint256.Int
}

var int256Max = func() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 255)
	return v.Sub(v, big.NewInt(1))
}()

var int256MinMag = new(big.Int).Lsh(big.NewInt(1), 255)

// NewInt256FromInt64 constructs an Int256 from a native int64.
func NewInt256FromInt64(v int64) Int256 {
	neg := v < 0
	u := v
	if neg {
		u = -v
	}
	var n Int256
	n.neg = neg
	n.mag.SetUint64(uint64(u))
	return n
}

// NewInt256FromBigInt constructs an Int256 from a big.Int within
// [-2^255, 2^255-1].
func NewInt256FromBigInt(v *big.Int) (Int256, error) {
	abs := new(big.Int).Abs(v)
	if v.Sign() < 0 {
		if abs.Cmp(int256MinMag) > 0 {
			return Int256{}, ErrOverflow
		}
	} else if abs.Cmp(int256Max) > 0 {
		return Int256{}, ErrOverflow
	}
	var n Int256
	n.neg = v.Sign() < 0
	overflow := n.mag.SetFromBig(abs)
	if overflow {
		return Int256{}, ErrOverflow
	}
	return n, nil
}

// BigInt converts to a big.Int.
func (a Int256) BigInt() *big.Int {
	v := a.mag.ToBig()
	if a.neg {
		v.Neg(v)
	}
	return v
}

// IsNegative reports whether the value is strictly negative.
func (a Int256) IsNegative() bool { return a.neg && !a.mag.IsZero() }

// Cmp compares a and b.
func (a Int256) Cmp(b Int256) int { return a.BigInt().Cmp(b.BigInt()) }

// CheckedAdd returns a+b, or ErrOverflow.
func (a Int256) CheckedAdd(b Int256) (Int256, error) {
	return NewInt256FromBigInt(new(big.Int).Add(a.BigInt(), b.BigInt()))
}

// CheckedSub returns a-b, or ErrOverflow.
func (a Int256) CheckedSub(b Int256) (Int256, error) {
	return NewInt256FromBigInt(new(big.Int).Sub(a.BigInt(), b.BigInt()))
}

// CheckedMul returns a*b, or ErrOverflow.
func (a Int256) CheckedMul(b Int256) (Int256, error) {
	return NewInt256FromBigInt(new(big.Int).Mul(a.BigInt(), b.BigInt()))
}

// CheckedDiv returns floor(a/b), or ErrDivideByZero.
func (a Int256) CheckedDiv(b Int256) (Int256, error) {
	if b.mag.IsZero() {
		return Int256{}, ErrDivideByZero
	}
	q, m := new(big.Int).QuoRem(a.BigInt(), b.BigInt(), new(big.Int))
	if m.Sign() != 0 && (m.Sign() < 0) != (b.BigInt().Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return NewInt256FromBigInt(q)
}

// BigEndianBytes encodes a as 32 big-endian bytes with the sign bit
// flipped, preserving signed numeric ordering on the byte representation.
func (a Int256) BigEndianBytes() [32]byte {
	biased := new(big.Int).Sub(a.BigInt(), new(big.Int).Neg(int256MinMag))
	var out [32]byte
	biased.FillBytes(out[:])
	return out
}

// Int256FromBigEndian decodes the encoding produced by BigEndianBytes.
func Int256FromBigEndian(b []byte) Int256 {
	biased := new(big.Int).SetBytes(b)
	v := new(big.Int).Sub(biased, int256MinMag)
	n, _ := NewInt256FromBigInt(v)
	return n
}
