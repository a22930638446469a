package xmath

import (
	"math/big"
	"strings"
)

// DecimalScale is the compile-time fixed-point scale shared by Dec128 and
// Dec256: every unit of the underlying integer represents 10^-DecimalScale.
const DecimalScale = 18

var decimalScaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalScale), nil)

// Dec256 is a fixed-point decimal backed by a Uint256 atomic value scaled
// by 10^DecimalScale, following original_source/grug/math/src/dec.rs.
type Dec256 struct{ atomics Uint256 }

// NewDec256FromInt builds a Dec256 representing the whole number v.
func NewDec256FromInt(v uint64) (Dec256, error) {
	atomics, err := NewUint256FromBigInt(new(big.Int).Mul(new(big.Int).SetUint64(v), decimalScaleFactor))
	if err != nil {
		return Dec256{}, err
	}
	return Dec256{atomics}, nil
}

// NewDec256FromAtomics builds a Dec256 directly from its scaled integer
// representation.
func NewDec256FromAtomics(atomics Uint256) Dec256 { return Dec256{atomics} }

// ParseDec256 parses a base-10 decimal string such as "123.456".
func ParseDec256(s string) (Dec256, error) {
	neg := strings.HasPrefix(s, "-")
	if neg {
		return Dec256{}, ErrNegativeResult
	}
	intPart, fracPart, found := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > DecimalScale {
		return Dec256{}, ErrInvalidDecimal
	}
	if found {
		fracPart = fracPart + strings.Repeat("0", DecimalScale-len(fracPart))
	} else {
		fracPart = strings.Repeat("0", DecimalScale)
	}
	combined, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Dec256{}, ErrInvalidDecimal
	}
	atomics, err := NewUint256FromBigInt(combined)
	if err != nil {
		return Dec256{}, err
	}
	return Dec256{atomics}, nil
}

// Atomics returns the underlying scaled integer representation.
func (d Dec256) Atomics() Uint256 { return d.atomics }

// CheckedAdd returns d+other.
func (d Dec256) CheckedAdd(other Dec256) (Dec256, error) {
	sum, err := d.atomics.CheckedAdd(other.atomics)
	return Dec256{sum}, err
}

// CheckedSub returns d-other.
func (d Dec256) CheckedSub(other Dec256) (Dec256, error) {
	diff, err := d.atomics.CheckedSub(other.atomics)
	return Dec256{diff}, err
}

// CheckedMulFloor returns floor(d*other), rounding the extra scale factor
// down, matching checked_mul_dec_floor semantics.
func (d Dec256) CheckedMulFloor(other Dec256) (Dec256, error) {
	prod := new(big.Int).Mul(d.atomics.BigInt(), other.atomics.BigInt())
	q := new(big.Int).Div(prod, decimalScaleFactor)
	atomics, err := NewUint256FromBigInt(q)
	return Dec256{atomics}, err
}

// CheckedMulCeil returns ceil(d*other).
func (d Dec256) CheckedMulCeil(other Dec256) (Dec256, error) {
	prod := new(big.Int).Mul(d.atomics.BigInt(), other.atomics.BigInt())
	q, r := new(big.Int).DivMod(prod, decimalScaleFactor, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	atomics, err := NewUint256FromBigInt(q)
	return Dec256{atomics}, err
}

// CheckedDivFloor returns floor(d/other).
func (d Dec256) CheckedDivFloor(other Dec256) (Dec256, error) {
	if other.atomics.IsZero() {
		return Dec256{}, ErrDivideByZero
	}
	num := new(big.Int).Mul(d.atomics.BigInt(), decimalScaleFactor)
	q := new(big.Int).Div(num, other.atomics.BigInt())
	atomics, err := NewUint256FromBigInt(q)
	return Dec256{atomics}, err
}

// CheckedDivCeil returns ceil(d/other).
func (d Dec256) CheckedDivCeil(other Dec256) (Dec256, error) {
	if other.atomics.IsZero() {
		return Dec256{}, ErrDivideByZero
	}
	num := new(big.Int).Mul(d.atomics.BigInt(), decimalScaleFactor)
	q, r := new(big.Int).DivMod(num, other.atomics.BigInt(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	atomics, err := NewUint256FromBigInt(q)
	return Dec256{atomics}, err
}

// CheckedMulIntFloor multiplies an integer amount (e.g. a Uint256 coin
// balance) by this fraction, flooring the result. Mirrors
// checked_mul_dec_floor for the MultiplyFraction trait in
// original_source/crates/types/src/math/uint.rs.
func (d Dec256) CheckedMulIntFloor(amount Uint256) (Uint256, error) {
	prod := new(big.Int).Mul(amount.BigInt(), d.atomics.BigInt())
	q := new(big.Int).Div(prod, decimalScaleFactor)
	return NewUint256FromBigInt(q)
}

// CheckedMulIntCeil multiplies an integer amount by this fraction, rounding
// up.
func (d Dec256) CheckedMulIntCeil(amount Uint256) (Uint256, error) {
	prod := new(big.Int).Mul(amount.BigInt(), d.atomics.BigInt())
	q, r := new(big.Int).DivMod(prod, decimalScaleFactor, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return NewUint256FromBigInt(q)
}

// String renders the decimal in base-10 form with a trailing-zero-trimmed
// fractional part.
func (d Dec256) String() string {
	s := d.atomics.BigInt().String()
	for len(s) <= DecimalScale {
		s = "0" + s
	}
	intPart := s[:len(s)-DecimalScale]
	fracPart := strings.TrimRight(s[len(s)-DecimalScale:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// Dec128 is a fixed-point decimal backed by a Uint128 atomic value, used
// where the smaller range of 128-bit amounts (e.g. Coin.amount) suffices.
type Dec128 struct{ atomics Uint128 }

// NewDec128FromAtomics builds a Dec128 directly from its scaled integer
// representation.
func NewDec128FromAtomics(atomics Uint128) Dec128 { return Dec128{atomics} }

// Atomics returns the underlying scaled integer representation.
func (d Dec128) Atomics() Uint128 { return d.atomics }

// CheckedMulIntFloor multiplies an integer amount by this fraction,
// flooring the result.
func (d Dec128) CheckedMulIntFloor(amount Uint128) (Uint128, error) {
	prod := new(big.Int).Mul(amount.BigInt(), d.atomics.BigInt())
	q := new(big.Int).Div(prod, decimalScaleFactor)
	return NewUint128FromBigInt(q)
}

// CheckedMulIntCeil multiplies an integer amount by this fraction, rounding
// up.
func (d Dec128) CheckedMulIntCeil(amount Uint128) (Uint128, error) {
	prod := new(big.Int).Mul(amount.BigInt(), d.atomics.BigInt())
	q, r := new(big.Int).DivMod(prod, decimalScaleFactor, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return NewUint128FromBigInt(q)
}
