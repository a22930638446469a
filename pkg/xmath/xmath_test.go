package xmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64CheckedAddOverflow(t *testing.T) {
	max := NewUint64(^uint64(0))
	_, err := max.CheckedAdd(NewUint64(1))
	require.ErrorIs(t, err, ErrOverflow)

	sum, err := NewUint64(1).CheckedAdd(NewUint64(2))
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum.Uint64())
}

func TestUint64BigEndianOrderPreserving(t *testing.T) {
	a := NewUint64(5)
	b := NewUint64(9)
	ab := a.BigEndianBytes()
	bb := b.BigEndianBytes()
	require.Less(t, string(ab[:]), string(bb[:]))
}

func TestInt64BigEndianOrderPreserving(t *testing.T) {
	neg := NewInt64(-5)
	pos := NewInt64(5)
	nb := neg.BigEndianBytes()
	pb := pos.BigEndianBytes()
	require.Less(t, string(nb[:]), string(pb[:]))
}

func TestUint64MultiplyRatioFloorCeil(t *testing.T) {
	a := NewUint64(10)
	n := NewUint64(3)
	d := NewUint64(7)
	floor, err := a.CheckedMultiplyRatioFloor(n, d)
	require.NoError(t, err)
	ceil, err := a.CheckedMultiplyRatioCeil(n, d)
	require.NoError(t, err)
	require.True(t, floor.Cmp(ceil) <= 0)
	require.True(t, ceil.Uint64()-floor.Uint64() <= 1)
}

func TestUint128CheckedOverflow(t *testing.T) {
	max, err := NewUint128FromBigInt(uint128Max)
	require.NoError(t, err)
	_, err = max.CheckedAdd(NewUint128FromUint64(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestUint128BigEndianOrderPreserving(t *testing.T) {
	a := NewUint128FromUint64(1)
	b := NewUint128FromUint64(2)
	ab := a.BigEndianBytes()
	bb := b.BigEndianBytes()
	require.Less(t, string(ab[:]), string(bb[:]))
}

func TestInt128BigEndianOrderPreserving(t *testing.T) {
	neg := NewInt128FromInt64(-100)
	pos := NewInt128FromInt64(100)
	nb := neg.BigEndianBytes()
	pb := pos.BigEndianBytes()
	require.Less(t, string(nb[:]), string(pb[:]))
}

func TestUint128MultiplyRatio(t *testing.T) {
	a := NewUint128FromUint64(1_000_000)
	n := NewUint128FromUint64(7)
	d := NewUint128FromUint64(3)
	floor, err := a.CheckedMultiplyRatioFloor(n, d)
	require.NoError(t, err)
	ceil, err := a.CheckedMultiplyRatioCeil(n, d)
	require.NoError(t, err)
	diff := new(big.Int).Sub(ceil.BigInt(), floor.BigInt())
	require.True(t, diff.Cmp(big.NewInt(1)) <= 0)
}

func TestUint256RoundTrip(t *testing.T) {
	v := new(big.Int)
	v.SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10) // 2^256-1
	u, err := NewUint256FromBigInt(v)
	require.NoError(t, err)
	_, err = u.CheckedAdd(NewUint256FromUint64(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestInt256Signed(t *testing.T) {
	neg := NewInt256FromInt64(-42)
	require.True(t, neg.IsNegative())
	nb := neg.BigEndianBytes()
	pos := NewInt256FromInt64(42)
	pb := pos.BigEndianBytes()
	require.Less(t, string(nb[:]), string(pb[:]))
}

func TestUint512Basic(t *testing.T) {
	a := NewUint512FromUint64(10)
	b := NewUint512FromUint64(20)
	sum, err := a.CheckedAdd(b)
	require.NoError(t, err)
	require.Equal(t, "30", sum.BigInt().String())
}

func TestDec256ParseAndMul(t *testing.T) {
	a, err := ParseDec256("1.5")
	require.NoError(t, err)
	b, err := ParseDec256("2.0")
	require.NoError(t, err)
	prod, err := a.CheckedMulFloor(b)
	require.NoError(t, err)
	require.Equal(t, "3", prod.String())
}

func TestDec256MulIntFloorCeil(t *testing.T) {
	ratio, err := ParseDec256("0.3333333333333333333") // slightly under 1/3
	require.NoError(t, err)
	amount := NewUint256FromUint64(10)
	floor, err := ratio.CheckedMulIntFloor(amount)
	require.NoError(t, err)
	ceil, err := ratio.CheckedMulIntCeil(amount)
	require.NoError(t, err)
	require.True(t, floor.Cmp(ceil) <= 0)
}

func TestDivideByZero(t *testing.T) {
	_, err := NewUint64(1).CheckedDiv(NewUint64(0))
	require.ErrorIs(t, err, ErrDivideByZero)
	_, err = NewUint128FromUint64(1).CheckedDiv(Uint128{})
	require.ErrorIs(t, err, ErrDivideByZero)
}
