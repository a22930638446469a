// Package xmath implements the engine's arithmetic kernel: checked
// signed/unsigned integers at 64, 128, 256 and 512 bits, plus fixed-point
// decimals built on top of them. Wrapping and saturating operations exist
// on some types only: Uint64 has wrapping and saturating add/sub/mul;
// Uint128 and Uint256 have WrappingAdd, SaturatingAdd and SaturatingSub;
// Int128 has SaturatingAdd. Int64, Int256, Uint512 and Int512 have checked
// operations only.
package xmath

import "errors"

var (
	// ErrOverflow is returned when a checked operation's infinite-precision
	// result does not fit the destination type.
	ErrOverflow = errors.New("xmath: overflow")
	// ErrDivideByZero is returned by division and remainder on a zero divisor.
	ErrDivideByZero = errors.New("xmath: division by zero")
	// ErrNegativeResult is returned by ParseDec256 for a negative
	// ("-"-prefixed) input. Unsigned subtraction that would go below zero
	// reports ErrOverflow instead.
	ErrNegativeResult = errors.New("xmath: negative result for unsigned type")
	// ErrConversion names a lossy conversion between integer widths or
	// between signed and unsigned. The package has no conversion function,
	// and no operation in it returns this error.
	ErrConversion = errors.New("xmath: conversion overflow")
	// ErrNegativeFraction names the combination of a non-negative value
	// with a negative ratio or fraction. The package has no signed decimal
	// type, and no operation in it returns this error.
	ErrNegativeFraction = errors.New("xmath: negative fraction on non-negative value")
	// ErrInvalidDecimal is returned when parsing a malformed decimal string.
	ErrInvalidDecimal = errors.New("xmath: invalid decimal string")
)
