// Package sizemath holds the handful of overflow-checked integer
// primitives the pool and metadata layers use when turning a configured
// chunk capacity/count into an absolute byte size to mmap or truncate a
// file to.
package sizemath

import "math/bits"

// SafeMul returns x*y and reports whether the multiplication overflowed a
// uint64.
func SafeMul(x, y uint64) (product uint64, overflowed bool) {
	hi, lo := bits.Mul64(x, y)
	return lo, hi != 0
}

// SafeAdd returns x+y and reports whether the addition overflowed a
// uint64.
func SafeAdd(x, y uint64) (sum uint64, overflowed bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// CeilDiv returns ceil(x/y), or 0 if y is 0.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// AbsoluteDifference returns |x-y| for two uint64 operands, without risking
// the underflow a naive x-y would hit when x < y.
func AbsoluteDifference(x, y uint64) uint64 {
	if x > y {
		return x - y
	}
	return y - x
}
