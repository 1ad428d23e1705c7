package sizemath_test

import (
	"math"
	"testing"

	"github.com/erigontech/mpt/sizemath"
)

func TestSafeMulOverflow(t *testing.T) {
	product, overflowed := sizemath.SafeMul(math.MaxUint64, 2)
	if !overflowed {
		t.Fatalf("expected overflow, got product %d", product)
	}
	product, overflowed = sizemath.SafeMul(1024, 1024)
	if overflowed || product != 1024*1024 {
		t.Fatalf("SafeMul(1024, 1024) = (%d, %v), want (1048576, false)", product, overflowed)
	}
}

func TestSafeAddOverflow(t *testing.T) {
	sum, overflowed := sizemath.SafeAdd(math.MaxUint64, 1)
	if !overflowed {
		t.Fatalf("expected overflow, got sum %d", sum)
	}
	sum, overflowed = sizemath.SafeAdd(40, 2)
	if overflowed || sum != 42 {
		t.Fatalf("SafeAdd(40, 2) = (%d, %v), want (42, false)", sum, overflowed)
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ x, y, want int }{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{5, 0, 0},
	}
	for _, c := range cases {
		if got := sizemath.CeilDiv(c.x, c.y); got != c.want {
			t.Fatalf("CeilDiv(%d, %d) = %d, want %d", c.x, c.y, got, c.want)
		}
	}
}

func TestAbsoluteDifference(t *testing.T) {
	if got := sizemath.AbsoluteDifference(10, 3); got != 7 {
		t.Fatalf("AbsoluteDifference(10, 3) = %d, want 7", got)
	}
	if got := sizemath.AbsoluteDifference(3, 10); got != 7 {
		t.Fatalf("AbsoluteDifference(3, 10) = %d, want 7", got)
	}
}
