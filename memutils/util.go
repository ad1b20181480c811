package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that the block size helpers can operate on
type Number interface {
	constraints.Integer
}

// IsPow2 returns true if number is a positive power of two
func IsPow2[T Number](number T) bool {
	return number > 0 && number&(number-1) == 0
}

// CheckPow2 returns a PowerOfTwoError wrapped with the provided name if number is not a positive power of two
func CheckPow2[T Number](number T, name string) error {
	if !IsPow2(number) {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// NextPow2 returns the smallest power of two that is greater than or equal to value. Values of 0 and 1 both
// return 1. The result is computed in 64 bits so that callers working in uint32 can detect overflow.
func NextPow2(value uint64) uint64 {
	if value <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(value-1)
}

// Log2 returns the base-2 logarithm of a power of two
func Log2[T Number](value T) int {
	return bits.TrailingZeros64(uint64(value))
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}
