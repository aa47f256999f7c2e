package memutils

import (
	"math"
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// CheckedMul multiplies count by size, returning SizeOverflowError if either value is negative or the
// product does not fit in an int
func CheckedMul(count, size int) (int, error) {
	if count < 0 || size < 0 {
		return 0, cerrors.Wrapf(NegativeSizeError, "count is %d, size is %d", count, size)
	}

	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > math.MaxInt {
		return 0, cerrors.Wrapf(SizeOverflowError, "%d elements of %d bytes", count, size)
	}

	return int(lo), nil
}
