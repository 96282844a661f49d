package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. The alignment
// does not need to be a power of two: surface strides rarely are.
func AlignUp[T Number](value, alignment T) T {
	return (value + alignment - 1) / alignment * alignment
}

// AlignDown rounds value down to the previous multiple of alignment.
func AlignDown[T Number](value, alignment T) T {
	return value / alignment * alignment
}
