package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// SizeOverflowError is the error returned from CheckedMul when a size calculation does not fit in an int
var SizeOverflowError error = errors.New("size calculation overflows")

// NegativeSizeError is the error returned when a size that must be non-negative is below zero
var NegativeSizeError error = errors.New("size must not be negative")
