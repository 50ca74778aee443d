// Package util collects small generic numeric helpers shared across the
// kernel packages, adapted from util/util.go.
package util

// Int is the set of integer types Round* and Min accept.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown rounds v down to the nearest multiple of to.
func Rounddown[T Int](v, to T) T {
	return v - v%to
}

// Roundup rounds v up to the nearest multiple of to.
func Roundup[T Int](v, to T) T {
	return Rounddown(v+to-1, to)
}

// Rounddown32 is Rounddown specialized for uint32 arithmetic, used by the
// vm package where va math must not promote to a signed/64-bit type.
func Rounddown32(v, to uint32) uint32 { return Rounddown(v, to) }

// Roundup32 is Roundup specialized for uint32 arithmetic.
func Roundup32(v, to uint32) uint32 { return Roundup(v, to) }
