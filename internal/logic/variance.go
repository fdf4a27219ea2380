package logic

import "math"

// Variance returns the dispersion of the given bucket counts: the truncated
// integer square root of the sample variance around the truncated integer mean.
// Fewer than two values have no sample variance and yield 0.
func Variance(values []uint16) uint32 {
	n := int64(len(values))
	if n < 2 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += int64(v)
	}
	mean := sum / n

	var acc uint64
	for _, v := range values {
		d := int64(v) - mean
		acc += uint64(d * d)
	}
	acc /= uint64(n - 1)

	return uint32(isqrt(acc))
}

// isqrt returns floor(sqrt(x)).
func isqrt(x uint64) uint64 {
	r := uint64(math.Sqrt(float64(x)))
	// float64 rounding can be off by one near large perfect squares
	for r*r > x {
		r--
	}
	for r < math.MaxUint32 && (r+1)*(r+1) <= x {
		r++
	}
	return r
}
