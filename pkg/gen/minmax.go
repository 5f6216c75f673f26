package gen

import (
	"cmp"
	"math"
)

func Clamp[T cmp.Ordered](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampUnit clamps v to [0,1]. NaN becomes 0.
// The second return value is true if v was modified.
func ClampUnit(v float32) (float32, bool) {
	if v != v {
		return 0, true
	}
	c := Clamp(v, 0, 1)
	return c, c != v
}

// NextPowerOf2 returns the smallest power of 2 that is >= n (minimum 1)
func NextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
