package gen

// DeleteIf removes all elements for which remove returns true, preserving the order of the rest.
// The backing array is reused.
func DeleteIf[T any](s []T, remove func(T) bool) []T {
	j := 0
	for _, v := range s {
		if !remove(v) {
			s[j] = v
			j++
		}
	}
	var zero T
	for k := j; k < len(s); k++ {
		s[k] = zero
	}
	return s[:j]
}
