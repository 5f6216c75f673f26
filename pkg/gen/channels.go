package gen

// DrainChannelIntoSlice returns whatever is currently buffered in ch, without blocking
func DrainChannelIntoSlice[T any](ch chan T) []T {
	out := make([]T, 0, len(ch))
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
