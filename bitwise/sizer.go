package bitwise

// AdjustSliceSize returns the slice budget for the next episode, given the
// bytes processed by the episode that just ran out of quantum and the
// percent of quantum it consumed in total (which may exceed 100).
//
//   - consumed <= 100: the achieved size fit, keep it.
//   - 100 < consumed < 200: drop the overshoot share, processed - processed*(consumed-100)/100.
//   - consumed >= 200: divide by the number of whole quanta used.
//
// The result is at least 1 and at least min(floor, processed), so it never
// grows past what the episode achieved once the quantum overran.
func AdjustSliceSize(processed, consumed, floor uint64) uint64 {
	var next uint64
	switch m := consumed / 100; {
	case consumed <= 100:
		next = processed
	case m == 1:
		next = processed - processed*(consumed-100)/100
	default:
		next = processed / m
	}
	return max(next, min(floor, processed), 1)
}
