package bitwise

// chunkEnd returns min(cursor+slice, n) without overflowing.
// For cursor < n and slice >= 1 the result is always greater than cursor.
func chunkEnd(cursor, slice, n uint64) uint64 {
	if slice >= n-cursor {
		return n
	}
	return cursor + slice
}
