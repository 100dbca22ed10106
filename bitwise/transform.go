package bitwise

// ByteFunc is a pure per-byte transform parameterized by one byte.
type ByteFunc func(b, param byte) byte

// XOR is the default transform.
func XOR(b, param byte) byte {
	return b ^ param
}

// apply writes f(src[i], param) into dst[i] for i in [lo, hi).
func (e *Engine) apply(dst, src []byte, param byte, lo, hi uint64) {
	in, out := src[lo:hi], dst[lo:hi]
	for i, b := range in {
		out[i] = e.transform(b, param)
	}
	if e.chunkHook != nil {
		e.chunkHook(lo, hi)
	}
}
