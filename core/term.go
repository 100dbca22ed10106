package core

import "math"

// Term is a host value passed to or returned from a native function.
//
// The host understands []byte (binary), the Go integer kinds, ResourceID
// and Tuple. Native functions read their arguments through the Get*
// accessors, which report false instead of panicking on a mismatch.
type Term = any

// Tuple is a fixed-size group of terms, used for multi-value results.
type Tuple []Term

// GetBinary returns the bytes of a binary term.
func GetBinary(t Term) ([]byte, bool) {
	b, ok := t.([]byte)
	return b, ok
}

// GetUint64 returns a non-negative integer term as uint64.
func GetUint64(t Term) (uint64, bool) {
	switch v := t.(type) {
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int, int8, int16, int32, int64:
		n, _ := GetInt64(v)
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// GetUint returns a non-negative integer term that fits in uint32, matching
// the range of the host's unsigned int.
func GetUint(t Term) (uint, bool) {
	v, ok := GetUint64(t)
	if !ok || v > math.MaxUint32 {
		return 0, false
	}
	return uint(v), true
}

// GetInt64 returns an integer term that fits in int64.
func GetInt64(t Term) (int64, bool) {
	switch v := t.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint, uint8, uint16, uint32, uint64:
		u, _ := GetUint64(v)
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}

// GetInt returns an integer term that fits in int32, matching the range of
// the host's int.
func GetInt(t Term) (int, bool) {
	v, ok := GetInt64(t)
	if !ok || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// GetResource returns the token held by a resource term.
func GetResource(t Term) (ResourceID, bool) {
	id, ok := t.(ResourceID)
	if !ok || id.IsZero() {
		return ResourceID{}, false
	}
	return id, true
}
