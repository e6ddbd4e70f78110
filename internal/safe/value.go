package safe

import (
	"math"
	"math/bits"
)

// Uint64ToInt64 safely converts an uint64 value to int64, clamping to math.MaxInt64 if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Uint64ToInt safely converts an uint64 value to int, clamping to math.MaxInt if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	return int(val), false
}

// AddrRange returns the exclusive end of [addr, addr+length).
// ok is false when the range wraps past the top of the address space.
func AddrRange(addr, length uint64) (end uint64, ok bool) {
	end, carry := bits.Add64(addr, length, 0)
	return end, carry == 0
}

// Offset returns base + index*stride for a possibly negative index.
// ok is false when the product or the final address leaves the 64-bit
// address space.
func Offset(base uint64, index int64, stride uint64) (uint64, bool) {
	mag := uint64(index)
	if index < 0 {
		mag = -uint64(index)
	}
	hi, lo := bits.Mul64(mag, stride)
	if hi != 0 {
		return 0, false
	}
	if index < 0 {
		addr, borrow := bits.Sub64(base, lo, 0)
		return addr, borrow == 0
	}
	addr, carry := bits.Add64(base, lo, 0)
	return addr, carry == 0
}
