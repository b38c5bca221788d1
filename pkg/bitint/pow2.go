// SPDX-License-Identifier: MIT
/*
Package bitint provides the power-of-two helpers used to size FFT and
analysis buffers. Every function is allocation free and O(1), so they are
safe to call from the analysis hot path.

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved:

	size 8 -> 7 (0111) -> bits.Len = 3 -> 1<<3 = 8
	size 9 -> 8 (1000) -> bits.Len = 4 -> 1<<4 = 16

Usage:

	fftSize := bitint.NextPowerOfTwo(windowSize) // 1000 -> 1024
	ok := bitint.IsPowerOfTwo(fftSize)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Zero and
// negative sizes return 1.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. Powers of two
// have exactly one bit set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns the exponent of a power of two, or -1 when n is not one.
// Used to report FFT sizes as octaves in diagnostics.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
