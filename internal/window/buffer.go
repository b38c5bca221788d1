// SPDX-License-Identifier: MIT
//
// Package window turns an arbitrarily chunked sample stream into fixed-size,
// overlapping analysis windows.
package window

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSize = errors.New("window: size must be positive")
	ErrInvalidHop  = errors.New("window: hop must be in [1, size]")
	ErrInvalidRate = errors.New("window: sample rate must be positive")
)

// SampleWindow is one analysis window. Samples is owned by the receiver.
type SampleWindow struct {
	Seq       uint64        // Monotonic window index starting at 0.
	Offset    int64         // Absolute stream index of Samples[0].
	Timestamp time.Duration // Stream time of Samples[0].
	Samples   []float64
}

// Buffer accumulates samples and emits a window of Size samples every Hop
// samples. It is not safe for concurrent use; the engine goroutine owns it.
type Buffer struct {
	size       int
	hop        int
	capacity   int
	sampleRate float64

	pending []float64 // pending[0] sits at absolute stream offset base
	base    int64
	seq     uint64
	dropped uint64
}

// New returns a Buffer emitting windows of size samples advanced by hop.
// Capacities smaller than size are raised to twice the window size.
func New(size, hop, capacity int, sampleRate float64) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if hop <= 0 || hop > size {
		return nil, fmt.Errorf("%w: got %d for size %d", ErrInvalidHop, hop, size)
	}
	if sampleRate <= 0 {
		return nil, ErrInvalidRate
	}
	if capacity < size {
		capacity = 2 * size
	}
	return &Buffer{
		size:       size,
		hop:        hop,
		capacity:   capacity,
		sampleRate: sampleRate,
		pending:    make([]float64, 0, capacity+size),
	}, nil
}

// Push appends a chunk of samples and returns the next ready window, if any.
// Call Next until it reports false to collect every window a large chunk made
// ready.
func (b *Buffer) Push(samples []float64) (SampleWindow, bool) {
	b.pending = append(b.pending, samples...)
	if over := len(b.pending) - b.capacity; over > 0 {
		// Drop the oldest samples; offsets keep counting so timestamps stay
		// anchored to capture time.
		b.discard(over)
		b.dropped += uint64(over)
	}
	return b.Next()
}

// Next returns a ready window without adding input.
func (b *Buffer) Next() (SampleWindow, bool) {
	if len(b.pending) < b.size {
		return SampleWindow{}, false
	}

	samples := make([]float64, b.size)
	copy(samples, b.pending[:b.size])
	w := SampleWindow{
		Seq:       b.seq,
		Offset:    b.base,
		Timestamp: b.offsetToDuration(b.base),
		Samples:   samples,
	}
	b.seq++
	b.discard(b.hop)
	return w, true
}

// Flush discards the incomplete tail and returns the number of samples
// thrown away. Partial windows are never emitted.
func (b *Buffer) Flush() int {
	n := len(b.pending)
	b.discard(n)
	return n
}

// Reset clears all state, including sequence numbers and counters.
func (b *Buffer) Reset() {
	b.pending = b.pending[:0]
	b.base = 0
	b.seq = 0
	b.dropped = 0
}

// Dropped returns the number of samples lost to overflow.
func (b *Buffer) Dropped() uint64 { return b.dropped }




func (b *Buffer) discard(n int) {
	if n > len(b.pending) {
		n = len(b.pending)
	}
	remaining := copy(b.pending, b.pending[n:])
	b.pending = b.pending[:remaining]
	b.base += int64(n)
}

func (b *Buffer) offsetToDuration(offset int64) time.Duration {
	return time.Duration(float64(offset) / b.sampleRate * float64(time.Second))
}

// Count returns how many windows a stream of n samples yields without
// overflow.
func Count(n, size, hop int) int {
	if n < size || size <= 0 || hop <= 0 {
		return 0
	}
	return (n-size)/hop + 1
}
