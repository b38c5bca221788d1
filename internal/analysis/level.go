// SPDX-License-Identifier: MIT
package analysis

const (
	// LevelHistory is the number of windows the level is normalized over.
	LevelHistory = 100
	// LevelFloor is the RMS below which the level reads as zero.
	LevelFloor = 0.01
)

// Leveler normalizes window RMS against the loudest of the recent windows,
// never against less than LevelFloor.
type Leveler struct {
	history []float64
	next    int
	filled  int
}

// NewLeveler returns a Leveler with the default history.
func NewLeveler() *Leveler {
	return &Leveler{history: make([]float64, LevelHistory)}
}

// Level records rms and returns it normalized to [0, 1].
func (l *Leveler) Level(rms float64) float64 {
	l.history[l.next] = rms
	l.next = (l.next + 1) % len(l.history)
	l.filled = min(l.filled+1, len(l.history))

	if rms < LevelFloor {
		return 0
	}
	peak := LevelFloor
	for _, h := range l.history[:l.filled] {
		peak = max(peak, h)
	}
	return clamp01(rms / peak)
}

// Reset clears the history.
func (l *Leveler) Reset() {
	clear(l.history)
	l.next, l.filled = 0, 0
}
