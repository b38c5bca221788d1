// SPDX-License-Identifier: MIT
package onset

import "gonum.org/v1/gonum/stat"

// threshold is the adaptive threshold of one detection function:
// mean + k*stddev over the last N novelty values.
type threshold struct {
	history []float64
	next    int
	filled  int
	k       float64
}

func newThreshold(n int, k float64) *threshold {
	return &threshold{history: make([]float64, n), k: k}
}

// level returns the threshold implied by the values seen so far.
func (t *threshold) level() float64 {
	switch t.filled {
	case 0:
		return 0
	case 1:
		return t.history[0]
	}
	mean, std := stat.MeanStdDev(t.history[:t.filled], nil)
	return mean + t.k*std
}

// observe compares v against the threshold of the previous values, then
// records it. It reports the threshold used and whether v exceeded it.
func (t *threshold) observe(v float64) (float64, bool) {
	level := t.level()
	t.history[t.next] = v
	t.next = (t.next + 1) % len(t.history)
	t.filled = min(t.filled+1, len(t.history))
	return level, v > level
}

func (t *threshold) reset() {
	clear(t.history)
	t.next, t.filled = 0, 0
}
