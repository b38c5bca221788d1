// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// MinDB is reported for digital silence instead of -Inf.
const MinDB = -120.0

// MaxNoiseFloorDB caps a calibrated gate. Anything louder measured at start
// is taken to be signal, not noise.
const MaxNoiseFloorDB = -30.0

// RMS returns the root mean square of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquare float64
	for _, s := range samples {
		sumSquare += s * s
	}
	return math.Sqrt(sumSquare / float64(len(samples)))
}

// ToDB converts a linear amplitude to dBFS, clamped at MinDB.
func ToDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return MinDB
	}
	return max(MinDB, 20*math.Log10(amplitude))
}

// LevelDB returns the RMS level of samples in dBFS.
func LevelDB(samples []float64) float64 {
	return ToDB(RMS(samples))
}

// Gate is a level gate: windows quieter than the threshold are silent.
type Gate struct {
	enabled     bool
	thresholdDB float64
}

// NewGate returns an enabled gate at thresholdDB.
func NewGate(thresholdDB float64) *Gate {
	return &Gate{enabled: true, thresholdDB: thresholdDB}
}

func (g *Gate) Enable()  { g.enabled = true }
func (g *Gate) Disable() { g.enabled = false }

// Enabled reports whether the gate is active. A disabled gate is always open.
func (g *Gate) Enabled() bool { return g.enabled }

// SetThreshold adjusts the gate threshold in dBFS, clamped to [MinDB, 0].
func (g *Gate) SetThreshold(db float64) {
	g.thresholdDB = min(0, max(MinDB, db))
}

// Threshold returns the current threshold in dBFS.
func (g *Gate) Threshold() float64 { return g.thresholdDB }

// Open reports whether a window at levelDB passes the gate.
func (g *Gate) Open(levelDB float64) bool {
	return !g.enabled || levelDB > g.thresholdDB
}

// Calibrator estimates the noise floor from the first windows of a stream
// and moves the gate threshold just above it.
type Calibrator struct {
	samples []float64
	target  int
	done    bool
}

// NewCalibrator collects n window levels before calibrating.
func NewCalibrator(n int) *Calibrator {
	return &Calibrator{samples: make([]float64, 0, n), target: n, done: n <= 0}
}

// Observe records the RMS of one window. Once enough windows were seen it
// raises the gate threshold to twice the 25th percentile level, at most
// MaxNoiseFloorDB, and reports true. The gate is never lowered. Later
// calls are no-ops.
func (c *Calibrator) Observe(rms float64, gate *Gate) bool {
	if c.done {
		return false
	}
	c.samples = append(c.samples, rms)
	if len(c.samples) < c.target {
		return false
	}

	slices.Sort(c.samples)
	floor := stat.Quantile(0.25, stat.Empirical, c.samples, nil)
	gate.SetThreshold(max(gate.Threshold(), min(ToDB(floor*2), MaxNoiseFloorDB)))

	c.samples = nil
	c.done = true
	return true
}

// Done reports whether calibration finished.
func (c *Calibrator) Done() bool { return c.done }
