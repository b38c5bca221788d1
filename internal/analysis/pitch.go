// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"

	"beatzero/internal/config"
)

// Pitch is the fundamental frequency estimate of a window. A Pitch that is
// not Valid means "none".
type Pitch struct {
	Hz         float64
	Confidence float64
	Note       string // Scientific pitch notation, e.g. "A4"; empty when none.
	Valid      bool
}

func (p Pitch) String() string {
	if !p.Valid {
		return "none"
	}
	return fmt.Sprintf("%.1fHz %s (%.2f)", p.Hz, p.Note, p.Confidence)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// MIDINote returns the nearest MIDI note number for hz, A4 = 440 Hz = 69.
// Returns false outside MIDI 0-127.
func MIDINote(hz float64) (int, bool) {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return 0, false
	}
	n := int(math.Round(69 + 12*math.Log2(hz/440)))
	if n < 0 || n > 127 {
		return 0, false
	}
	return n, true
}

// NoteName returns the note name for hz, or "" when it has none.
func NoteName(hz float64) string {
	n, ok := MIDINote(hz)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s%d", noteNames[n%12], n/12-1)
}

// PitchDetector estimates the fundamental with the YIN algorithm:
// difference function, cumulative mean normalization, absolute threshold
// and parabolic interpolation.
type PitchDetector struct {
	cfg        config.PitchConfig
	sampleRate float64
	size       int
	diff       []float64 // difference / normalized difference per lag
}

// NewPitchDetector returns a detector for windows of size samples.
func NewPitchDetector(cfg config.PitchConfig, windowSize int, sampleRate float64) *PitchDetector {
	return &PitchDetector{
		cfg:        cfg,
		sampleRate: sampleRate,
		size:       windowSize,
		diff:       make([]float64, windowSize/2+1),
	}
}

// Detect returns the pitch of samples, or a Pitch with Valid false when the
// window is too quiet, too aperiodic or outside the configured range.
func (d *PitchDetector) Detect(samples []float64) Pitch {
	if !d.cfg.Enabled || len(samples) < 4 {
		return Pitch{}
	}
	if LevelDB(samples) < d.cfg.SilenceDB {
		return Pitch{}
	}

	half := min(len(samples)/2, len(d.diff)-1)
	minTau := max(2, int(d.sampleRate/d.cfg.MaxHz))
	maxTau := min(half, int(d.sampleRate/d.cfg.MinHz)+1)
	if minTau >= maxTau {
		return Pitch{}
	}

	// Difference function.
	yin := d.diff[:maxTau+1]
	yin[0] = 1
	for tau := 1; tau <= maxTau; tau++ {
		var sum float64
		for j := range half {
			delta := samples[j] - samples[j+tau]
			sum += delta * delta
		}
		yin[tau] = sum
	}

	// Cumulative mean normalized difference.
	var running float64
	for tau := 1; tau <= maxTau; tau++ {
		running += yin[tau]
		if running == 0 {
			yin[tau] = 1
			continue
		}
		yin[tau] *= float64(tau) / running
	}

	// First dip under the tolerance, followed down to its local minimum.
	tau := -1
	for t := minTau; t < maxTau; t++ {
		if yin[t] < d.cfg.Tolerance {
			for t+1 < maxTau && yin[t+1] < yin[t] {
				t++
			}
			tau = t
			break
		}
	}
	if tau < 0 {
		// No dip: fall back to the global minimum and let the confidence
		// threshold decide.
		tau = minTau
		for t := minTau + 1; t < maxTau; t++ {
			if yin[t] < yin[tau] {
				tau = t
			}
		}
	}

	confidence := clamp01(1 - yin[tau])
	if confidence < d.cfg.MinConfidence {
		return Pitch{}
	}

	hz := d.sampleRate / parabolic(yin, tau)
	if hz < d.cfg.MinHz || hz > d.cfg.MaxHz || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return Pitch{}
	}
	return Pitch{Hz: hz, Confidence: confidence, Note: NoteName(hz), Valid: true}
}

// parabolic refines the lag around tau by fitting a parabola through its
// neighbours.
func parabolic(y []float64, tau int) float64 {
	if tau < 1 || tau+1 >= len(y) {
		return float64(tau)
	}
	s0, s1, s2 := y[tau-1], y[tau], y[tau+1]
	denom := 2 * (2*s1 - s2 - s0)
	if denom == 0 {
		return float64(tau)
	}
	shift := (s2 - s0) / denom
	if math.Abs(shift) > 1 {
		return float64(tau)
	}
	return float64(tau) + shift
}
