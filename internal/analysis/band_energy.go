// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"

	"beatzero/internal/config"
	"beatzero/internal/fft"
)

// bandFloor is the smallest normalization reference, about -80 dBFS, so
// near-silent input does not get scaled up to full range.
const bandFloor = 1e-4

// BandEnergy is an ordered, read-only set of normalized band energies. The
// zero value is an empty set. Copies share storage; nothing mutates it
// after construction.
type BandEnergy struct {
	names  []string
	values []float64
}

// NewBandEnergy copies names and values into a BandEnergy. Values are
// clamped to [0, 1] and non-finite values become 0.
func NewBandEnergy(names []string, values []float64) (BandEnergy, error) {
	if len(names) != len(values) {
		return BandEnergy{}, fmt.Errorf("band energy: %d names for %d values", len(names), len(values))
	}
	v := make([]float64, len(values))
	for i, x := range values {
		v[i] = clamp01(x)
	}
	return BandEnergy{names: append([]string(nil), names...), values: v}, nil
}

// Len returns the number of bands.
func (b BandEnergy) Len() int { return len(b.values) }

// At returns the name and value of band i.
func (b BandEnergy) At(i int) (string, float64) {
	return b.names[i], b.values[i]
}

// Get returns the value of the named band.
func (b BandEnergy) Get(name string) (float64, bool) {
	for i, n := range b.names {
		if n == name {
			return b.values[i], true
		}
	}
	return 0, false
}

// Names returns a copy of the band names in order.
func (b BandEnergy) Names() []string {
	return append([]string(nil), b.names...)
}

// Values returns a copy of the values in band order.
func (b BandEnergy) Values() []float64 {
	return append([]float64(nil), b.values...)
}

// Max returns the name and value of the strongest band.
func (b BandEnergy) Max() (string, float64) {
	best := -1
	for i, v := range b.values {
		if best < 0 || v > b.values[best] {
			best = i
		}
	}
	if best < 0 {
		return "", 0
	}
	return b.names[best], b.values[best]
}

type bandRange struct {
	lowBin, highBin int // [lowBin, highBin)
}

// BandAnalyzer computes per-band energies from a spectrum, normalized
// against a rolling maximum of the loudest band.
type BandAnalyzer struct {
	bands  []config.BandConfig
	names  []string
	ranges []bandRange
	binHz  float64
	scale  float64 // magnitude to amplitude

	history []float64 // ring of the loudest raw band value per window
	next    int
	filled  int
	raw     []float64
}

// NewBandAnalyzer prepares the bin ranges for the given bands. The spectrum
// layout (bins and resolution) is fixed by the FFT processor.
func NewBandAnalyzer(bands []config.BandConfig, proc *fft.Processor, history int) (*BandAnalyzer, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("band analyzer: no bands configured")
	}
	if history <= 0 {
		history = config.DefaultBandHistory
	}

	binHz := proc.SampleRate() / float64(proc.Size())
	nyquistBin := proc.Bins()
	a := &BandAnalyzer{
		bands:   bands,
		names:   make([]string, len(bands)),
		ranges:  make([]bandRange, len(bands)),
		binHz:   binHz,
		scale:   2 / float64(proc.Size()),
		history: make([]float64, history),
		raw:     make([]float64, len(bands)),
	}
	for i, b := range bands {
		a.names[i] = b.Name
		// Bins whose center frequency lies in [LowHz, HighHz).
		lo := int(math.Ceil(b.LowHz / binHz))
		hi := int(math.Ceil(b.HighHz / binHz))
		a.ranges[i] = bandRange{
			lowBin:  min(max(lo, 0), nyquistBin),
			highBin: min(max(hi, 0), nyquistBin),
		}
	}
	return a, nil
}

// Names returns the configured band names in order.
func (a *BandAnalyzer) Names() []string { return a.names }

// Analyze returns the normalized energies for one spectrum.
func (a *BandAnalyzer) Analyze(spec *fft.Spectrum) BandEnergy {
	loudest := 0.0
	for i, r := range a.ranges {
		var sum float64
		n := 0
		for k := r.lowBin; k < r.highBin && k < len(spec.Magnitude); k++ {
			m := spec.Magnitude[k] * a.scale
			sum += m * m
			n++
		}
		a.raw[i] = 0
		if n > 0 {
			a.raw[i] = math.Sqrt(sum / float64(n))
		}
		loudest = max(loudest, a.raw[i])
	}

	ref := max(a.push(loudest), bandFloor)
	values := make([]float64, len(a.raw))
	if loudest >= bandFloor {
		for i, v := range a.raw {
			values[i] = clamp01(v / ref)
		}
	}
	return BandEnergy{names: a.names, values: values}
}

// Silence returns all-zero energies and records a silent window in the
// rolling maximum.
func (a *BandAnalyzer) Silence() BandEnergy {
	a.push(0)
	return BandEnergy{names: a.names, values: make([]float64, len(a.names))}
}

// Reset clears the rolling maximum.
func (a *BandAnalyzer) Reset() {
	clear(a.history)
	a.next, a.filled = 0, 0
}

// push records v and returns the maximum over the retained history.
func (a *BandAnalyzer) push(v float64) float64 {
	a.history[a.next] = v
	a.next = (a.next + 1) % len(a.history)
	a.filled = min(a.filled+1, len(a.history))

	peak := 0.0
	for _, h := range a.history[:a.filled] {
		peak = max(peak, h)
	}
	return peak
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return min(v, 1)
}
