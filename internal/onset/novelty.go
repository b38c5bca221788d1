// SPDX-License-Identifier: MIT
package onset

import (
	"math"

	"beatzero/internal/fft"
)

// klEpsilon keeps the Kullback-Liebler ratios finite on empty bins.
const klEpsilon = 1e-6

// detector holds the spectral memory of one detection function. Nothing is
// shared between detectors.
type detector struct {
	method Method

	prevMag    []float64
	prevPhase  []float64 // phase at t-1
	prevPhase2 []float64 // phase at t-2
	prevValue  float64   // energy or hfc at t-1
}

func newDetector(m Method, bins int) *detector {
	return &detector{
		method:     m,
		prevMag:    make([]float64, bins),
		prevPhase:  make([]float64, bins),
		prevPhase2: make([]float64, bins),
	}
}

// novelty returns the detection function value for spec and updates the
// detector's memory.
func (d *detector) novelty(spec *fft.Spectrum) float64 {
	mag, phase := spec.Magnitude, spec.Phase
	n := min(len(mag), len(d.prevMag))

	var v float64
	switch d.method {
	case Energy:
		var e float64
		for _, m := range mag[:n] {
			e += m * m
		}
		v = max(0, e-d.prevValue)
		d.prevValue = e

	case HFC:
		var h float64
		for k, m := range mag[:n] {
			h += float64(k) * m
		}
		v = max(0, h-d.prevValue)
		d.prevValue = h

	case Complex:
		for k := range n {
			target := 2*d.prevPhase[k] - d.prevPhase2[k]
			// |X - X̂| with X̂ = prevMag * e^(j*target)
			dist := mag[k]*mag[k] + d.prevMag[k]*d.prevMag[k] -
				2*mag[k]*d.prevMag[k]*math.Cos(phase[k]-target)
			v += math.Sqrt(max(0, dist))
		}

	case Phase:
		for k := range n {
			v += math.Abs(princarg(phase[k] - 2*d.prevPhase[k] + d.prevPhase2[k]))
		}
		v /= float64(n)

	case WPhase:
		for k := range n {
			v += mag[k] * math.Abs(princarg(phase[k]-2*d.prevPhase[k]+d.prevPhase2[k]))
		}
		v /= float64(n)

	case SpecFlux:
		for k := range n {
			v += max(0, mag[k]-d.prevMag[k])
		}

	case KL:
		for k := range n {
			v += mag[k] * math.Log(1+mag[k]/(d.prevMag[k]+klEpsilon))
		}

	case MKL:
		for k := range n {
			v += math.Log(1 + mag[k]/(d.prevMag[k]+klEpsilon))
		}
	}

	copy(d.prevPhase2, d.prevPhase)
	copy(d.prevPhase, phase[:n])
	copy(d.prevMag, mag[:n])

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (d *detector) reset() {
	clear(d.prevMag)
	clear(d.prevPhase)
	clear(d.prevPhase2)
	d.prevValue = 0
}

// princarg maps a phase to (-pi, pi].
func princarg(phase float64) float64 {
	return phase - 2*math.Pi*math.Round(phase/(2*math.Pi))
}
