// SPDX-License-Identifier: MIT
package onset

import (
	"fmt"
	"time"

	"beatzero/internal/config"
	"beatzero/internal/fft"
)

// Signal is the output of one detection function for one window.
type Signal struct {
	Method    Method
	Novelty   float64
	Threshold float64
	Fired     bool
}

// Decision is the ensemble verdict for one window. Methods and Confidence
// describe the agreement even when Onset is false.
type Decision struct {
	Onset      bool
	Confidence float64   // agreeing / total methods
	Methods    MethodSet // methods whose novelty exceeded their threshold
}

// Ensemble runs the configured detection functions and combines their
// votes. It is owned by the engine goroutine.
type Ensemble struct {
	detectors  []*detector
	thresholds []*threshold
	signals    []Signal

	quorum int
	warmUp int
	minIOI time.Duration

	windows   int
	lastOnset time.Duration
	hasOnset  bool
}

// NewEnsemble builds an ensemble for spectra with the given bin count.
func NewEnsemble(cfg config.OnsetConfig, bins int) (*Ensemble, error) {
	methods, err := ParseMethods(cfg.Methods)
	if err != nil {
		return nil, err
	}
	if cfg.ThresholdWindow < 2 {
		return nil, fmt.Errorf("onset threshold window must be at least 2, got %d", cfg.ThresholdWindow)
	}

	e := &Ensemble{
		detectors:  make([]*detector, len(methods)),
		thresholds: make([]*threshold, len(methods)),
		signals:    make([]Signal, len(methods)),
		quorum:     Quorum(cfg.Quorum, len(methods)),
		warmUp:     cfg.ThresholdWindow,
		minIOI:     cfg.MinIOI,
	}
	for i, m := range methods {
		e.detectors[i] = newDetector(m, bins)
		e.thresholds[i] = newThreshold(cfg.ThresholdWindow, cfg.ThresholdK)
	}
	return e, nil
}

// Quorum resolves a configured quorum for n methods: 0 selects a simple
// majority and the result is clamped to [1, n].
func Quorum(q, n int) int {
	if q <= 0 {
		q = n/2 + 1
	}
	return max(1, min(q, n))
}

// Process evaluates one window. Thresholds update on every window, silent
// or not. The returned signals are reused by the next call.
func (e *Ensemble) Process(spec *fft.Spectrum, ts time.Duration, silent bool) (Decision, []Signal) {
	var d Decision
	for i, det := range e.detectors {
		v := det.novelty(spec)
		level, fired := e.thresholds[i].observe(v)
		e.signals[i] = Signal{Method: det.method, Novelty: v, Threshold: level, Fired: fired}
		if fired {
			d.Methods = d.Methods.Add(det.method)
		}
	}
	e.windows++

	agreeing := d.Methods.Len()
	d.Confidence = float64(agreeing) / float64(len(e.detectors))

	switch {
	case e.windows <= e.warmUp:
		// Cold start: thresholds have not seen a full history yet.
	case silent:
	case agreeing < e.quorum:
	case e.hasOnset && ts-e.lastOnset < e.minIOI:
	default:
		d.Onset = true
		e.lastOnset = ts
		e.hasOnset = true
	}
	return d, e.signals
}

// Quorum returns the number of agreeing methods needed for an onset.
func (e *Ensemble) Quorum() int { return e.quorum }

// Methods returns the configured methods in order.
func (e *Ensemble) Methods() []Method {
	out := make([]Method, len(e.detectors))
	for i, d := range e.detectors {
		out[i] = d.method
	}
	return out
}

// Reset clears all detector memory and thresholds and restarts the warm-up.
func (e *Ensemble) Reset() {
	for i := range e.detectors {
		e.detectors[i].reset()
		e.thresholds[i].reset()
	}
	e.windows = 0
	e.hasOnset = false
	e.lastOnset = 0
}
