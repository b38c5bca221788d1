// SPDX-License-Identifier: MIT
//
// Package analysis extracts per-window features: the windowed spectrum, a
// level gate, normalized band energies and a pitch estimate.
package analysis

import (
	"fmt"
	"math"

	"beatzero/internal/config"
	"beatzero/internal/fft"
	applog "beatzero/internal/log"
)

// Features are the measurements taken from one analysis window. Spectrum
// aliases the Extractor's buffers and is valid until the next Extract.
type Features struct {
	Spectrum *fft.Spectrum
	Bands    BandEnergy
	Pitch    Pitch
	RMS      float64
	LevelDB  float64
	Level    float64 // RMS normalized to [0, 1] against recent windows.
	Silent   bool    // The gate was closed.
}

// Extractor runs the feature extractors for one window at a time. It is
// owned by the engine goroutine.
type Extractor struct {
	fft        *fft.Processor
	gate       *Gate
	calibrator *Calibrator
	bands      *BandAnalyzer
	pitch      *PitchDetector
	leveler    *Leveler
	logger     *applog.Logger
}

// NewExtractor builds the spectrum, gate, band and pitch stages from cfg.
func NewExtractor(cfg *config.Config) (*Extractor, error) {
	windowType, err := fft.ParseWindowFunc(cfg.Analysis.FFTWindow)
	if err != nil {
		return nil, err
	}
	proc, err := fft.NewProcessor(cfg.Analysis.WindowSize, cfg.Audio.SampleRate, windowType)
	if err != nil {
		return nil, fmt.Errorf("failed to create FFT processor: %w", err)
	}
	bands, err := NewBandAnalyzer(cfg.Analysis.Bands, proc, cfg.Analysis.BandHistory)
	if err != nil {
		return nil, err
	}

	logger := applog.New("Analysis")
	logger.Infof("Initializing extractor (%s, %d bands, gate %.1f dBFS)", proc, len(cfg.Analysis.Bands), cfg.Analysis.SilenceDB)

	return &Extractor{
		fft:        proc,
		gate:       NewGate(cfg.Analysis.SilenceDB),
		calibrator: NewCalibrator(cfg.Analysis.CalibrationWindows),
		bands:      bands,
		pitch:      NewPitchDetector(cfg.Pitch, cfg.Analysis.WindowSize, cfg.Audio.SampleRate),
		leveler:    NewLeveler(),
		logger:     logger,
	}, nil
}

// Extract measures one window. Callers reject malformed windows with Valid
// first.
func (e *Extractor) Extract(samples []float64) Features {
	rms := RMS(samples)
	if e.calibrator.Observe(rms, e.gate) {
		e.logger.Infof("Calibrated silence gate to %.1f dBFS", e.gate.Threshold())
	}

	f := Features{
		Spectrum: e.fft.Compute(samples),
		RMS:      rms,
		LevelDB:  ToDB(rms),
		Level:    e.leveler.Level(rms),
	}
	f.Silent = !e.gate.Open(f.LevelDB)
	if f.Silent {
		f.Bands = e.bands.Silence()
		return f
	}
	f.Bands = e.bands.Analyze(f.Spectrum)
	f.Pitch = e.pitch.Detect(samples)
	return f
}

// Gate exposes the silence gate for runtime adjustment.
func (e *Extractor) Gate() *Gate { return e.gate }

// Bins returns the number of spectrum bins per window.
func (e *Extractor) Bins() int { return e.fft.Bins() }

// BandNames returns the configured band names in order.
func (e *Extractor) BandNames() []string { return e.bands.Names() }

// Reset clears rolling state.
func (e *Extractor) Reset() {
	e.bands.Reset()
	e.leveler.Reset()
}

// Valid reports whether every sample is finite.
func Valid(samples []float64) bool {
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}
