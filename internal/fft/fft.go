// SPDX-License-Identifier: MIT
//
// Package fft computes windowed magnitude and phase spectra for analysis
// windows. A Processor reuses its buffers, so Compute does not allocate.
package fft

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"beatzero/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
	Rectangular
)

var ErrInvalidSampleRate = errors.New("fft: sample rate must be positive")

// Spectrum is the one-sided spectrum of a window, N/2+1 bins. It aliases the
// Processor's buffers and is only valid until the next Compute call.
type Spectrum struct {
	Magnitude []float64
	Phase     []float64
	BinHz     float64 // Frequency resolution, sampleRate / fftSize.
	Size      int     // FFT size in points.
}

// Frequency returns the center frequency (Hz) of bin i.
func (s *Spectrum) Frequency(i int) float64 {
	if i < 0 || i >= len(s.Magnitude) {
		return 0
	}
	return float64(i) * s.BinHz
}

// Bin returns the bin whose center frequency is closest to hz.
func (s *Spectrum) Bin(hz float64) int {
	if s.BinHz <= 0 {
		return 0
	}
	i := int(math.Round(hz / s.BinHz))
	return max(0, min(i, len(s.Magnitude)-1))
}

// FFTWorkspace holds pre-allocated buffers for FFT calculations.
type FFTWorkspace struct {
	input     []float64    // ...for real input samples (windowed)
	fftOutput []complex128 // ...for FFT complex output
	window    []float64    // ...for window function coefficients
	spectrum  Spectrum     // ...magnitude and phase views handed to callers
}

// Processor holds the FFT state and configuration.
type Processor struct {
	fftSize    int
	sampleRate float64
	windowType WindowFunc
	workspace  FFTWorkspace
	fftObj     *fourier.FFT
}

// NewProcessor creates a new FFT processor. Size is rounded up to the next
// power of two; shorter input windows are zero padded. All buffers and the
// window coefficients are allocated here.
func NewProcessor(size int, sampleRate float64, windowType WindowFunc) (*Processor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("fft: size must be positive, got %d", size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", ErrInvalidSampleRate, sampleRate)
	}
	fftSize := bitint.NextPowerOfTwo(size)

	coeffs := make([]float64, size)
	applyWindow(coeffs, windowType)

	// FFT output size for real input is N/2 + 1 complex values.
	outputSize := fftSize/2 + 1

	return &Processor{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		windowType: windowType,
		fftObj:     fourier.NewFFT(fftSize),
		workspace: FFTWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, outputSize),
			window:    coeffs,
			spectrum: Spectrum{
				Magnitude: make([]float64, outputSize),
				Phase:     make([]float64, outputSize),
				BinHz:     sampleRate / float64(fftSize),
				Size:      fftSize,
			},
		},
	}, nil
}

// Compute applies the window, performs the FFT and returns the magnitude and
// phase spectrum. The window spans the configured input size; the rest of
// the FFT frame is zero padded.
func (p *Processor) Compute(samples []float64) *Spectrum {
	ws := &p.workspace
	n := min(len(samples), len(ws.window))
	for i := range n {
		ws.input[i] = samples[i] * ws.window[i]
	}
	clear(ws.input[n:]) // zero padding

	_ = p.fftObj.Coefficients(ws.fftOutput, ws.input)
	for i, c := range ws.fftOutput {
		m := cmplx.Abs(c)
		ws.spectrum.Magnitude[i] = m
		if m == 0 {
			// Signed zeros would otherwise report a phase of pi.
			ws.spectrum.Phase[i] = 0
			continue
		}
		ws.spectrum.Phase[i] = cmplx.Phase(c)
	}
	return &ws.spectrum
}

// Size returns the FFT size (number of points).
func (p *Processor) Size() int { return p.fftSize }

// Bins returns the number of bins in each Spectrum.
func (p *Processor) Bins() int { return p.fftSize/2 + 1 }

// SampleRate returns the configured sample rate (Hz).
func (p *Processor) SampleRate() float64 { return p.sampleRate }

// GetFrequencyBin returns the frequency in Hz for a given FFT bin index.
func (p *Processor) GetFrequencyBin(i int) float64 {
	return p.workspace.spectrum.Frequency(i)
}

// String describes the processor for log lines.
func (p *Processor) String() string {
	return fmt.Sprintf("FFT(size=%d, rate=%.0fHz, window=%s)", p.fftSize, p.sampleRate, p.windowType)
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	case "rectangular", "none":
		return Rectangular, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	case Rectangular:
		return "rectangular"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// applyWindow fills coeffs with the selected window function. Unknown types
// fall back to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// The gonum window functions scale the slice in place, so start from 1.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	case Rectangular:
	default:
		window.Hann(coeffs)
	}
}
