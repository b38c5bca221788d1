// SPDX-License-Identifier: MIT
//
// Package utils holds deterministic test signal generators shared by the
// analysis, tempo and engine tests. All generators return normalized
// amplitudes in [-1, 1].
package utils

import (
	"math"
	"math/rand/v2"
)

// GenerateComplexWave returns a 440Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = signal * 0.9
	}
	return buffer
}

// GenerateSineWave returns size samples of a sine at frequency Hz.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = math.Sin(2*math.Pi*frequency*t) * amplitude
	}
	return buffer
}

// GenerateSilence returns size zero samples.
func GenerateSilence(size int) []float64 {
	return make([]float64, size)
}

// ClickLength is the length in samples of a single click written by
// GenerateClickTrack.
const ClickLength = 256

// GenerateClickTrack returns duration seconds of silence with a short
// decaying 1kHz burst every 60/bpm seconds, starting at sample 0. The
// second return value holds the sample offset of every click.
func GenerateClickTrack(sampleRate, seconds, bpm float64) ([]float64, []int) {
	total := int(sampleRate * seconds)
	buffer := make([]float64, total)
	period := 60.0 / bpm * sampleRate

	var clicks []int
	for n := 0; ; n++ {
		start := int(math.Round(float64(n) * period))
		if start >= total {
			break
		}
		clicks = append(clicks, start)
		for i := 0; i < ClickLength && start+i < total; i++ {
			env := math.Exp(-float64(i) / (ClickLength / 4))
			buffer[start+i] = 0.8 * env * math.Sin(2*math.Pi*1000*float64(i)/sampleRate)
		}
	}
	return buffer, clicks
}

// AddNoise adds Gaussian noise with the given RMS amplitude to samples in
// place. The same seed always produces the same noise.
func AddNoise(samples []float64, amplitude float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range samples {
		samples[i] += amplitude * rng.NormFloat64()
	}
}

// ToFloat32 converts samples into the float32 layout delivered by capture
// devices.
func ToFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v)
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin], clamping the range to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
