// SPDX-License-Identifier: MIT
package config

import "time"

// HopDuration returns the stream time between consecutive windows.
func (c *Config) HopDuration() time.Duration {
	return samplesToDuration(c.Analysis.HopSize, c.Audio.SampleRate)
}

// WindowDuration returns the stream time covered by one analysis window.
func (c *Config) WindowDuration() time.Duration {
	return samplesToDuration(c.Analysis.WindowSize, c.Audio.SampleRate)
}

// WindowsPerSecond returns the analysis frame rate.
func (c *Config) WindowsPerSecond() float64 {
	if c.Analysis.HopSize <= 0 {
		return 0
	}
	return c.Audio.SampleRate / float64(c.Analysis.HopSize)
}

// RecordingPath returns the WAV file used by the capture tap, generating a
// timestamped name when none is configured.
func (c *Config) RecordingPath(now time.Time) string {
	if c.Recording.OutputFile != "" {
		return c.Recording.OutputFile
	}
	name := "recording-" + now.UTC().Format("02-01-2006-150405") + ".wav"
	if c.Recording.OutputDir == "" {
		return name
	}
	return c.Recording.OutputDir + "/" + name
}

func samplesToDuration(samples int, sampleRate float64) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / sampleRate * float64(time.Second))
}
