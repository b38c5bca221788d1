// SPDX-License-Identifier: MIT
package tempo

import (
	"math"
	"testing"
	"time"

	"beatzero/internal/config"
)

func beats(start time.Duration, bpm float64, n int) []time.Duration {
	period := time.Duration(60 / bpm * float64(time.Second))
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = start + time.Duration(i)*period
	}
	return out
}

func TestConvergesAt120(t *testing.T) {
	tr := NewTracker(config.Default().Tempo)
	var s State
	for _, ts := range beats(0, 120, 17) {
		s = tr.OnOnset(ts)
	}
	if math.Abs(s.BPM-120) > 0.5 {
		t.Errorf("BPM = %.2f; want 120", s.BPM)
	}
	if s.Confidence < 0.99 {
		t.Errorf("confidence = %.2f; want 1", s.Confidence)
	}
	if s.Onsets != 17 {
		t.Errorf("retained %d onsets; want 17", s.Onsets)
	}
}

func TestConfidenceGrowsWithEvidence(t *testing.T) {
	tr := NewTracker(config.Default().Tempo)
	onsets := beats(0, 100, 6)
	want := []float64{0, 0.25, 0.5, 0.75, 1, 1}
	for i, ts := range onsets {
		if got := tr.OnOnset(ts).Confidence; math.Abs(got-want[i]) > 1e-9 {
			t.Errorf("after %d onsets confidence = %v; want %v", i+1, got, want[i])
		}
	}
}

func TestOutlierRejection(t *testing.T) {
	tr := NewTracker(config.Default().Tempo)
	onsets := beats(0, 120, 12)
	// An extra onset 200ms after the sixth beat.
	onsets = append(onsets[:6], append([]time.Duration{onsets[5] + 200*time.Millisecond}, onsets[6:]...)...)

	var s State
	for _, ts := range onsets {
		s = tr.OnOnset(ts)
	}
	if math.Abs(s.BPM-120) > 1 {
		t.Errorf("BPM = %.2f; want 120 despite the outlier", s.BPM)
	}
	if s.Confidence >= 1 || s.Confidence < 0.7 {
		t.Errorf("confidence = %.2f; want reduced but high", s.Confidence)
	}
}

func TestImplausibleIntervalsIgnored(t *testing.T) {
	tr := NewTracker(config.Default().Tempo)
	// 20ms apart is 3000 BPM, far above MaxBPM.
	var s State
	for i := range 5 {
		s = tr.OnOnset(time.Duration(i) * 20 * time.Millisecond)
	}
	if s.BPM != 0 || s.Confidence != 0 {
		t.Errorf("implausible onsets produced %+v", s)
	}
}

func TestRetentionEvictsOldOnsets(t *testing.T) {
	cfg := config.Default().Tempo
	tr := NewTracker(cfg)
	for _, ts := range beats(0, 60, 8) {
		tr.OnOnset(ts)
	}
	s := tr.OnOnset(20 * time.Second)
	// Everything older than 8s before the newest onset is gone.
	if s.Onsets != 1 {
		t.Errorf("retained %d onsets; want 1", s.Onsets)
	}
	if s.BPM != 60 {
		t.Errorf("BPM should be kept after eviction, got %.2f", s.BPM)
	}
}

func TestRingCapacity(t *testing.T) {
	cfg := config.Default().Tempo
	cfg.MaxOnsets = 4
	tr := NewTracker(cfg)
	var s State
	for _, ts := range beats(0, 120, 10) {
		s = tr.OnOnset(ts)
	}
	if s.Onsets != 4 {
		t.Errorf("retained %d; want ring size 4", s.Onsets)
	}
}

func TestTempoChangeReplacesEstimate(t *testing.T) {
	tr := NewTracker(config.Default().Tempo)
	onsets := beats(0, 90, 10)
	for _, ts := range onsets {
		tr.OnOnset(ts)
	}
	var s State
	for _, ts := range beats(onsets[len(onsets)-1]+time.Second/3, 180, 30) {
		s = tr.OnOnset(ts)
	}
	if math.Abs(s.BPM-180) > 1 {
		t.Errorf("BPM = %.2f; want 180 after the change", s.BPM)
	}
}

func TestConfidenceDecay(t *testing.T) {
	tr := NewTracker(config.Default().Tempo)
	onsets := beats(0, 120, 9)
	for _, ts := range onsets {
		tr.OnOnset(ts)
	}
	last := onsets[len(onsets)-1]

	if s := tr.Advance(last + 2*time.Second); s.Confidence != 1 {
		t.Errorf("confidence before timeout = %v; want 1", s.Confidence)
	}
	s := tr.Advance(last + 4*time.Second)
	if math.Abs(s.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence one half-life after timeout = %v; want 0.5", s.Confidence)
	}
	if math.Abs(s.BPM-120) > 0.5 {
		t.Errorf("BPM not retained during decay: %.2f", s.BPM)
	}
	if s.UpdatedAt != last+4*time.Second {
		t.Errorf("UpdatedAt = %v", s.UpdatedAt)
	}

	tr.Reset()
	if s := tr.State(); s != (State{}) {
		t.Errorf("state after Reset = %+v", s)
	}
}

func BenchmarkOnOnset(b *testing.B) {
	tr := NewTracker(config.Default().Tempo)
	var ts time.Duration
	b.ReportAllocs()
	for b.Loop() {
		tr.OnOnset(ts)
		ts += 500 * time.Millisecond
	}
}
