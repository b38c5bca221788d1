// SPDX-License-Identifier: MIT
package onset

import (
	"math"
	"testing"
	"time"

	"beatzero/internal/config"
	"beatzero/internal/fft"
	"beatzero/pkg/utils"
)

const (
	testWindow     = 1024
	testSampleRate = 44100
	hop            = 512 * time.Second / testSampleRate
)

type testSignals struct {
	proc    *fft.Processor
	silence []float64
	click   []float64
}

func newTestSignals(t testing.TB) *testSignals {
	t.Helper()
	proc, err := fft.NewProcessor(testWindow, testSampleRate, fft.Hann)
	if err != nil {
		t.Fatal(err)
	}
	// Start the click a quarter into the window so the taper keeps most of it.
	click := make([]float64, testWindow)
	track, _ := utils.GenerateClickTrack(testSampleRate, 1, 60)
	copy(click[testWindow/4:], track[:utils.ClickLength])
	return &testSignals{proc: proc, silence: utils.GenerateSilence(testWindow), click: click}
}

func testConfig(methods ...string) config.OnsetConfig {
	cfg := config.Default().Onset
	if len(methods) > 0 {
		cfg.Methods = methods
	}
	return cfg
}

func TestParseMethods(t *testing.T) {
	tests := []struct {
		names   []string
		want    int
		wantErr bool
	}{
		{[]string{"energy", "HFC", " specflux "}, 3, false},
		{[]string{"energy", "hfc", "complex", "phase", "wphase", "specflux", "kl", "mkl"}, 8, false},
		{[]string{"energy", "energy"}, 0, true},
		{[]string{"spectral"}, 0, true},
		{nil, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMethods(tt.names)
		if (err != nil) != tt.wantErr || len(got) != tt.want {
			t.Errorf("ParseMethods(%v) = %v, %v", tt.names, got, err)
		}
	}

	for _, m := range AllMethods() {
		parsed, err := ParseMethod(m.String())
		if err != nil || parsed != m {
			t.Errorf("ParseMethod(%q) = %v, %v", m.String(), parsed, err)
		}
	}
}

func TestMethodSet(t *testing.T) {
	s, err := SetOf("kl", "energy", "phase")
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 || !s.Has(KL) || s.Has(HFC) {
		t.Errorf("unexpected set %v", s)
	}
	if got := s.String(); got != "[energy,phase,kl]" {
		t.Errorf("String() = %q", got)
	}
	if _, err := SetOf("bogus"); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestQuorum(t *testing.T) {
	tests := []struct {
		q, n, want int
	}{
		{0, 5, 3},
		{0, 4, 3},
		{0, 1, 1},
		{2, 5, 2},
		{9, 5, 5},
		{-1, 2, 2},
	}
	for _, tt := range tests {
		if got := Quorum(tt.q, tt.n); got != tt.want {
			t.Errorf("Quorum(%d, %d) = %d; want %d", tt.q, tt.n, got, tt.want)
		}
	}
}

func TestThresholdUsesPriorHistory(t *testing.T) {
	th := newThreshold(4, 1.5)
	for _, v := range []float64{1, 2, 3, 4} {
		th.observe(v)
	}
	// mean 2.5, sample stddev 1.29 => 4.436
	level, fired := th.observe(4.4)
	if math.Abs(level-(2.5+1.5*math.Sqrt(5.0/3))) > 1e-9 {
		t.Errorf("level = %v", level)
	}
	if fired {
		t.Error("4.4 should not exceed the threshold")
	}
	if _, fired := th.observe(100); !fired {
		t.Error("100 should exceed the threshold")
	}
}

func TestEachMethodFiresOnClick(t *testing.T) {
	sig := newTestSignals(t)
	for _, m := range AllMethods() {
		t.Run(m.String(), func(t *testing.T) {
			cfg := testConfig(m.String())
			cfg.ThresholdWindow = 4
			e, err := NewEnsemble(cfg, sig.proc.Bins())
			if err != nil {
				t.Fatal(err)
			}
			var ts time.Duration
			for range 10 {
				if d, _ := e.Process(sig.proc.Compute(sig.silence), ts, true); d.Onset {
					t.Fatal("onset on silence")
				}
				ts += hop
			}
			d, signals := e.Process(sig.proc.Compute(sig.click), ts, false)
			if !d.Onset || d.Confidence != 1 || !d.Methods.Has(m) {
				t.Errorf("click: %+v signal %+v", d, signals[0])
			}
		})
	}
}

func TestColdStartSuppression(t *testing.T) {
	sig := newTestSignals(t)
	cfg := testConfig()
	e, _ := NewEnsemble(cfg, sig.proc.Bins())

	var ts time.Duration
	for i := range cfg.ThresholdWindow {
		// Alternate clicks and silence so methods keep firing.
		input := sig.silence
		if i%2 == 0 {
			input = sig.click
		}
		if d, _ := e.Process(sig.proc.Compute(input), ts, false); d.Onset {
			t.Fatalf("onset during warm-up at window %d", i)
		}
		ts += 10 * hop
	}

	for range 20 {
		e.Process(sig.proc.Compute(sig.silence), ts, true)
		ts += hop
	}
	if d, _ := e.Process(sig.proc.Compute(sig.click), ts, false); !d.Onset {
		t.Errorf("no onset after warm-up: %+v", d)
	}
}

func TestSilenceAndMinIOI(t *testing.T) {
	sig := newTestSignals(t)
	e, _ := NewEnsemble(testConfig(), sig.proc.Bins())

	var ts time.Duration
	quiet := func(n int) {
		for range n {
			e.Process(sig.proc.Compute(sig.silence), ts, true)
			ts += hop
		}
	}

	quiet(30)
	// Methods agree but the gate reports silence.
	if d, _ := e.Process(sig.proc.Compute(sig.click), ts, true); d.Onset || d.Methods.Len() == 0 {
		t.Errorf("silent click: %+v", d)
	}

	quiet(30)
	first, _ := e.Process(sig.proc.Compute(sig.click), ts, false)
	if !first.Onset {
		t.Fatalf("expected onset: %+v", first)
	}

	// A second click 20ms later is inside the minimum inter-onset interval.
	e.Reset()
	quiet(30)
	e.Process(sig.proc.Compute(sig.click), ts, false)
	quiet(30)
	// Rewind the clock artificially to 20ms after the last onset.
	e.lastOnset = ts - 20*time.Millisecond
	if d, _ := e.Process(sig.proc.Compute(sig.click), ts, false); d.Onset {
		t.Errorf("onset inside min IOI: %+v", d)
	}
}

func TestQuorumNotReached(t *testing.T) {
	sig := newTestSignals(t)
	cfg := testConfig("energy", "hfc", "specflux")
	cfg.Quorum = 3
	e, _ := NewEnsemble(cfg, sig.proc.Bins())

	var ts time.Duration
	for range 30 {
		e.Process(sig.proc.Compute(sig.silence), ts, true)
		ts += hop
	}
	// The decaying half of a click: energy and hfc fall, so three methods
	// can't agree.
	tail := make([]float64, testWindow)
	copy(tail, sig.click[testWindow/4+utils.ClickLength/2:])
	e.Process(sig.proc.Compute(sig.click), ts, false)
	ts += time.Second
	d, _ := e.Process(sig.proc.Compute(tail), ts, false)
	if d.Onset {
		t.Errorf("decaying tail produced an onset: %+v", d)
	}
	if d.Confidence >= 1 {
		t.Errorf("confidence = %v; want < 1", d.Confidence)
	}
}

func BenchmarkProcess(b *testing.B) {
	sig := newTestSignals(b)
	cfg := testConfig("energy", "hfc", "complex", "phase", "wphase", "specflux", "kl", "mkl")
	e, _ := NewEnsemble(cfg, sig.proc.Bins())
	spec := sig.proc.Compute(utils.GenerateComplexWave(testWindow, testSampleRate))
	b.ReportAllocs()
	var ts time.Duration
	for b.Loop() {
		e.Process(spec, ts, false)
		ts += hop
	}
}
