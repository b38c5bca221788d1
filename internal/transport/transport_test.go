// SPDX-License-Identifier: MIT
package transport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"beatzero/internal/analysis"
	"beatzero/internal/bus"
	"beatzero/internal/config"
	"beatzero/internal/frame"
	"beatzero/internal/onset"
)

func testFrame(t *testing.T, seq uint64, isOnset bool) frame.AnalysisFrame {
	t.Helper()
	bands, err := analysis.NewBandEnergy([]string{"kick", "hihat"}, []float64{0.9, 0.1})
	if err != nil {
		t.Fatal(err)
	}
	f := frame.AnalysisFrame{
		Seq:       seq,
		Timestamp: time.Duration(seq) * 11610 * time.Microsecond,
		BPM:       120,
		Bands:     bands,
		Level:     0.5,
	}
	if isOnset {
		methods, _ := onset.SetOf("energy", "hfc", "specflux")
		f.Onset = onset.Decision{Onset: true, Confidence: 0.6, Methods: methods}
		f.Hints = f.Hints.With(frame.HintKick)
	}
	return f
}

func TestSubscribeOptions(t *testing.T) {
	b := bus.New(bus.WithDefaultQueueDepth(8))
	sub, err := Attach(b, "udp", config.SubscriberConfig{QueueDepth: 3, Overflow: "drop_newest"})
	if err != nil {
		t.Fatalf("Attach error: %v", err)
	}
	if sub.Cap() != 3 || sub.Name() != "udp" {
		t.Errorf("subscription cap %d name %q", sub.Cap(), sub.Name())
	}

	sub, err = Attach(b, "defaults", config.SubscriberConfig{})
	if err != nil || sub.Cap() != 8 {
		t.Errorf("default subscription cap = %d, err %v", sub.Cap(), err)
	}

	if _, err := Attach(b, "bad", config.SubscriberConfig{Overflow: "block"}); err == nil {
		t.Error("unknown overflow policy accepted")
	}
}

func TestLoggingTransport(t *testing.T) {
	var out bytes.Buffer
	lt := NewLoggingTransport(&out, true)

	b := bus.New()
	sub, _ := Attach(b, "log", config.SubscriberConfig{})
	b.Publish(testFrame(t, 0, false))
	b.Publish(testFrame(t, 1, true))
	b.Publish(testFrame(t, 2, false))
	b.Close(nil)

	if err := Serve(context.Background(), sub, lt); err != nil {
		t.Fatalf("Serve error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 onset line:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "#1 ") || !strings.Contains(lines[0], "ONSET") || !strings.Contains(lines[0], "hints=kick") {
		t.Errorf("unexpected line %q", lines[0])
	}
}

func TestLoggingTransportAllFrames(t *testing.T) {
	var out bytes.Buffer
	lt := NewLoggingTransport(&out, false)
	for i := range 4 {
		if err := lt.Receive(testFrame(t, uint64(i), i == 2)); err != nil {
			t.Fatal(err)
		}
	}
	if n := strings.Count(out.String(), "\n"); n != 4 {
		t.Errorf("wrote %d lines, want 4", n)
	}
	if err := lt.Finish(errors.New("device unplugged")); err != nil {
		t.Errorf("Finish error: %v", err)
	}
}

// recordingTransport keeps every frame it receives.
type recordingTransport struct {
	frames []frame.AnalysisFrame
	status error
	closed bool
}

func (r *recordingTransport) Receive(f frame.AnalysisFrame) error {
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingTransport) Finish(status error) error {
	r.status = status
	return nil
}

func (r *recordingTransport) Close() error {
	r.closed = true
	return nil
}

func TestThrottleMergesOnsets(t *testing.T) {
	rec := &recordingTransport{}
	// Frames are 11.61ms apart; at 30 per second every third is published.
	th := NewThrottle(rec, 30)

	b := bus.New()
	sub, _ := Attach(b, "throttled", config.SubscriberConfig{QueueDepth: 64})
	for seq := range uint64(10) {
		b.Publish(testFrame(t, seq, seq == 4))
	}
	b.Close(nil)

	if err := Serve(context.Background(), sub, th); err != nil {
		t.Fatalf("Serve error: %v", err)
	}
	if !rec.closed || rec.status != nil {
		t.Errorf("closed=%v status=%v", rec.closed, rec.status)
	}

	var seqs []uint64
	onsets := 0
	for _, f := range rec.frames {
		seqs = append(seqs, f.Seq)
		if f.Onset.Onset {
			onsets++
			if f.Seq != 6 || !f.Hints.Has(frame.HintKick) {
				t.Errorf("onset merged into frame %d, hints %v", f.Seq, f.Hints)
			}
		}
	}
	// 0 is sent at once, then 3 and 6 and 9 once 33.3ms have passed.
	want := []uint64{0, 3, 6, 9}
	if len(seqs) != len(want) {
		t.Fatalf("published %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("published %v, want %v", seqs, want)
		}
	}
	if onsets != 1 {
		t.Errorf("published %d onsets, want 1", onsets)
	}
}

func TestThrottleFlushesOnFinish(t *testing.T) {
	rec := &recordingTransport{}
	th := NewThrottle(rec, 10)

	th.Receive(testFrame(t, 0, false))
	th.Receive(testFrame(t, 1, true))
	th.Receive(testFrame(t, 2, false))
	if len(rec.frames) != 1 {
		t.Fatalf("published %d frames before Finish, want 1", len(rec.frames))
	}

	if err := th.(bus.Finisher).Finish(nil); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if len(rec.frames) != 2 || !rec.frames[1].Onset.Onset || rec.frames[1].Seq != 2 {
		t.Errorf("pending onset not flushed: %v", rec.frames)
	}

	// A departed client gets no pending frame.
	th.Receive(testFrame(t, 100, true))
	th.Receive(testFrame(t, 101, false))
	th.(bus.Finisher).Finish(bus.ErrUnsubscribed)
	if len(rec.frames) != 3 || !errors.Is(rec.status, bus.ErrUnsubscribed) {
		t.Errorf("frames %d, status %v", len(rec.frames), rec.status)
	}
}

func TestThrottleDisabled(t *testing.T) {
	rec := &recordingTransport{}
	if NewThrottle(rec, 0) != Transport(rec) {
		t.Error("rate 0 should return the transport unchanged")
	}
}
