// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"beatzero/internal/analysis"
	"beatzero/internal/audio"
	"beatzero/internal/bus"
	"beatzero/internal/frame"
	"beatzero/internal/onset"

	tea "github.com/charmbracelet/bubbletea"
)

func fakeDevices() ([]audio.Device, error) {
	return []audio.Device{
		{ID: 0, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{ID: 1, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 44100},
		{ID: 2, Name: "Interface", MaxInputChannels: 8, MaxOutputChannels: 8, DefaultSampleRate: 96000},
	}, nil
}

func send(t *testing.T, m tea.Model, msgs ...tea.Msg) (tea.Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		m, cmd = m.Update(msg)
	}
	return m, cmd
}

func TestDeviceListSelection(t *testing.T) {
	model := NewDeviceListModel(fakeDevices)
	msg := model.Init()()

	m, _ := send(t, model, tea.WindowSizeMsg{Width: 80, Height: 30}, msg)
	view := m.View()
	if strings.Contains(view, "Speakers") {
		t.Error("output-only device listed")
	}
	if !strings.Contains(view, "[1] Mic") || !strings.Contains(view, "[2] Interface") {
		t.Errorf("input devices missing from view:\n%s", view)
	}

	m, cmd := send(t, m,
		tea.KeyMsg{Type: tea.KeyDown},  // Interface
		tea.KeyMsg{Type: tea.KeyEnter}, // configure, starts at 96000
		tea.KeyMsg{Type: tea.KeyUp},    // 88200
		tea.KeyMsg{Type: tea.KeyEnter}, // select
	)
	if cmd == nil {
		t.Fatal("selecting did not quit")
	}
	sel, ok := m.(DeviceListModel).Selection()
	if !ok {
		t.Fatal("no selection")
	}
	want := Selection{DeviceID: 2, DeviceName: "Interface", SampleRate: 88200, Channels: 2}
	if sel != want {
		t.Errorf("selection = %+v, want %+v", sel, want)
	}
}

func TestDeviceListError(t *testing.T) {
	model := NewDeviceListModel(func() ([]audio.Device, error) {
		return nil, errors.New("PortAudio not initialized")
	})
	m, _ := send(t, model, tea.WindowSizeMsg{Width: 80, Height: 30}, model.Init()())
	if !strings.Contains(m.View(), "PortAudio not initialized") {
		t.Errorf("error not shown:\n%s", m.View())
	}
	if _, ok := m.(DeviceListModel).Selection(); ok {
		t.Error("selection reported after error")
	}
}

func liveFrame(t *testing.T, ts time.Duration, hints frame.Hints) frame.AnalysisFrame {
	t.Helper()
	bands, err := analysis.NewBandEnergy([]string{"kick", "hihat"}, []float64{1, 0.2})
	if err != nil {
		t.Fatal(err)
	}
	f := frame.AnalysisFrame{
		Timestamp:     ts,
		BPM:           120,
		BPMConfidence: 0.9,
		Pitch:         analysis.Pitch{Hz: 110, Confidence: 0.8, Note: "A2", Valid: true},
		Bands:         bands,
		Level:         0.4,
	}
	if hints != 0 {
		methods, _ := onset.SetOf("energy", "hfc")
		f.Onset = onset.Decision{Onset: true, Confidence: 0.4, Methods: methods}
		f.Hints = hints
	}
	return f
}

func TestLiveModel(t *testing.T) {
	methods := []onset.Method{onset.Energy, onset.HFC, onset.SpecFlux}
	model := NewLiveModel("beatzero", methods, func() bus.Stats { return bus.Stats{Published: 12} })

	if !strings.Contains(model.View(), "Waiting for audio") {
		t.Errorf("empty view:\n%s", model.View())
	}

	kick := frame.Hints(0).With(frame.HintKick)
	m, _ := send(t, model, frameMsg(liveFrame(t, time.Second, kick)))
	view := m.View()
	for _, want := range []string{"ONSET", "120.0 BPM", "A2", "KICK", "kick", "hihat", "specflux", "frames 12"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if lm := m.(LiveModel); lm.onsets != 1 {
		t.Errorf("onsets = %d", lm.onsets)
	}

	// The kick stays lit briefly, then clears.
	m, _ = send(t, m, frameMsg(liveFrame(t, time.Second+100*time.Millisecond, 0)))
	if !m.(LiveModel).hints.Has(frame.HintKick) {
		t.Error("kick cleared too early")
	}
	m, _ = send(t, m, frameMsg(liveFrame(t, time.Second+200*time.Millisecond, 0)))
	if m.(LiveModel).hints != 0 {
		t.Error("kick still lit after the hold")
	}

	m, _ = send(t, m, endMsg{status: errors.New("device unplugged")})
	if !strings.Contains(m.View(), "Stream failed: device unplugged") {
		t.Errorf("end status missing:\n%s", m.View())
	}

	_, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("q did not quit")
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		v    float64
		full int
	}{
		{0, 0}, {0.5, 5}, {1, 10}, {2, 10}, {-1, 0},
	}
	for _, tt := range tests {
		if got := strings.Count(bar(tt.v, 10), "█"); got != tt.full {
			t.Errorf("bar(%v) has %d full cells, want %d", tt.v, got, tt.full)
		}
	}
}
