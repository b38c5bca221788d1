// SPDX-License-Identifier: MIT
/*
Package audio captures samples and runs the analysis pipeline:
- Sources: blocking PortAudio capture, in-memory replay, mono down-mixing
- Engine: windowing, feature extraction, onset ensemble, tempo tracking and
  frame assembly, publishing every frame to the event bus
- Recorder: optional WAV tap of the raw capture

Thread Safety:
- Run owns all detection state and is the only writer
- The recorder is swapped atomically and fed through a bounded queue
- Counters are atomic so Stats may be read from any goroutine
- Locks OS thread during audio processing
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"beatzero/internal/analysis"
	"beatzero/internal/bus"
	"beatzero/internal/config"
	"beatzero/internal/frame"
	applog "beatzero/internal/log"
	"beatzero/internal/onset"
	"beatzero/internal/tempo"
	"beatzero/internal/window"
)

var ErrAlreadyRecording = errors.New("already recording")

// Stats are the engine counters.
type Stats struct {
	Windows        uint64 // windows analysed and published
	Malformed      uint64 // windows dropped for non-finite samples
	Onsets         uint64
	DroppedSamples uint64 // samples lost to window buffer overflow
	TailDiscarded  uint64 // samples in the incomplete final window
}

type Engine struct {
	config *config.Config
	source Source
	bus    *bus.Bus

	// Pipeline stages, owned by Run.
	windows   *window.Buffer
	extractor *analysis.Extractor
	ensemble  *onset.Ensemble
	tracker   *tempo.Tracker
	assembler *frame.Assembler

	// Pre-allocated read and conversion buffers.
	raw   []float32 // interleaved, frames_per_buffer * channels
	mono  []float32
	chunk []float64

	recorder atomic.Pointer[Recorder]

	windowCount atomic.Uint64
	malformed   atomic.Uint64
	onsets      atomic.Uint64
	dropped     atomic.Uint64
	tail        atomic.Uint64

	logger *applog.Logger
}

// NewEngine builds the pipeline for cfg, reading from src and publishing to
// b. The engine closes both when Run returns.
func NewEngine(cfg *config.Config, src Source, b *bus.Bus) (*Engine, error) {
	windows, err := window.New(cfg.Analysis.WindowSize, cfg.Analysis.HopSize,
		cfg.Analysis.BufferCapacity, cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create window buffer: %w", err)
	}
	extractor, err := analysis.NewExtractor(cfg)
	if err != nil {
		return nil, err
	}
	ensemble, err := onset.NewEnsemble(cfg.Onset, extractor.Bins())
	if err != nil {
		return nil, fmt.Errorf("failed to create onset detectors: %w", err)
	}
	assembler, err := frame.NewAssembler(cfg.Hints)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame assembler: %w", err)
	}

	frames := cfg.Audio.FramesPerBuffer
	return &Engine{
		config:    cfg,
		source:    src,
		bus:       b,
		windows:   windows,
		extractor: extractor,
		ensemble:  ensemble,
		tracker:   tempo.NewTracker(cfg.Tempo),
		assembler: assembler,
		raw:       make([]float32, frames*max(1, cfg.Audio.InputChannels)),
		mono:      make([]float32, frames),
		chunk:     make([]float64, frames),
		logger:    applog.New("Engine"),
	}, nil
}

// Run reads the source until it ends, ctx is cancelled or it fails. Every
// complete window becomes one published frame, in capture order. On return
// the incomplete tail is discarded and the bus is closed with the terminal
// status: nil for an orderly end, the wrapped source error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	if err := CheckFormat(e.source, e.config.Audio); err != nil {
		e.source.Close()
		e.bus.Close(err)
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Closing the source unblocks a pending Read.
	stop := context.AfterFunc(ctx, func() { e.source.Close() })
	defer stop()

	e.logger.Infof("Starting analysis: %.0f Hz, %d ch, window %d, hop %d (%.1f frames/s)",
		e.config.Audio.SampleRate, e.source.Channels(), e.config.Analysis.WindowSize,
		e.config.Analysis.HopSize, e.config.WindowsPerSecond())

	var status error
	for {
		n, err := e.source.Read(e.raw)
		if n > 0 {
			e.ingest(e.raw[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				status = fmt.Errorf("audio source: %w", err)
			}
			break
		}
	}

	e.tail.Add(uint64(e.windows.Flush()))
	if err := e.source.Close(); err != nil {
		e.logger.Warnf("Closing source: %v", err)
	}
	if err := e.StopRecording(); err != nil {
		e.logger.Warnf("Stopping recording: %v", err)
	}
	e.bus.Close(status)

	s := e.Stats()
	if status != nil {
		e.logger.Errorf("Stopped after %d windows: %v", s.Windows, status)
	} else {
		e.logger.Infof("Stopped after %d windows, %d onsets, %d malformed", s.Windows, s.Onsets, s.Malformed)
	}
	return status
}

// ingest records, down-mixes and windows one interleaved chunk.
func (e *Engine) ingest(raw []float32) {
	channels := e.source.Channels()
	raw = raw[:len(raw)-len(raw)%channels]
	if rec := e.recorder.Load(); rec != nil {
		rec.Write(raw)
	}

	frames := MixDown(e.mono, raw, channels)
	for i, v := range e.mono[:frames] {
		e.chunk[i] = float64(v)
	}

	before := e.windows.Dropped()
	w, ok := e.windows.Push(e.chunk[:frames])
	if d := e.windows.Dropped() - before; d > 0 {
		e.dropped.Add(d)
		e.logger.Warnf("Window buffer overflow, dropped %d samples", d)
	}
	for ok {
		e.process(w)
		w, ok = e.windows.Next()
	}
}

func (e *Engine) process(w window.SampleWindow) {
	if !analysis.Valid(w.Samples) {
		// Log the first malformed window and then every hundredth.
		if n := e.malformed.Add(1); n == 1 || n%100 == 0 {
			e.logger.Warnf("Dropped window %d with non-finite samples (%d total)", w.Seq, n)
		}
		return
	}

	features := e.extractor.Extract(w.Samples)
	decision, _ := e.ensemble.Process(features.Spectrum, w.Timestamp, features.Silent)

	var state tempo.State
	if decision.Onset {
		e.onsets.Add(1)
		state = e.tracker.OnOnset(w.Timestamp)
	} else {
		state = e.tracker.Advance(w.Timestamp)
	}

	e.bus.Publish(e.assembler.Assemble(w, decision, features, state))
	e.windowCount.Add(1)
}

// StartRecording starts the WAV tap of the raw capture.
func (e *Engine) StartRecording(path string) error {
	if e.recorder.Load() != nil {
		return ErrAlreadyRecording
	}
	rec, err := NewRecorder(path, e.source.SampleRate(), e.source.Channels(), e.config.Recording.BitDepth)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	if !e.recorder.CompareAndSwap(nil, rec) {
		rec.Close()
		return ErrAlreadyRecording
	}
	e.logger.Infof("Recording to %s", path)
	return nil
}

// StopRecording finalizes the WAV file, if recording.
func (e *Engine) StopRecording() error {
	rec := e.recorder.Swap(nil)
	if rec == nil {
		return nil
	}
	err := rec.Close()
	e.logger.Infof("Recorded %d frames to %s (%d chunks dropped)", rec.Frames(), rec.Path(), rec.Dropped())
	return err
}

// Recording reports whether the WAV tap is active.
func (e *Engine) Recording() bool { return e.recorder.Load() != nil }

// Stats returns a snapshot of the counters. Safe for concurrent use.
func (e *Engine) Stats() Stats {
	return Stats{
		Windows:        e.windowCount.Load(),
		Malformed:      e.malformed.Load(),
		Onsets:         e.onsets.Load(),
		DroppedSamples: e.dropped.Load(),
		TailDiscarded:  e.tail.Load(),
	}
}

