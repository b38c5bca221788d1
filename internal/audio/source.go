// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"beatzero/internal/config"

	"github.com/gordonklaus/portaudio"
)

var (
	ErrFormatMismatch = errors.New("source format does not match configuration")
	ErrInvalidDstSize = errors.New("dst size must be multiple of channels")
)

// Source delivers interleaved float32 samples in capture order. Read blocks
// until samples are available and returns io.EOF once the stream has ended
// or the source was closed. Close may be called from another goroutine to
// unblock a pending Read.
type Source interface {
	Read(dst []float32) (int, error)
	SampleRate() float64
	Channels() int
	Close() error
}

// CheckFormat returns ErrFormatMismatch when src does not deliver the rate
// and channel count the configuration asks for.
func CheckFormat(src Source, cfg config.AudioConfig) error {
	if src.SampleRate() != cfg.SampleRate || src.Channels() != cfg.InputChannels {
		return fmt.Errorf("%w: source %.0f Hz/%d ch, configured %.0f Hz/%d ch",
			ErrFormatMismatch, src.SampleRate(), src.Channels(), cfg.SampleRate, cfg.InputChannels)
	}
	return nil
}

// PortAudioSource reads from a blocking PortAudio input stream. PortAudio
// must be initialized for the lifetime of the source.
type PortAudioSource struct {
	stream     *portaudio.Stream
	buffer     []float32 // frames_per_buffer * channels, filled by stream.Read
	pending    []float32 // unread tail of buffer
	sampleRate float64
	channels   int
	overflows  atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// OpenPortAudioSource opens and starts a blocking input stream on the device
// named by cfg.InputDevice.
func OpenPortAudioSource(cfg config.AudioConfig) (*PortAudioSource, error) {
	device, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.InputChannels {
		return nil, fmt.Errorf("device %s supports %d input channels, %d requested",
			device.Name, device.MaxInputChannels, cfg.InputChannels)
	}

	latency := device.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: cfg.InputChannels,
			Device:   device,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      cfg.SampleRate,
	}

	s := &PortAudioSource{
		buffer:     make([]float32, cfg.FramesPerBuffer*cfg.InputChannels),
		sampleRate: cfg.SampleRate,
		channels:   cfg.InputChannels,
	}

	stream, err := portaudio.OpenStream(params, s.buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Read copies captured samples into dst. A device overflow loses samples
// inside PortAudio; it is counted and the read still returns data.
func (s *PortAudioSource) Read(dst []float32) (int, error) {
	if len(dst)%s.channels != 0 {
		return 0, ErrInvalidDstSize
	}
	if s.closed.Load() {
		return 0, io.EOF
	}

	if len(s.pending) == 0 {
		if err := s.stream.Read(); err != nil {
			if s.closed.Load() {
				return 0, io.EOF
			}
			if !errors.Is(err, portaudio.InputOverflowed) {
				return 0, fmt.Errorf("failed to read input stream: %w", err)
			}
			s.overflows.Add(1)
		}
		s.pending = s.buffer
	}

	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Overflows returns the number of reads that reported an input overflow.
func (s *PortAudioSource) Overflows() uint64 { return s.overflows.Load() }

func (s *PortAudioSource) SampleRate() float64 { return s.sampleRate }

func (s *PortAudioSource) Channels() int { return s.channels }

// Close aborts the stream, unblocking a pending Read, and releases it.
func (s *PortAudioSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.stream.Abort(); err != nil {
			s.closeErr = err
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// SliceSource replays samples held in memory. With real time pacing enabled
// it delivers them no faster than the sample rate, which makes it a stand-in
// for a capture device.
type SliceSource struct {
	samples    []float32
	pos        int
	sampleRate float64
	channels   int
	realtime   bool
	start      time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

// NewSliceSource returns a source over interleaved samples.
func NewSliceSource(samples []float32, sampleRate float64, channels int) *SliceSource {
	return &SliceSource{
		samples:    samples,
		sampleRate: sampleRate,
		channels:   channels,
		done:       make(chan struct{}),
	}
}

// SetRealtime enables pacing reads to the sample rate. Call before the
// first Read.
func (s *SliceSource) SetRealtime(realtime bool) { s.realtime = realtime }

func (s *SliceSource) Read(dst []float32) (int, error) {
	if len(dst)%s.channels != 0 {
		return 0, ErrInvalidDstSize
	}
	select {
	case <-s.done:
		return 0, io.EOF
	default:
	}
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}

	n := copy(dst, s.samples[s.pos:])
	s.pos += n

	if s.realtime {
		if s.start.IsZero() {
			s.start = time.Now()
		}
		frames := s.pos / s.channels
		due := s.start.Add(time.Duration(float64(frames) / s.sampleRate * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.done:
				timer.Stop()
				return 0, io.EOF
			}
		}
	}
	return n, nil
}

func (s *SliceSource) SampleRate() float64 { return s.sampleRate }

func (s *SliceSource) Channels() int { return s.channels }

// Close ends the stream; pending and later reads return io.EOF.
func (s *SliceSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// MonoMixer down-mixes a multi-channel source to mono by averaging the
// channels of every frame.
type MonoMixer struct {
	src Source
	tmp []float32
}

// NewMonoMixer wraps src. A mono src is returned unchanged.
func NewMonoMixer(src Source) Source {
	if src.Channels() == 1 {
		return src
	}
	return &MonoMixer{src: src}
}

// Read fills dst with mono samples, reading len(dst) frames from the
// wrapped source at most.
func (m *MonoMixer) Read(dst []float32) (int, error) {
	channels := m.src.Channels()
	need := len(dst) * channels
	if cap(m.tmp) < need {
		m.tmp = make([]float32, need)
	}
	tmp := m.tmp[:need]

	n, err := m.src.Read(tmp)
	frames := MixDown(dst, tmp[:n-n%channels], channels)
	return frames, err
}

func (m *MonoMixer) SampleRate() float64 { return m.src.SampleRate() }

func (m *MonoMixer) Channels() int { return 1 }

func (m *MonoMixer) Close() error { return m.src.Close() }

// MixDown averages interleaved frames of the given channel count into dst
// and returns the number of frames written.
func MixDown(dst, interleaved []float32, channels int) int {
	frames := min(len(interleaved)/channels, len(dst))
	switch channels {
	case 1:
		copy(dst, interleaved[:frames])
	case 2:
		for i := 0; i < frames; i++ {
			dst[i] = (interleaved[2*i] + interleaved[2*i+1]) * 0.5
		}
	default:
		scale := 1 / float32(channels)
		for i := 0; i < frames; i++ {
			var sum float32
			for _, v := range interleaved[i*channels : (i+1)*channels] {
				sum += v
			}
			dst[i] = sum * scale
		}
	}
	return frames
}
