// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// recorderQueue is the number of capture chunks buffered ahead of the
// encoder before chunks are dropped.
const recorderQueue = 64

var ErrRecorderClosed = errors.New("recorder closed")

// Recorder writes raw capture to a WAV file. Write never blocks the engine:
// chunks are copied onto a queue drained by an encoder goroutine, and a full
// queue drops the chunk.
type Recorder struct {
	path     string
	channels int
	scale    float64

	file    *os.File
	encoder *wav.Encoder
	buf     *audio.IntBuffer // Reusable buffer for format conversion

	mu      sync.RWMutex
	closed  bool
	chunks  chan []float32
	pool    sync.Pool
	done    chan struct{}
	err     error // first encoder error
	frames  atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder creates path (and its directory) and starts the encoder.
// bitDepth is 16 or 32.
func NewRecorder(path string, sampleRate float64, channels, bitDepth int) (*Recorder, error) {
	if bitDepth != 16 && bitDepth != 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		path:     path,
		channels: channels,
		scale:    float64(int64(1)<<(bitDepth-1) - 1),
		file:     file,
		encoder:  wav.NewEncoder(file, int(sampleRate), bitDepth, channels, 1),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  int(sampleRate),
			},
			SourceBitDepth: bitDepth,
		},
		chunks: make(chan []float32, recorderQueue),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Write queues interleaved samples for encoding and reports whether they
// were accepted. samples are copied.
func (r *Recorder) Write(samples []float32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	chunk, _ := r.pool.Get().([]float32)
	chunk = append(chunk[:0], samples...)
	select {
	case r.chunks <- chunk:
		return true
	default:
		r.pool.Put(chunk[:0])
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for chunk := range r.chunks {
		if r.err == nil {
			r.err = r.encode(chunk)
		}
		r.pool.Put(chunk[:0])
	}
}

func (r *Recorder) encode(samples []float32) error {
	data := r.buf.Data[:0]
	for _, s := range samples {
		v := float64(s)
		v = max(-1, min(1, v))
		data = append(data, int(v*r.scale))
	}
	r.buf.Data = data
	if err := r.encoder.Write(r.buf); err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	r.frames.Add(uint64(len(samples) / r.channels))
	return nil
}

// Close stops accepting samples, drains the queue and finalizes the file.
// It returns the first error met while encoding or closing.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.chunks)
	r.mu.Unlock()

	<-r.done
	err := r.err
	if cerr := r.encoder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Frames returns the number of frames encoded so far.
func (r *Recorder) Frames() uint64 { return r.frames.Load() }

// Dropped returns the number of chunks dropped because the encoder fell
// behind.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
