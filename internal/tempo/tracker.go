// SPDX-License-Identifier: MIT
//
// Package tempo estimates beats per minute from onset times. The tracker
// keeps a bounded ring of recent onsets and clusters their inter-onset
// intervals around the median.
package tempo

import (
	"math"
	"slices"
	"time"

	"beatzero/internal/config"

	"gonum.org/v1/gonum/stat"
)

// State is a snapshot of the tracker. A zero BPM means no estimate yet.
type State struct {
	BPM        float64
	Confidence float64
	Onsets     int           // onsets currently retained
	LastOnset  time.Duration // stream time of the newest onset
	UpdatedAt  time.Duration // stream time of the last update or decay
}

// Tracker is the tempo estimator. It is not safe for concurrent use; the
// engine goroutine is its only writer and consumers read State snapshots.
type Tracker struct {
	cfg config.TempoConfig

	ring  []time.Duration
	head  int // index of the oldest onset
	count int

	minInterval float64 // seconds
	maxInterval float64

	baseConfidence float64 // confidence at the last onset, before decay
	state          State

	// scratch buffers, reused across updates
	intervals []float64
	sorted    []float64
	cluster   []float64
	weights   []float64
}

// NewTracker returns a tracker; zero config fields fall back to defaults.
func NewTracker(cfg config.TempoConfig) *Tracker {
	def := config.Default().Tempo
	if cfg.MinBPM <= 0 || cfg.MaxBPM <= cfg.MinBPM {
		cfg.MinBPM, cfg.MaxBPM = def.MinBPM, def.MaxBPM
	}
	if cfg.MaxOnsets < 2 {
		cfg.MaxOnsets = def.MaxOnsets
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.ClusterTolerance <= 0 {
		cfg.ClusterTolerance = def.ClusterTolerance
	}
	if cfg.FullConfidenceIntervals <= 0 {
		cfg.FullConfidenceIntervals = def.FullConfidenceIntervals
	}
	if cfg.DecayTimeout <= 0 {
		cfg.DecayTimeout = def.DecayTimeout
	}
	if cfg.DecayHalfLife <= 0 {
		cfg.DecayHalfLife = def.DecayHalfLife
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = def.Smoothing
	}

	n := cfg.MaxOnsets
	return &Tracker{
		cfg:         cfg,
		ring:        make([]time.Duration, n),
		minInterval: 60 / cfg.MaxBPM,
		maxInterval: 60 / cfg.MinBPM,
		intervals:   make([]float64, 0, n),
		sorted:      make([]float64, 0, n),
		cluster:     make([]float64, 0, n),
		weights:     make([]float64, 0, n),
	}
}

// OnOnset records an onset at stream time t and re-estimates the tempo.
// Onsets must arrive in time order.
func (tr *Tracker) OnOnset(t time.Duration) State {
	if tr.count == len(tr.ring) {
		tr.head = (tr.head + 1) % len(tr.ring)
		tr.count--
	}
	tr.ring[(tr.head+tr.count)%len(tr.ring)] = t
	tr.count++

	for tr.count > 0 && t-tr.ring[tr.head] > tr.cfg.Retention {
		tr.head = (tr.head + 1) % len(tr.ring)
		tr.count--
	}

	tr.estimate()
	tr.state.Onsets = tr.count
	tr.state.LastOnset = t
	tr.state.UpdatedAt = t
	tr.state.Confidence = tr.baseConfidence
	return tr.state
}

// Advance moves the tracker clock to now without an onset. After the decay
// timeout the confidence halves every half-life; the BPM is kept.
func (tr *Tracker) Advance(now time.Duration) State {
	if tr.count == 0 || now <= tr.state.LastOnset {
		return tr.state
	}
	tr.state.UpdatedAt = now
	idle := now - tr.state.LastOnset
	if idle <= tr.cfg.DecayTimeout {
		tr.state.Confidence = tr.baseConfidence
		return tr.state
	}
	halfLives := float64(idle-tr.cfg.DecayTimeout) / float64(tr.cfg.DecayHalfLife)
	tr.state.Confidence = tr.baseConfidence * math.Exp2(-halfLives)
	return tr.state
}

// State returns the current snapshot.
func (tr *Tracker) State() State { return tr.state }

// Reset forgets every onset and the estimate.
func (tr *Tracker) Reset() {
	tr.head, tr.count = 0, 0
	tr.baseConfidence = 0
	tr.state = State{}
}

func (tr *Tracker) estimate() {
	tr.intervals = tr.intervals[:0]
	tr.sorted = tr.sorted[:0]
	total := tr.count - 1
	if total < 1 {
		tr.baseConfidence = 0
		return
	}

	prev := tr.ring[tr.head]
	for i := 1; i < tr.count; i++ {
		cur := tr.ring[(tr.head+i)%len(tr.ring)]
		iv := (cur - prev).Seconds()
		prev = cur
		if iv >= tr.minInterval && iv <= tr.maxInterval {
			tr.intervals = append(tr.intervals, iv)
		}
	}
	if len(tr.intervals) == 0 {
		tr.baseConfidence = 0
		return
	}

	tr.sorted = append(tr.sorted, tr.intervals...)
	slices.Sort(tr.sorted)
	median := medianOf(tr.sorted)

	// Intervals near the median, oldest first, weighted by recency.
	tr.cluster = tr.cluster[:0]
	tr.weights = tr.weights[:0]
	for i, iv := range tr.intervals {
		if math.Abs(iv-median) <= tr.cfg.ClusterTolerance*median {
			tr.cluster = append(tr.cluster, iv)
			tr.weights = append(tr.weights, float64(i+1))
		}
	}
	if len(tr.cluster) == 0 {
		tr.baseConfidence = 0
		return
	}

	bpm := 60 / stat.Mean(tr.cluster, tr.weights)
	if old := tr.state.BPM; old > 0 && math.Abs(bpm-old) <= tr.cfg.ClusterTolerance*old {
		bpm = old + tr.cfg.Smoothing*(bpm-old)
	}
	tr.state.BPM = bpm

	n := float64(len(tr.cluster))
	tr.baseConfidence = n / float64(total) * min(1, n/float64(tr.cfg.FullConfidenceIntervals))
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
