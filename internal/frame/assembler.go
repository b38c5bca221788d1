// SPDX-License-Identifier: MIT
package frame

import (
	"fmt"
	"math"

	"beatzero/internal/analysis"
	"beatzero/internal/config"
	"beatzero/internal/onset"
	"beatzero/internal/tempo"
	"beatzero/internal/window"
)

type hintRule struct {
	hint      Hint
	band      string
	threshold float64
}

// Assembler combines the per-window results into an AnalysisFrame. It holds
// only the hint rules and is safe for concurrent use.
type Assembler struct {
	rules     []hintRule
	dominance float64
}

// NewAssembler validates the hint rules.
func NewAssembler(cfg config.HintsConfig) (*Assembler, error) {
	a := &Assembler{dominance: sanitizeUnit(cfg.Dominance)}
	for _, r := range cfg.Rules {
		h, err := ParseHint(r.Hint)
		if err != nil {
			return nil, fmt.Errorf("hint rule for band %q: %w", r.Band, err)
		}
		a.rules = append(a.rules, hintRule{hint: h, band: r.Band, threshold: r.Threshold})
	}
	return a, nil
}

// Assemble builds the frame for window w. Non-finite values become zero
// and confidences are clamped to [0, 1].
func (a *Assembler) Assemble(w window.SampleWindow, d onset.Decision, f analysis.Features, t tempo.State) AnalysisFrame {
	d.Confidence = sanitizeUnit(d.Confidence)

	p := f.Pitch
	if p.Valid {
		p.Hz = sanitize(p.Hz)
		p.Confidence = sanitizeUnit(p.Confidence)
		if p.Hz <= 0 {
			p = analysis.Pitch{}
		}
	} else {
		p = analysis.Pitch{}
	}

	fr := AnalysisFrame{
		Seq:           w.Seq,
		Timestamp:     w.Timestamp,
		Onset:         d,
		Pitch:         p,
		BPM:           max(0, sanitize(t.BPM)),
		BPMConfidence: sanitizeUnit(t.Confidence),
		Bands:         f.Bands,
		Level:         sanitizeUnit(f.Level),
	}
	if d.Onset {
		fr.Hints = a.hints(f.Bands)
	}
	return fr
}

// hints fires each rule whose band reaches its threshold without being
// dominated by another hint band.
func (a *Assembler) hints(bands analysis.BandEnergy) Hints {
	var hs Hints
	for i, r := range a.rules {
		v, ok := bands.Get(r.band)
		if !ok || v < r.threshold {
			continue
		}
		strongest := 0.0
		for j, other := range a.rules {
			if j == i || other.band == r.band {
				continue
			}
			ov, _ := bands.Get(other.band)
			strongest = max(strongest, ov)
		}
		if v >= a.dominance*strongest {
			hs = hs.With(r.hint)
		}
	}
	return hs
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sanitizeUnit(v float64) float64 {
	return min(1, max(0, sanitize(v)))
}
