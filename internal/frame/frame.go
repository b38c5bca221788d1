// SPDX-License-Identifier: MIT
//
// Package frame defines AnalysisFrame, the immutable per-window result
// published to consumers, the assembler that builds it and its JSON wire
// codec.
package frame

import (
	"fmt"
	"strings"
	"time"

	"beatzero/internal/analysis"
	"beatzero/internal/onset"
)

// AnalysisFrame is the result for one analysis window. It is passed by
// value; Bands is read-only and may be shared between copies.
type AnalysisFrame struct {
	Seq           uint64
	Timestamp     time.Duration // stream time of the window start
	Onset         onset.Decision
	Pitch         analysis.Pitch // Valid false means none
	BPM           float64        // 0 until a tempo is established
	BPMConfidence float64
	Bands         analysis.BandEnergy
	Hints         Hints
	Level         float64 // normalized window level, [0, 1]
}

// Note returns the pitch note name, or "" when there is none.
func (f AnalysisFrame) Note() string {
	if !f.Pitch.Valid {
		return ""
	}
	return f.Pitch.Note
}

func (f AnalysisFrame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %8.3fs", f.Seq, f.Timestamp.Seconds())
	if f.Onset.Onset {
		fmt.Fprintf(&b, " ONSET(%.2f %s)", f.Onset.Confidence, f.Onset.Methods)
	}
	fmt.Fprintf(&b, " bpm=%.1f(%.2f) pitch=%s level=%.2f", f.BPM, f.BPMConfidence, f.Pitch, f.Level)
	if f.Hints != 0 {
		fmt.Fprintf(&b, " hints=%s", f.Hints)
	}
	return b.String()
}

// Hint is a drum hint derived from band energies on onset frames.
type Hint uint8

const (
	HintKick Hint = iota
	HintHiHat
	numHints
)

var hintNames = [numHints]string{
	HintKick:  "kick",
	HintHiHat: "hihat",
}

func (h Hint) String() string {
	if h < numHints {
		return hintNames[h]
	}
	return fmt.Sprintf("Hint(%d)", uint8(h))
}

// ParseHint converts a case-insensitive name to a Hint.
func ParseHint(name string) (Hint, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range hintNames {
		if n == name {
			return Hint(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hint '%s'", name)
}

// Hints is a bitmask of Hint values.
type Hints uint8

// With returns the set including h.
func (s Hints) With(h Hint) Hints { return s | 1<<h }

// Has reports whether h is set.
func (s Hints) Has(h Hint) bool { return s&(1<<h) != 0 }

// Names returns the set hint names in declaration order.
func (s Hints) Names() []string {
	var out []string
	for h := range numHints {
		if s.Has(h) {
			out = append(out, h.String())
		}
	}
	return out
}

func (s Hints) String() string {
	return strings.Join(s.Names(), "+")
}
