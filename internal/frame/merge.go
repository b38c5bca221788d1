// SPDX-License-Identifier: MIT
package frame

// Merger folds consecutive frames into one for consumers that publish at a
// lower rate than windows are analysed. The merged frame carries the
// newest frame's sequence, time, tempo and bands. An onset, a hint or a
// fired method in any folded frame is kept, with the most confident pitch
// and the highest level.
type Merger struct {
	acc   AnalysisFrame
	count int
}

// Add folds f into the pending frame.
func (m *Merger) Add(f AnalysisFrame) {
	if m.count == 0 {
		m.acc, m.count = f, 1
		return
	}

	prev := m.acc
	m.acc = f
	m.count++

	m.acc.Onset.Onset = prev.Onset.Onset || f.Onset.Onset
	m.acc.Onset.Confidence = max(prev.Onset.Confidence, f.Onset.Confidence)
	m.acc.Onset.Methods = prev.Onset.Methods | f.Onset.Methods
	m.acc.Hints = prev.Hints | f.Hints
	m.acc.Level = max(prev.Level, f.Level)
	if prev.Pitch.Valid && (!f.Pitch.Valid || prev.Pitch.Confidence >= f.Pitch.Confidence) {
		m.acc.Pitch = prev.Pitch
	}
}

// Len returns the number of frames folded since the last Flush.
func (m *Merger) Len() int { return m.count }

// Flush returns the merged frame and starts over. It reports false when
// nothing was added.
func (m *Merger) Flush() (AnalysisFrame, bool) {
	if m.count == 0 {
		return AnalysisFrame{}, false
	}
	f := m.acc
	m.acc, m.count = AnalysisFrame{}, 0
	return f, true
}
