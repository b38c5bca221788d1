// SPDX-License-Identifier: MIT
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"beatzero/internal/analysis"
	"beatzero/internal/onset"
)

// SchemaVersion is the version written to every record.
const SchemaVersion = 1

// Record types.
const (
	TypeFrame  = "frame"
	TypeStatus = "status"
)

// Status values carried by status records. Online and offline announce a
// publisher on retained topics; end and error terminate a stream.
const (
	StatusEnd     = "end"
	StatusError   = "error"
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var (
	ErrUnknownType = errors.New("frame: unknown record type")
	ErrVersion     = errors.New("frame: unsupported schema version")
)

// Envelope holds the fields shared by every record.
type Envelope struct {
	Type    string `json:"type"`
	Version int    `json:"v"`
}

type wirePitch struct {
	Hz         float64 `json:"hz"`
	Confidence float64 `json:"confidence"`
}

type wireBand struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type wireFrame struct {
	Envelope
	Seq             uint64     `json:"seq"`
	TimestampNS     int64      `json:"ts_ns"`
	Onset           bool       `json:"onset"`
	OnsetConfidence float64    `json:"onset_confidence"`
	Methods         []string   `json:"methods"`
	Pitch           *wirePitch `json:"pitch,omitempty"`
	Note            string     `json:"note,omitempty"`
	BPM             float64    `json:"bpm"`
	BPMConfidence   float64    `json:"bpm_confidence"`
	Bands           []wireBand `json:"bands"`
	Hints           []string   `json:"hints"`
	Level           float64    `json:"level"`
}

// StatusRecord is the terminal message sent to remote consumers.
type StatusRecord struct {
	Envelope
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Err returns the stream error carried by the record, nil for an orderly end.
func (s StatusRecord) Err() error {
	if s.Status == StatusError {
		return errors.New(s.Error)
	}
	return nil
}

// Encode returns the JSON record for f.
func Encode(f AnalysisFrame) ([]byte, error) {
	w := wireFrame{
		Envelope:        Envelope{Type: TypeFrame, Version: SchemaVersion},
		Seq:             f.Seq,
		TimestampNS:     f.Timestamp.Nanoseconds(),
		Onset:           f.Onset.Onset,
		OnsetConfidence: f.Onset.Confidence,
		Methods:         f.Onset.Methods.Names(),
		BPM:             f.BPM,
		BPMConfidence:   f.BPMConfidence,
		Bands:           make([]wireBand, f.Bands.Len()),
		Hints:           f.Hints.Names(),
		Level:           f.Level,
	}
	if w.Hints == nil {
		w.Hints = []string{}
	}
	if f.Pitch.Valid {
		w.Pitch = &wirePitch{Hz: f.Pitch.Hz, Confidence: f.Pitch.Confidence}
		w.Note = f.Pitch.Note
	}
	for i := range w.Bands {
		w.Bands[i].Name, w.Bands[i].Value = f.Bands.At(i)
	}
	return json.Marshal(w)
}

// Decode parses a frame record. Unknown fields are ignored, as are method
// and hint names this version does not know.
func Decode(data []byte) (AnalysisFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return AnalysisFrame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if err := w.Envelope.check(TypeFrame); err != nil {
		return AnalysisFrame{}, err
	}

	f := AnalysisFrame{
		Seq:           w.Seq,
		Timestamp:     time.Duration(w.TimestampNS),
		BPM:           w.BPM,
		BPMConfidence: w.BPMConfidence,
		Level:         w.Level,
		Onset: onset.Decision{
			Onset:      w.Onset,
			Confidence: w.OnsetConfidence,
		},
	}
	for _, name := range w.Methods {
		if m, err := onset.ParseMethod(name); err == nil {
			f.Onset.Methods = f.Onset.Methods.Add(m)
		}
	}
	for _, name := range w.Hints {
		if h, err := ParseHint(name); err == nil {
			f.Hints = f.Hints.With(h)
		}
	}
	if w.Pitch != nil {
		f.Pitch = analysis.Pitch{
			Hz:         w.Pitch.Hz,
			Confidence: w.Pitch.Confidence,
			Note:       w.Note,
			Valid:      true,
		}
	}

	names := make([]string, len(w.Bands))
	values := make([]float64, len(w.Bands))
	for i, b := range w.Bands {
		names[i], values[i] = b.Name, b.Value
	}
	bands, err := analysis.NewBandEnergy(names, values)
	if err != nil {
		return AnalysisFrame{}, err
	}
	f.Bands = bands
	return f, nil
}

// EncodeStatus returns the terminal status record for status; nil means an
// orderly end of stream.
func EncodeStatus(status error) ([]byte, error) {
	rec := StatusRecord{
		Envelope: Envelope{Type: TypeStatus, Version: SchemaVersion},
		Status:   StatusEnd,
	}
	if status != nil {
		rec.Status = StatusError
		rec.Error = status.Error()
	}
	return json.Marshal(rec)
}

// EncodePresence returns an online or offline status record.
func EncodePresence(online bool) ([]byte, error) {
	rec := StatusRecord{
		Envelope: Envelope{Type: TypeStatus, Version: SchemaVersion},
		Status:   StatusOffline,
	}
	if online {
		rec.Status = StatusOnline
	}
	return json.Marshal(rec)
}

// DecodeStatus parses a status record.
func DecodeStatus(data []byte) (StatusRecord, error) {
	var rec StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StatusRecord{}, fmt.Errorf("failed to decode status: %w", err)
	}
	if err := rec.Envelope.check(TypeStatus); err != nil {
		return StatusRecord{}, err
	}
	return rec, nil
}

// DecodeEnvelope reads only the record type and version so a reader can
// pick Decode or DecodeStatus.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if env.Type != TypeFrame && env.Type != TypeStatus {
		return env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

func (e Envelope) check(want string) error {
	if e.Type != want {
		return fmt.Errorf("%w: %q, want %q", ErrUnknownType, e.Type, want)
	}
	if e.Version != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrVersion, e.Version)
	}
	return nil
}
