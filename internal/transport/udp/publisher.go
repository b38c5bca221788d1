// SPDX-License-Identifier: MIT
//
// Package udp publishes analysis frames as UDP datagrams, one frame per
// datagram, either as the JSON record or as a compact binary packet.
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"beatzero/internal/frame"
	applog "beatzero/internal/log"
)

// Format selects the datagram encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "json"
}

// ParseFormat maps "json" (or "") and "binary" to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "json":
		return FormatJSON, nil
	case "binary":
		return FormatBinary, nil
	}
	return 0, fmt.Errorf("unknown UDP format %q", name)
}

// Packet flags.
const (
	FlagOnset uint8 = 1 << iota
	FlagPitch
	FlagKick
	FlagHiHat
	FlagStatus // terminal record; FlagOnset is set when the stream failed
)

/*
Binary packet structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Frame sequence          |
| Timestamp         | int64          | 8            | Stream time, ns         |
| Flags             | uint8          | 1            | Onset/pitch/hint bits   |
| Onset Confidence  | float32        | 4            | [0, 1]                  |
| Pitch             | float32        | 4            | Hz, 0 when absent       |
| BPM               | float32        | 4            | 0 when unknown          |
| Level             | float32        | 4            | [0, 1]                  |
| Band Count        | uint16         | 2            | Number of floats (N)    |
| Bands             | []float32      | N * 4        | Band energies, in order |
+-----------------------------------------------------------------------------+
*/

// HeaderSize is the binary packet size without band values.
const HeaderSize = 4 + 8 + 1 + 4 + 4 + 4 + 4 + 2

// Packet is a decoded binary datagram.
type Packet struct {
	Seq             uint32
	Timestamp       int64
	Flags           uint8
	OnsetConfidence float32
	Pitch           float32
	BPM             float32
	Level           float32
	Bands           []float32
}

// UDPPublisher is a bus consumer that sends every frame it receives.
type UDPPublisher struct {
	sender *UDPSender
	format Format

	// Reusable buffers for the binary encoding.
	packetBuffer *bytes.Buffer
	bandBuffer   []float32

	sent   uint64
	logger *applog.Logger
}

// NewUDPPublisher creates a publisher that owns sender.
func NewUDPPublisher(sender *UDPSender, format Format) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	logger := applog.New("UDPPublisher")
	logger.Infof("Initializing (format: %s)", format)
	return &UDPPublisher{
		sender:       sender,
		format:       format,
		packetBuffer: new(bytes.Buffer),
		logger:       logger,
	}, nil
}

// Receive encodes f and sends it as one datagram.
func (p *UDPPublisher) Receive(f frame.AnalysisFrame) error {
	var data []byte
	switch p.format {
	case FormatBinary:
		if err := p.pack(f); err != nil {
			return err
		}
		data = p.packetBuffer.Bytes()
	default:
		var err error
		if data, err = frame.Encode(f); err != nil {
			return err
		}
	}

	if err := p.sender.Send(data); err != nil {
		return err
	}
	p.sent++
	p.logger.Debugf("Sent frame %d (%d bytes)", f.Seq, len(data))
	return nil
}

// Finish sends the terminal status record.
func (p *UDPPublisher) Finish(status error) error {
	var data []byte
	switch p.format {
	case FormatBinary:
		p.packetBuffer.Reset()
		flags := FlagStatus
		if status != nil {
			flags |= FlagOnset
		}
		hdr := Packet{Flags: flags}
		if err := writePacket(p.packetBuffer, &hdr); err != nil {
			return err
		}
		data = p.packetBuffer.Bytes()
	default:
		var err error
		if data, err = frame.EncodeStatus(status); err != nil {
			return err
		}
	}
	p.logger.Infof("Stream ended after %d datagrams", p.sent)
	return p.sender.Send(data)
}

// Close releases the socket.
func (p *UDPPublisher) Close() error {
	return p.sender.Close()
}

func (p *UDPPublisher) pack(f frame.AnalysisFrame) error {
	p.bandBuffer = p.bandBuffer[:0]
	for i := range f.Bands.Len() {
		_, v := f.Bands.At(i)
		p.bandBuffer = append(p.bandBuffer, float32(v))
	}

	var flags uint8
	if f.Onset.Onset {
		flags |= FlagOnset
	}
	if f.Pitch.Valid {
		flags |= FlagPitch
	}
	if f.Hints.Has(frame.HintKick) {
		flags |= FlagKick
	}
	if f.Hints.Has(frame.HintHiHat) {
		flags |= FlagHiHat
	}

	pkt := Packet{
		Seq:             uint32(f.Seq),
		Timestamp:       int64(f.Timestamp),
		Flags:           flags,
		OnsetConfidence: float32(f.Onset.Confidence),
		Pitch:           float32(f.Pitch.Hz),
		BPM:             float32(f.BPM),
		Level:           float32(f.Level),
		Bands:           p.bandBuffer,
	}
	p.packetBuffer.Reset()
	return writePacket(p.packetBuffer, &pkt)
}

func writePacket(buf *bytes.Buffer, pkt *Packet) error {
	if len(pkt.Bands) > math.MaxUint16 {
		return fmt.Errorf("too many bands: %d", len(pkt.Bands))
	}
	// Chain error checks for cleaner code.
	err := binary.Write(buf, binary.BigEndian, pkt.Seq)
	for _, v := range []any{pkt.Timestamp, pkt.Flags, pkt.OnsetConfidence, pkt.Pitch, pkt.BPM, pkt.Level, uint16(len(pkt.Bands))} {
		if err != nil {
			break
		}
		err = binary.Write(buf, binary.BigEndian, v)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, pkt.Bands)
	}
	if err != nil {
		return fmt.Errorf("failed to pack binary packet: %w", err)
	}
	return nil
}

// DecodePacket parses a binary datagram.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("short packet: %d bytes", len(data))
	}
	r := bytes.NewReader(data)
	var pkt Packet
	var count uint16
	for _, v := range []any{&pkt.Seq, &pkt.Timestamp, &pkt.Flags, &pkt.OnsetConfidence, &pkt.Pitch, &pkt.BPM, &pkt.Level, &count} {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return Packet{}, fmt.Errorf("failed to read packet header: %w", err)
		}
	}
	if r.Len() != int(count)*4 {
		return Packet{}, fmt.Errorf("packet holds %d band bytes, header says %d bands", r.Len(), count)
	}
	pkt.Bands = make([]float32, count)
	if err := binary.Read(r, binary.BigEndian, pkt.Bands); err != nil {
		return Packet{}, fmt.Errorf("failed to read bands: %w", err)
	}
	return pkt, nil
}
