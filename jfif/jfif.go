// Package jfif splits a JPEG bitstream into a replay-safe header segment
// and one or more data segments, and reassembles an image incrementally
// from those segments as they arrive over an unreliable link.
package jfif

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

// JPEG marker bytes, each preceded on the wire by 0xFF.
const (
	markerSOI  = 0xD8
	markerAPP0 = 0xE0
	markerDQT  = 0xDB
	markerDHT  = 0xC4
	markerSOS  = 0xDA
	markerEOI  = 0xD9
	markerSOF0 = 0xC0
	markerSOF2 = 0xC2
)

const markerPrefix = 0xFF

// Splitter holds the header and data segments of one in-flight image
// transfer, plus the progressive/baseline mode used to encode it.
type Splitter struct {
	progressive bool

	header         []byte
	data           []byte
	headerComplete bool
}

// NewSplitter creates a Splitter. progressive controls how SetRaw's marker
// scan classifies SOF and DHT (baseline: SOF0 and DHT in the header;
// progressive: SOF2 in the header, DHT in the data). It does not change
// Encode's output, which is always baseline — see Encode's doc comment.
func NewSplitter(progressive bool) *Splitter {
	return &Splitter{progressive: progressive}
}

// Encode renders img to JPEG at the given quality and splits the result
// into header and data segments, ready for Header()/Data() to be sent as
// transfer segments.
//
// Go's standard image/jpeg encoder only emits baseline sequential JPEG; it
// has no progressive mode, so Encode produces baseline bytes whatever mode
// the Splitter was constructed with. A Splitter constructed with
// progressive=true keeps only SOF2 frame headers, so the SOF0 segment of
// Encode's baseline output is not copied into its header; that mode is
// for progressive streams handed to SetRaw directly.
func (s *Splitter) Encode(img image.Image, quality int) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("jfif: encode failed: %w", err)
	}
	return s.SetRaw(buf.Bytes())
}

// SetRaw splits an already-encoded JPEG byte stream (baseline or
// progressive) into header/data segments, per the Splitter's configured
// mode.
func (s *Splitter) SetRaw(raw []byte) error {
	s.header = nil
	s.data = nil
	s.headerComplete = false

	r := bytes.NewReader(raw)
	for {
		b, err := r.ReadByte()
		if err != nil {
			break
		}
		if b != markerPrefix {
			continue
		}
		marker, err := r.ReadByte()
		if err != nil {
			break
		}

		switch {
		case marker == markerAPP0:
			appendTag(r, &s.header, marker)
		case marker == markerDQT:
			appendTag(r, &s.header, marker)
		case marker == markerSOF2 && s.progressive:
			appendTag(r, &s.header, marker)
		case marker == markerSOF0 && !s.progressive:
			appendTag(r, &s.header, marker)
		case marker == markerDHT && !s.progressive:
			appendTag(r, &s.header, marker)
		case marker == markerDHT && s.progressive:
			appendTag(r, &s.data, marker)
		case marker == markerSOS:
			appendSOS(r, &s.data)
		case marker == markerEOI:
			s.headerComplete = true
			return nil
		}
	}

	s.headerComplete = true
	return nil
}

func appendTag(r *bytes.Reader, dst *[]byte, marker byte) {
	var lenBytes [2]byte
	if _, err := r.Read(lenBytes[:]); err != nil {
		return
	}
	size := int(lenBytes[0])<<8 | int(lenBytes[1])
	body := make([]byte, size-2)
	_, _ = r.Read(body)

	*dst = append(*dst, markerPrefix, marker)
	*dst = append(*dst, lenBytes[:]...)
	*dst = append(*dst, body...)
}

func appendSOS(r *bytes.Reader, dst *[]byte) {
	*dst = append(*dst, markerPrefix, markerSOS)

	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		if b != markerPrefix {
			*dst = append(*dst, b)
			continue
		}

		marker, err := r.ReadByte()
		if err != nil {
			return
		}
		if marker == 0x00 {
			// 0xFF 0x00 is a literal 0xFF inside entropy-coded data; both
			// bytes are kept so the merged stream still decodes.
			*dst = append(*dst, markerPrefix, 0x00)
			continue
		}

		// A real marker: rewind both bytes so the caller's main scan
		// loop reads and classifies it itself.
		_, _ = r.Seek(-2, io.SeekCurrent)
		return
	}
}

// Header returns the accumulated header segment bytes.
func (s *Splitter) Header() []byte { return s.header }

// HeaderSize returns len(Header()).
func (s *Splitter) HeaderSize() int { return len(s.header) }

// Data returns the accumulated data segment bytes.
func (s *Splitter) Data() []byte { return s.data }

// DataSize returns len(Data()).
func (s *Splitter) DataSize() int { return len(s.data) }

// Reset clears both segments and the headerComplete flag, for reuse across
// transfers.
func (s *Splitter) Reset() {
	s.header = nil
	s.data = nil
	s.headerComplete = false
}

// AddHeader appends a received header segment. headerComplete, when true,
// marks the header as finished in the same call (used when a single
// packet carries the whole header).
func (s *Splitter) AddHeader(b []byte, headerComplete bool) {
	s.header = append(s.header, b...)
	s.headerComplete = headerComplete
}

// HeaderFinish marks the header segment as complete.
func (s *Splitter) HeaderFinish() {
	s.headerComplete = true
}

// AddData appends a received data segment.
func (s *Splitter) AddData(b []byte) {
	s.data = append(s.data, b...)
}

// GetImage reassembles FF D8 <header> <data> FF D9 and attempts to decode
// it. It returns (nil, nil) — not an error — if the header is not yet
// complete or the bytes collected so far do not yet decode, mirroring the
// original splitter's best-effort try/except-returns-None behaviour: a
// partial progressive stream is an expected, common case, not a fault.
func (s *Splitter) GetImage() (image.Image, error) {
	if !s.headerComplete {
		return nil, nil
	}

	merged := s.merge()
	img, err := jpeg.Decode(bytes.NewReader(merged))
	if err != nil {
		return nil, nil
	}
	return img, nil
}

func (s *Splitter) merge() []byte {
	out := make([]byte, 0, 4+len(s.header)+len(s.data))
	out = append(out, markerPrefix, markerSOI)
	out = append(out, s.header...)
	out = append(out, s.data...)
	out = append(out, markerPrefix, markerEOI)
	return out
}
