// Package pack implements the fixed-layout header/footer packet codec used
// on the wire between the host and the acoustic modem.
package pack

import (
	"fmt"
	"strings"
)

const (
	headerLen = 6
	footerLen = 6
)

// Ack status values, carried in Header.Status.
const (
	AckNone  byte = 0
	AckPlain byte = 1
	AckRange byte = 2
)

// MM_TYPE_ACK and MM_ADDR_BCAST are the reserved type/address values used
// throughout the command catalog.
const (
	TypeAck   byte = 0xFF
	AddrBcast byte = 0xFF
)

// Header is the fixed 6-byte packet header: src, dst, type, status, dsn, len.
type Header struct {
	Src    byte
	Dst    byte
	Type   byte
	Status byte
	Dsn    byte
	Len    byte
}

// Footer carries the optional link-quality trailer attached to data packets.
type Footer struct {
	Power     byte
	Rssi      byte
	BitErrors byte
	AgcMean   byte
	AgcMin    byte
	AgcMax    byte
}

// Packet is a header, payload and an optional footer.
type Packet struct {
	Header  Header
	Payload []byte
	Footer  *Footer
}

// HasFooter reports whether a data packet carries a footer. Command packets
// (type >= 0x80) never carry one.
func (p Packet) HasFooter() bool {
	return p.Footer != nil
}

// IsCmd reports whether the packet's type marks it as a command packet.
func (p Packet) IsCmd() bool {
	return p.Header.Type >= 0x80
}

// Make builds a fresh outgoing packet with no footer, with every header
// field taken from the arguments and Len set to len(payload).
func Make(src, dst, typ, ack, dsn byte, payload []byte) Packet {
	return Packet{
		Header: Header{
			Src:    src,
			Dst:    dst,
			Type:   typ,
			Status: ack,
			Dsn:    dsn,
			Len:    byte(len(payload)),
		},
		Payload: payload,
	}
}

// Marshal serializes a packet to its wire bytes: header, payload, and the
// footer if present.
func Marshal(p Packet) []byte {
	out := make([]byte, 0, headerLen+len(p.Payload)+footerLen)
	out = append(out, p.Header.Src, p.Header.Dst, p.Header.Type, p.Header.Status, p.Header.Dsn, p.Header.Len)
	out = append(out, p.Payload...)
	if p.HasFooter() {
		f := p.Footer
		out = append(out, f.Power, f.Rssi, f.BitErrors, f.AgcMean, f.AgcMin, f.AgcMax)
	}
	return out
}

// Unmarshal decodes a packet from wire bytes. A footer is only parsed when
// the header's type indicates a data packet (< 0x80); for such packets the
// remaining byte count after the payload MUST be exactly 0 or footerLen —
// any other residue is a malformed frame and is rejected, unlike the source
// library this was ported from, which silently tolerates and discards it.
func Unmarshal(raw []byte) (Packet, error) {
	if len(raw) < headerLen {
		return Packet{}, fmt.Errorf("pack: short packet, got %d bytes, need at least %d", len(raw), headerLen)
	}

	h := Header{
		Src:    raw[0],
		Dst:    raw[1],
		Type:   raw[2],
		Status: raw[3],
		Dsn:    raw[4],
		Len:    raw[5],
	}

	paylen := int(h.Len)
	if headerLen+paylen > len(raw) {
		return Packet{}, fmt.Errorf("pack: header declares payload length %d but only %d bytes remain", paylen, len(raw)-headerLen)
	}
	payload := raw[headerLen : headerLen+paylen]

	var footer *Footer
	remaining := len(raw) - headerLen - paylen
	if h.Type < 0x80 {
		switch remaining {
		case 0:
			// no footer
		case footerLen:
			fb := raw[headerLen+paylen:]
			footer = &Footer{
				Power:     fb[0],
				Rssi:      fb[1],
				BitErrors: fb[2],
				AgcMean:   fb[3],
				AgcMin:    fb[4],
				AgcMax:    fb[5],
			}
		default:
			return Packet{}, fmt.Errorf("pack: data packet has %d trailing bytes, want 0 or %d (footer)", remaining, footerLen)
		}
	} else if remaining != 0 {
		return Packet{}, fmt.Errorf("pack: command packet has %d unexpected trailing bytes", remaining)
	}

	return Packet{Header: h, Payload: payload, Footer: footer}, nil
}

// HexString renders the packet's wire bytes as space-separated upper-case
// hex pairs, matching the format the on-disk packet log and CLI tools print.
func HexString(p Packet) string {
	raw := Marshal(p)
	var sb strings.Builder
	for _, b := range raw {
		fmt.Fprintf(&sb, "%02X ", b)
	}
	return sb.String()
}
