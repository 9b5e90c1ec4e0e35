// Package framer implements the byte-stuffed link framing used to carry
// packets over a raw byte stream (serial or TCP): each frame is bracketed by
// DLE STX ... DLE ETX, with any in-frame DLE byte doubled.
package framer

const (
	dle byte = 0x10
	stx byte = 0x02
	etx byte = 0x03
)

// Decoder is a stateful byte-stuffing decoder. Feed it one byte at a time
// with Push; it reports a complete, unstuffed frame when one closes.
type Decoder struct {
	sawDLE  bool
	inFrame bool
	buf     []byte
}

// NewDecoder returns a Decoder ready to receive bytes.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Push feeds one received byte into the decoder's state machine. It returns
// a complete frame and true when b closes one; otherwise ok is false and
// frame is nil. A byte that breaks protocol while a frame is open silently
// aborts that frame and resets to the idle state, matching the original
// streamer's self-healing behaviour.
func (d *Decoder) Push(b byte) (frame []byte, ok bool) {
	if !d.sawDLE {
		switch {
		case b == dle:
			d.sawDLE = true
		case d.inFrame:
			d.buf = append(d.buf, b)
		}
		return nil, false
	}

	// Previous byte was DLE.
	switch {
	case b == stx && !d.inFrame:
		d.sawDLE = false
		d.inFrame = true

	case b == etx && d.inFrame:
		out := d.buf
		d.buf = nil
		d.inFrame = false
		d.sawDLE = false
		return out, true

	case b == dle && d.inFrame:
		// Stuffed DLE: the sender doubled a literal DLE byte.
		d.sawDLE = false
		d.buf = append(d.buf, b)

	case d.inFrame:
		// Protocol violation mid-frame: abort and resynchronize.
		d.buf = nil
		d.inFrame = false
		d.sawDLE = false
	}

	return nil, false
}

// Reset clears the decoder back to its idle state, discarding any
// in-progress frame.
func (d *Decoder) Reset() {
	d.sawDLE = false
	d.inFrame = false
	d.buf = nil
}

// Encode frames pktbytes for transmission, doubling any literal DLE byte
// and bracketing the result with DLE STX ... DLE ETX.
func Encode(pktbytes []byte) []byte {
	out := make([]byte, 0, len(pktbytes)+4)
	out = append(out, dle, stx)
	for _, b := range pktbytes {
		out = append(out, b)
		if b == dle {
			out = append(out, b)
		}
	}
	out = append(out, dle, etx)
	return out
}
