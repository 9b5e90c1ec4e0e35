package framer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func feed(d *Decoder, b []byte) [][]byte {
	var frames [][]byte
	for _, x := range b {
		if f, ok := d.Push(x); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestEncodeDecodeSimpleFrame(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	encoded := Encode(payload)

	d := NewDecoder()
	frames := feed(d, encoded)

	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestEncodeStuffsEmbeddedDLE(t *testing.T) {
	payload := []byte{0x10, 0xAA}
	encoded := Encode(payload)

	// DLE STX, 0x10 0x10 (stuffed), 0xAA, DLE ETX
	assert.Equal(t, []byte{dle, stx, 0x10, 0x10, 0xAA, dle, etx}, encoded)
}

func TestDecoderAbortsOnProtocolViolation(t *testing.T) {
	d := NewDecoder()

	// Start a frame, feed garbage that isn't STX/ETX/DLE-stuff, then a
	// clean frame should still decode afterwards.
	garbage := []byte{dle, stx, 0xFF, dle, 0x99}
	good := Encode([]byte{7, 8, 9})

	frames := feed(d, append(garbage, good...))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{7, 8, 9}, frames[0])
}

func TestDecoderHandlesBackToBackFrames(t *testing.T) {
	d := NewDecoder()
	all := append(Encode([]byte{1}), Encode([]byte{2, 3})...)

	frames := feed(d, all)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{1}, frames[0])
	assert.Equal(t, []byte{2, 3}, frames[1])
}

// Decode(Encode(b)) must always reproduce b, for any byte slice.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOf(rapid.Byte()).Draw(t, "in")

		encoded := Encode(in)
		require.GreaterOrEqual(t, len(encoded), 4, "frame must have start and end markers")
		assert.Equal(t, []byte{dle, stx}, encoded[:2])
		assert.Equal(t, []byte{dle, etx}, encoded[len(encoded)-2:])

		d := NewDecoder()
		frames := feed(d, encoded)
		require.Len(t, frames, 1)
		assert.Equal(t, in, frames[0])
	})
}
