package pack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMakeHasNoFooter(t *testing.T) {
	p := Make(1, 2, 0x01, AckPlain, 7, []byte{0xAA, 0xBB})

	assert.False(t, p.HasFooter())
	assert.False(t, p.IsCmd())
	assert.Equal(t, byte(2), p.Header.Len)
}

func TestMarshalUnmarshalDataPacketNoFooter(t *testing.T) {
	p := Make(10, 20, 0x01, AckNone, 3, []byte{1, 2, 3, 4})

	raw := Marshal(p)
	require.Len(t, raw, headerLen+4)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Header, got.Header)
	assert.Equal(t, p.Payload, got.Payload)
	assert.False(t, got.HasFooter())
}

func TestMarshalUnmarshalDataPacketWithFooter(t *testing.T) {
	p := Packet{
		Header:  Header{Src: 1, Dst: 2, Type: 0x01, Status: AckPlain, Dsn: 5, Len: 2},
		Payload: []byte{0x11, 0x22},
		Footer:  &Footer{Power: 1, Rssi: 2, BitErrors: 3, AgcMean: 4, AgcMin: 5, AgcMax: 6},
	}

	raw := Marshal(p)
	require.Len(t, raw, headerLen+2+footerLen)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	require.True(t, got.HasFooter())
	assert.Equal(t, *p.Footer, *got.Footer)
}

func TestUnmarshalCmdPacketNeverHasFooter(t *testing.T) {
	// type >= 0x80 marks a command packet, which decodes without a footer.
	// Trailing bytes after a command packet's payload are rejected instead
	// (see TestUnmarshalCmdPacketWithTrailingBytesErrors).
	raw := []byte{1, 2, 0x80, 0, 0, 0}
	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.True(t, got.IsCmd())
	assert.False(t, got.HasFooter())
}

func TestUnmarshalShortPacketErrors(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestUnmarshalTruncatedPayloadErrors(t *testing.T) {
	raw := []byte{1, 2, 0x01, 0, 0, 5, 0xAA} // declares 5 bytes payload, has 1
	_, err := Unmarshal(raw)
	require.Error(t, err)
}

func TestUnmarshalBadFooterResidueErrors(t *testing.T) {
	// Type < 0x80, payload len 2, but 3 trailing bytes: neither "no footer"
	// nor a full 6-byte footer, so this must be rejected rather than
	// silently dropping the extra bytes.
	raw := []byte{1, 2, 0x01, 0, 0, 2, 0x11, 0x22, 0xAA, 0xBB, 0xCC}
	_, err := Unmarshal(raw)
	require.Error(t, err)
}

func TestUnmarshalCmdPacketWithTrailingBytesErrors(t *testing.T) {
	raw := []byte{1, 2, 0x80, 0, 0, 0, 0xFF} // command packet, one unexpected trailing byte
	_, err := Unmarshal(raw)
	require.Error(t, err)
}

func TestHexStringFormat(t *testing.T) {
	p := Make(1, 2, 3, AckNone, 0, []byte{0xAB})
	s := HexString(p)
	assert.Contains(t, s, "AB ")
}

// Marshal/Unmarshal must round-trip for any data-packet header/payload
// combination, with or without a footer.
func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := rapid.Byte().Draw(t, "src")
		dst := rapid.Byte().Draw(t, "dst")
		typ := rapid.Uint8Range(0, 0x7F).Draw(t, "type") // data packet range
		status := rapid.Byte().Draw(t, "status")
		dsn := rapid.Byte().Draw(t, "dsn")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 200).Draw(t, "payload")
		withFooter := rapid.Bool().Draw(t, "withFooter")

		p := Packet{
			Header:  Header{Src: src, Dst: dst, Type: typ, Status: status, Dsn: dsn, Len: byte(len(payload))},
			Payload: payload,
		}
		if withFooter {
			p.Footer = &Footer{
				Power:     rapid.Byte().Draw(t, "power"),
				Rssi:      rapid.Byte().Draw(t, "rssi"),
				BitErrors: rapid.Byte().Draw(t, "bitErrors"),
				AgcMean:   rapid.Byte().Draw(t, "agcMean"),
				AgcMin:    rapid.Byte().Draw(t, "agcMin"),
				AgcMax:    rapid.Byte().Draw(t, "agcMax"),
			}
		}

		raw := Marshal(p)
		got, err := Unmarshal(raw)
		require.NoError(t, err)
		assert.Equal(t, p.Header, got.Header)
		assert.Equal(t, p.Payload, got.Payload)
		assert.Equal(t, p.HasFooter(), got.HasFooter())
		if p.HasFooter() {
			assert.Equal(t, *p.Footer, *got.Footer)
		}
	})
}
