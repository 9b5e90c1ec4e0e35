package transport

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuhh-eit/ahoi-modem/framer"
	"github.com/tuhh-eit/ahoi-modem/pack"
)

// TestSerialDecodeLoopOverPTY exercises the byte-by-byte decode path that
// Serial.Receive uses, over a real pseudo-terminal pair standing in for a
// modem, without going through term.Open (which needs a registered tty
// device path rather than a pty slave name on every platform).
func TestSerialDecodeLoopOverPTY(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	p := pack.Make(3, 4, 0x80, pack.AckNone, 1, nil)
	framed := framer.Encode(pack.Marshal(p))

	go func() {
		_, _ = master.Write(framed)
	}()

	dec := framer.NewDecoder()
	received := make(chan pack.Packet, 1)

	buf := make([]byte, 1)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		slave.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := slave.Read(buf)
		if err != nil || n != 1 {
			continue
		}
		decodeLoop(dec, nil, nowSeconds, func(pkt pack.Packet) { received <- pkt }, buf[0])
		select {
		case got := <-received:
			assert.Equal(t, p.Header, got.Header)
			return
		default:
		}
	}
	t.Fatal("timed out waiting for decoded packet")
}

func TestScanSerialSortsCandidates(t *testing.T) {
	out := ScanSerial([]string{"/dev/ttyUSB1", "/dev/ttyUSB0"})
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, out)
}
