package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuhh-eit/ahoi-modem/pack"
)

func TestTCPClientServerRoundTrip(t *testing.T) {
	srv := NewTCPServer(0, false, nil)
	require.NoError(t, srv.startServer())
	defer srv.Close()

	addr := srv.listener.Addr().(*net.TCPAddr)

	received := make(chan pack.Packet, 1)
	go srv.Receive()

	cli := NewTCPClient(addr.IP.String(), addr.Port, nil)
	require.NoError(t, cli.Connect(func(p pack.Packet) { received <- p }))
	defer cli.Close()
	go cli.Receive()

	time.Sleep(50 * time.Millisecond) // let the server accept the connection

	// Server also needs a receive callback wired to see the client's send
	// in the opposite direction; here we just verify client->server.
	srv.mu.Lock()
	srv.cb = func(p pack.Packet) { received <- p }
	srv.mu.Unlock()

	p := pack.Make(1, 2, 0x80, pack.AckNone, 0, nil)
	require.NoError(t, cli.Send(p))

	select {
	case got := <-received:
		assert.Equal(t, p.Header, got.Header)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestParseTCPSpec(t *testing.T) {
	host, port, ok := parseTCPSpec("tcp@192.168.1.5:1234")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.5", host)
	assert.Equal(t, 1234, port)

	host, port, ok = parseTCPSpec("tcp@modem.local")
	require.True(t, ok)
	assert.Equal(t, "modem.local", host)
	assert.Equal(t, DefaultPort, port)

	_, _, ok = parseTCPSpec("/dev/ttyUSB0")
	assert.False(t, ok)
}

func TestScanTCPReturnsSortedReachableHosts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	hosts := ScanTCP("127.0.0", 1, 1, port, 200*time.Millisecond)
	assert.Equal(t, []string{"127.0.0.1"}, hosts)
}
