// Package transport implements the byte-pipe abstraction the modem driver
// talks over: a serial UART link to the modem board, or a TCP link acting
// as client or server.
package transport

import (
	"errors"
	"fmt"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/framer"
	"github.com/tuhh-eit/ahoi-modem/pack"
)

// ErrClosed is returned by Send when the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// RxCallback receives one decoded packet at a time, on the transport's
// receive goroutine.
type RxCallback func(pack.Packet)

// Transport is a polymorphic byte pipe: Serial and TCP both implement it.
type Transport interface {
	// Connect opens the underlying link and registers cb for decoded
	// packets.
	Connect(cb RxCallback) error
	// Send frames and writes one packet.
	Send(p pack.Packet) error
	// Receive runs the blocking read loop, feeding bytes through the
	// framer and packet codec until the transport is closed. It returns
	// when the loop exits.
	Receive()
	// Close releases the underlying link, unblocking any in-progress
	// Receive within one poll interval.
	Close() error
}

// decodeLoop feeds raw bytes through a framer.Decoder, decodes completed
// frames into packets, logs them, and invokes cb. Shared by Serial and TCP.
func decodeLoop(dec *framer.Decoder, log *applog.PacketLog, nowSeconds func() float64, cb RxCallback, b byte) {
	frame, ok := dec.Push(b)
	if !ok {
		return
	}

	p, err := pack.Unmarshal(frame)
	if err != nil {
		// Malformed packet: drop the frame, invoke no listener.
		return
	}

	if log != nil {
		_ = log.Write(nowSeconds(), pack.HexString(p))
	}

	if cb != nil {
		cb(p)
	}
}

// Dial parses a connection-string and constructs the matching transport
// variant: "tcp@<host>[:<port>]" selects TCP client mode, anything else is
// treated as a serial device path. An empty spec is not resolved here;
// callers wanting interactive scan/select should call ScanSerial or
// ScanTCP themselves and prompt the user (see cmd/ahoi-modem).
func Dial(spec string, logger *applog.Logger) (Transport, error) {
	if host, port, ok := parseTCPSpec(spec); ok {
		return NewTCPClient(host, port, logger), nil
	}
	if spec == "" {
		return nil, fmt.Errorf("transport: empty connection string, caller must scan and select")
	}
	return NewSerial(spec, logger), nil
}

const tcpPrefix = "tcp@"

func parseTCPSpec(spec string) (host string, port int, ok bool) {
	if len(spec) < len(tcpPrefix) || spec[:len(tcpPrefix)] != tcpPrefix {
		return "", 0, false
	}
	rest := spec[len(tcpPrefix):]
	host = rest
	port = DefaultPort
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			host = rest[:i]
			var p int
			fmt.Sscanf(rest[i+1:], "%d", &p)
			if p > 0 {
				port = p
			}
			break
		}
	}
	return host, port, true
}
