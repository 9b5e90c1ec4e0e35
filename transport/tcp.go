package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brutella/dnssd"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/framer"
	"github.com/tuhh-eit/ahoi-modem/pack"
)

// DefaultPort is the default ahoi TCP transport port.
const DefaultPort = 2464

const (
	tcpClientTimeout = 1 * time.Second
	tcpServerTimeout = 1 * time.Second
)

const dnsSDServiceType = "_ahoi-modem._tcp"

// TCP is the Transport variant speaking the wire protocol over a TCP
// socket, in either client or server mode.
type TCP struct {
	host       string
	port       int
	serverMode bool
	announce   bool
	logger     *applog.Logger

	mu         sync.Mutex
	listener   net.Listener
	conn       net.Conn
	cb         RxCallback
	log        *applog.PacketLog
	forceClose bool
}

// NewTCPClient constructs a TCP transport that connects out to host:port.
func NewTCPClient(host string, port int, logger *applog.Logger) *TCP {
	if port <= 0 {
		port = DefaultPort
	}
	return &TCP{host: host, port: port, logger: logger}
}

// NewTCPServer constructs a TCP transport that listens on port, optionally
// announcing itself via DNS-SD so clients can find it without knowing the
// host address in advance.
func NewTCPServer(port int, announce bool, logger *applog.Logger) *TCP {
	if port <= 0 {
		port = DefaultPort
	}
	return &TCP{port: port, serverMode: true, announce: announce, logger: logger}
}

// AttachLog wires a PacketLog so every decoded frame is recorded.
func (t *TCP) AttachLog(l *applog.PacketLog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = l
}

// Connect either binds+listens (server mode) or dials out (client mode).
func (t *TCP) Connect(cb RxCallback) error {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()

	if t.serverMode {
		return t.startServer()
	}
	return t.dial()
}

func (t *TCP) dial() error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	conn, err := net.DialTimeout("tcp", addr, tcpClientTimeout)
	if err != nil {
		return fmt.Errorf("transport: cannot connect to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("tcp client connected", "addr", addr)
	}
	return nil
}

func (t *TCP) startServer() error {
	host := t.host
	if host == "" {
		host = localIPv4()
	}
	addr := fmt.Sprintf("%s:%d", host, t.port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: cannot listen on %s: %w", addr, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("tcp server listening", "addr", addr)
	}

	if t.announce {
		t.announceDNSSD()
	}

	return nil
}

func (t *TCP) announceDNSSD() {
	cfg := dnssd.Config{ //nolint:exhaustruct
		Name: fmt.Sprintf("ahoi-modem-%d", t.port),
		Type: dnsSDServiceType,
		Port: t.port,
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		if t.logger != nil {
			t.logger.Error("dns-sd: failed to create service", "err", err)
		}
		return
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		if t.logger != nil {
			t.logger.Error("dns-sd: failed to create responder", "err", err)
		}
		return
	}

	if _, err := rp.Add(sv); err != nil {
		if t.logger != nil {
			t.logger.Error("dns-sd: failed to add service", "err", err)
		}
		return
	}

	go func() {
		if err := rp.Respond(context.Background()); err != nil && t.logger != nil {
			t.logger.Error("dns-sd: responder stopped", "err", err)
		}
	}()
}

// Send writes the framed packet to the current connection.
func (t *TCP) Send(p pack.Packet) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrClosed
	}

	tx := framer.Encode(pack.Marshal(p))
	if _, err := conn.Write(tx); err != nil {
		return fmt.Errorf("transport: tcp write failed: %w", err)
	}
	return nil
}

// Receive loops: in server mode, repeatedly accepts a connection and
// services it until the peer disconnects, then accepts again; in client
// mode, services the single outbound connection. Both modes poll with a
// 1s timeout so Close's force-close flag is observed promptly.
func (t *TCP) Receive() {
	dec := framer.NewDecoder()

	for {
		t.mu.Lock()
		forceClose := t.forceClose
		t.mu.Unlock()
		if forceClose {
			return
		}

		conn := t.currentConn()
		if conn == nil {
			if !t.serverMode {
				return
			}
			conn = t.acceptOne()
			if conn == nil {
				continue
			}
		}

		t.serviceConn(dec, conn)

		if !t.serverMode {
			return
		}
	}
}

func (t *TCP) currentConn() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *TCP) acceptOne() net.Conn {
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln == nil {
		return nil
	}

	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(tcpServerTimeout))
	}

	conn, err := ln.Accept()
	if err != nil {
		return nil
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("tcp connection accepted", "remote", conn.RemoteAddr())
	}
	return conn
}

func (t *TCP) serviceConn(dec *framer.Decoder, conn net.Conn) {
	buf := make([]byte, 1)
	for {
		t.mu.Lock()
		forceClose := t.forceClose
		cb := t.cb
		log := t.log
		t.mu.Unlock()
		if forceClose {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(tcpServerTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			break
		}
		if n != 1 {
			continue
		}

		decodeLoop(dec, log, nowSeconds, cb, buf[0])
	}

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
}

// Close shuts the listener/connection and unblocks Receive.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.forceClose = true
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.listener != nil {
		t.listener.Close()
		t.listener = nil
	}
	return nil
}

func localIPv4() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// ScanTCP probes host addresses baseIP.lo through baseIP.hi on port with a
// short per-host connect timeout, fanning the probes out over a bounded
// worker pool but always returning reachable hosts sorted by IP, so the
// result is deterministic regardless of which probe finished first.
func ScanTCP(baseIP string, lo, hi int, port int, timeout time.Duration) []string {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	type result struct {
		ip string
		ok bool
	}

	n := hi - lo + 1
	results := make([]result, n)

	const maxWorkers = 32
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		host := fmt.Sprintf("%s.%d", baseIP, lo+i)
		idx := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
			if err != nil {
				results[idx] = result{ip: host, ok: false}
				return
			}
			conn.Close()
			results[idx] = result{ip: host, ok: true}
		}()
	}
	wg.Wait()

	// results is indexed by host number, so this walk is already in
	// ascending IP order (a string sort would put ".10" before ".2").
	var reachable []string
	for _, r := range results {
		if r.ok {
			reachable = append(reachable, r.ip)
		}
	}
	return reachable
}
