// Package modem implements the host-side driver for the acoustic modem:
// sequence-number management, listener dispatch, optional blocking
// wait-for-reply, and the full command catalog.
package modem

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/pack"
	"github.com/tuhh-eit/ahoi-modem/transport"
)

// MaxPeakWinLen is the largest accepted peak detection window, in
// microseconds.
const MaxPeakWinLen = 640

// ErrNoReply is returned by a blocking send when no packet arrives before
// the configured timeout.
var ErrNoReply = errors.New("modem: timed out waiting for reply")

// ErrInvalidArgument flags a command whose arguments fail the modem's own
// validation rules (e.g. peakWinLen above MaxPeakWinLen).
var ErrInvalidArgument = errors.New("modem: invalid argument")

// Handler receives every decoded packet, in registration order, on the
// transport's receive goroutine.
type Handler interface {
	HandlePkt(p pack.Packet)
}

// RawCallback is the function-pointer counterpart to Handler.
type RawCallback func(p pack.Packet)

// CallbackToken identifies a registered RawCallback for later removal.
type CallbackToken int

// Modem drives one Transport and one logical session.
type Modem struct {
	logger *applog.Logger

	mu       sync.Mutex
	tp       transport.Transport
	timeout  time.Duration
	blocking bool
	seq      byte
	echoTx   bool
	echoRx   bool
	waitResp bool

	nextToken CallbackToken
	callbacks map[CallbackToken]RawCallback
	handlers  []Handler

	pktLog *applog.PacketLog
}

// New constructs a Modem with the spec's default 1s command timeout.
func New(logger *applog.Logger) *Modem {
	return &Modem{
		logger:    logger,
		timeout:   1 * time.Second,
		callbacks: make(map[CallbackToken]RawCallback),
	}
}

// Connect attaches tp as this modem's transport and starts feeding decoded
// packets to receivePacket.
func (m *Modem) Connect(tp transport.Transport) error {
	m.mu.Lock()
	m.tp = tp
	m.mu.Unlock()

	return tp.Connect(m.receivePacket)
}

// SetModeBlocking toggles whether Send on a command packet waits for any
// reply before returning.
func (m *Modem) SetModeBlocking(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocking = block
}

// SetTimeout overrides the default 1s blocking-wait timeout.
func (m *Modem) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// SetTxEcho toggles printing "TX@<ts> <hex>" diagnostics for every send.
func (m *Modem) SetTxEcho(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echoTx = on
}

// SetRxEcho toggles printing "RX@<ts> <hex> (<ascii>)" diagnostics for
// every receive.
func (m *Modem) SetRxEcho(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echoRx = on
}

// AddRxCallback registers a raw callback, invoked on every received packet
// after all existing callbacks and before handlers, in registration order.
// The returned token can be passed to RemoveRxCallback.
func (m *Modem) AddRxCallback(cb RawCallback) CallbackToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.nextToken
	m.nextToken++
	m.callbacks[t] = cb
	return t
}

// RemoveRxCallback unregisters a callback previously added with
// AddRxCallback.
func (m *Modem) RemoveRxCallback(t CallbackToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, t)
}

// AddRxHandler registers a Handler, invoked after all raw callbacks.
func (m *Modem) AddRxHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// RemoveRxHandler unregisters a Handler previously added with
// AddRxHandler, matched by identity.
func (m *Modem) RemoveRxHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.handlers {
		if existing == h {
			m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
			return
		}
	}
}

// Receive runs the transport's blocking receive loop inline. Call it in
// its own goroutine for non-blocking operation, mirroring the original
// library's `receive(thread=True)`.
func (m *Modem) Receive() {
	m.mu.Lock()
	tp := m.tp
	m.mu.Unlock()
	if tp == nil {
		return
	}
	tp.Receive()
}

// Close releases the transport and the packet log.
func (m *Modem) Close() error {
	m.mu.Lock()
	tp := m.tp
	pl := m.pktLog
	m.pktLog = nil
	m.mu.Unlock()

	var err error
	if tp != nil {
		err = tp.Close()
	}
	if pl != nil {
		if closeErr := pl.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// LogOn turns packet logging on, writing to fileName (or an automatically
// chosen unique sibling if it already exists).
func (m *Modem) LogOn(fileName string) error {
	pl, err := applog.OpenPacketLog(fileName)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("failed to open packet log", "file", fileName, "err", err)
		}
		return err
	}

	m.mu.Lock()
	m.pktLog = pl
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("logging to file", "file", pl.Name())
	}
	return nil
}

// LogOff turns packet logging off.
func (m *Modem) LogOff() {
	m.mu.Lock()
	pl := m.pktLog
	m.pktLog = nil
	m.mu.Unlock()

	if pl != nil {
		_ = pl.Close()
	}
}

func (m *Modem) receivePacket(p pack.Packet) {
	m.mu.Lock()
	echoRx := m.echoRx
	pl := m.pktLog
	m.waitResp = false // any received packet unblocks a pending wait
	// Tokens are handed out in increasing order, so sorting them restores
	// registration order, which map iteration does not preserve.
	tokens := make([]CallbackToken, 0, len(m.callbacks))
	for t := range m.callbacks {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	callbacks := make([]RawCallback, 0, len(tokens))
	for _, t := range tokens {
		callbacks = append(callbacks, m.callbacks[t])
	}
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	if echoRx {
		printRxRaw(p)
	}
	if pl != nil {
		_ = pl.Write(nowSeconds(), pack.HexString(p))
	}

	for _, cb := range callbacks {
		m.dispatchSafely(func() { cb(p) })
	}
	for _, h := range handlers {
		m.dispatchSafely(func() { h.HandlePkt(p) })
	}
}

// dispatchSafely runs fn and recovers any panic so one misbehaving
// listener cannot kill the receive goroutine.
func (m *Modem) dispatchSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("listener panicked", "recovered", r)
		}
	}()
	fn()
}

func printRxRaw(p pack.Packet) {
	fmt.Printf("\nRX@%.3f %s(%s)\n", nowSeconds(), pack.HexString(p), printableASCII(p.Payload))
}

func printableASCII(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			out = append(out, c)
		}
	}
	return string(out)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Send builds and transmits a packet. If dsn is nil, the session's wrapping
// sequence counter is used. The returned error is nil on a successful
// transmit (and, for a blocking command send, a reply observed within the
// timeout); it is ErrNoReply on a blocking timeout and a wrapped transport
// error on a write failure — always a single, total result, unlike the
// original library's hard-coded non-ACK-branch return.
func (m *Modem) Send(src, dst, typ byte, payload []byte, status byte, dsn *byte) error {
	m.mu.Lock()
	seq := m.seq
	m.mu.Unlock()

	d := seq
	if dsn != nil {
		d = *dsn
	}

	p := pack.Make(src, dst, typ, status, d, payload)
	return m.sendPacket(p)
}

func (m *Modem) sendPacket(p pack.Packet) error {
	m.mu.Lock()
	echoTx := m.echoTx
	tp := m.tp
	blocking := m.blocking
	timeout := m.timeout
	m.mu.Unlock()

	if echoTx {
		fmt.Printf("TX@%.3f %s\n", nowSeconds(), pack.HexString(p))
	}

	if tp == nil {
		return fmt.Errorf("modem: not connected")
	}
	if err := tp.Send(p); err != nil {
		return fmt.Errorf("modem: send failed: %w", err)
	}

	m.mu.Lock()
	m.seq = byte((int(m.seq) + 1) % 256)
	m.mu.Unlock()

	if blocking && p.IsCmd() {
		m.mu.Lock()
		m.waitResp = true
		m.mu.Unlock()

		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
			m.mu.Lock()
			waiting := m.waitResp
			m.mu.Unlock()
			if !waiting {
				return nil
			}
		}

		m.mu.Lock()
		stillWaiting := m.waitResp
		m.mu.Unlock()
		if stillWaiting {
			return ErrNoReply
		}
	}

	return nil
}
