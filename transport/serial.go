package transport

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/term"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/framer"
	"github.com/tuhh-eit/ahoi-modem/pack"
)

const (
	serialBaud        = 115200
	serialTxDelay     = 100 * time.Millisecond
	serialReadTimeout = 100 * time.Millisecond
)

// Serial is the Transport variant talking to the modem over a tty at
// 115200 8N1. disconnect/reconnect release the port for firmware flashing
// without tearing down the whole transport.
type Serial struct {
	dev    string
	logger *applog.Logger

	mu        sync.Mutex
	fd        *term.Term
	cb        RxCallback
	log       *applog.PacketLog
	keepAlive bool
	closed    bool
}

// NewSerial constructs a Serial transport for the given tty path.
func NewSerial(dev string, logger *applog.Logger) *Serial {
	return &Serial{dev: dev, logger: logger}
}

// Device returns the tty path this transport was constructed for.
func (s *Serial) Device() string {
	return s.dev
}

// Connect opens the serial port in raw mode at 115200 8N1.
func (s *Serial) Connect(cb RxCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := term.Open(s.dev, term.RawMode)
	if err != nil {
		return fmt.Errorf("transport: cannot open serial port %s: %w", s.dev, err)
	}
	if err := fd.SetSpeed(serialBaud); err != nil {
		fd.Close()
		return fmt.Errorf("transport: cannot set speed on %s: %w", s.dev, err)
	}
	if err := setReadTimeout(fd); err != nil {
		fd.Close()
		return fmt.Errorf("transport: cannot set read timeout on %s: %w", s.dev, err)
	}

	s.fd = fd
	s.cb = cb
	if s.logger != nil {
		s.logger.Info("serial connected", "device", s.dev)
	}
	return nil
}

// AttachLog wires a PacketLog so every decoded frame is recorded.
func (s *Serial) AttachLog(l *applog.PacketLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = l
}

// Disconnect releases the port while keeping the transport alive, so
// Receive does not treat the resulting read errors as a real link loss.
// Used to free the device for external firmware flashing.
func (s *Serial) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepAlive = true
	if s.fd != nil {
		s.fd.Close()
		s.fd = nil
	}
}

// Reconnect reopens the port after Disconnect.
func (s *Serial) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := term.Open(s.dev, term.RawMode)
	if err != nil {
		return fmt.Errorf("transport: cannot reopen serial port %s: %w", s.dev, err)
	}
	if err := fd.SetSpeed(serialBaud); err != nil {
		fd.Close()
		return fmt.Errorf("transport: cannot set speed on %s: %w", s.dev, err)
	}
	if err := setReadTimeout(fd); err != nil {
		fd.Close()
		return fmt.Errorf("transport: cannot set read timeout on %s: %w", s.dev, err)
	}
	s.fd = fd
	s.keepAlive = false
	return nil
}

// setReadTimeout configures the termios VTIME/VMIN pair so a Read call
// blocks for at most serialReadTimeout waiting for the first byte, rather
// than indefinitely. VTIME is measured in deciseconds.
func setReadTimeout(fd *term.Term) error {
	if err := fd.SetVMin(0); err != nil {
		return err
	}
	return fd.SetVTime(byte(serialReadTimeout / (100 * time.Millisecond)))
}

// Send frames and writes pkt, then sleeps the transmit-spacing delay.
func (s *Serial) Send(p pack.Packet) error {
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()

	if fd == nil {
		return ErrClosed
	}

	tx := framer.Encode(pack.Marshal(p))
	n, err := fd.Write(tx)
	if err != nil || n != len(tx) {
		return fmt.Errorf("transport: serial write failed: %w", err)
	}

	time.Sleep(serialTxDelay)
	return nil
}

// Receive loops reading one byte at a time (the port's 100ms read timeout
// makes this non-busy) and pushes bytes through the framer until the
// transport is closed.
func (s *Serial) Receive() {
	dec := framer.NewDecoder()

	for {
		s.mu.Lock()
		fd := s.fd
		closed := s.closed
		keepAlive := s.keepAlive
		cb := s.cb
		log := s.log
		s.mu.Unlock()

		if closed {
			return
		}
		if fd == nil {
			if keepAlive {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return
		}

		buf := make([]byte, 1)
		n, err := fd.Read(buf)
		if err != nil || n != 1 {
			if keepAlive {
				continue
			}
			if err == nil && n == 0 {
				// VTIME read timeout with nothing to report; poll again.
				continue
			}
			if s.logger != nil {
				s.logger.Warn("serial receive error, ending receive loop", "device", s.dev, "err", err)
			}
			return
		}

		decodeLoop(dec, log, nowSeconds, cb, buf[0])
	}
}

// Close shuts the port and unblocks any in-progress Receive.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.fd != nil {
		s.fd.Close()
		s.fd = nil
	}
	return nil
}

// ScanSerial lists candidate serial device paths. The original library
// shells out to pyserial's comports(); the standard Go ecosystem has no
// portable port-enumeration package in this corpus, so callers on Linux
// pass known /dev/tty* globs instead — see cmd/ahoi-modem for how it
// combines this with user selection.
func ScanSerial(candidates []string) []string {
	out := append([]string(nil), candidates...)
	sort.Strings(out)
	return out
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
