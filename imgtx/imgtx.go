// Package imgtx implements a stop-and-wait reliable image transfer
// protocol layered over a modem.Modem: a viewer requests an image, a
// camera-side session captures and streams it back as a sequence of JFIF
// segments, acknowledged one at a time.
package imgtx

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/jfif"
	"github.com/tuhh-eit/ahoi-modem/modem"
	"github.com/tuhh-eit/ahoi-modem/pack"
)

// On-air packet types.
const (
	TypeCmd     byte = 0x7A
	TypeData    byte = 0x7B
	TypeSoftAck byte = 0x7C
	TypeHardAck byte = 0x7F
)

// CMD sub-ops, carried as the first payload byte of a TypeCmd packet.
const (
	CmdCap   byte = 0x00
	CmdBegin byte = 0x01
	CmdEnd   byte = 0x02
)

// Status is the image-transfer session's state machine position.
type Status int

const (
	StatusIdle Status = iota
	StatusImageRequest
	StatusTxImage
	StatusRxImage
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusImageRequest:
		return "IMAGE_REQUEST"
	case StatusTxImage:
		return "TX_IMAGE"
	case StatusRxImage:
		return "RX_IMAGE"
	default:
		return "UNKNOWN"
	}
}

type ackState int

const (
	ackIdle ackState = iota
	ackWaiting
	ackReceived
	ackRetransmit
)

// Stats mirrors the peer-visible packet counters exchanged in CMD_END.
type Stats struct {
	RxPkt   int
	RxAck   int
	TxPkt   int
	TxAck   int
	Retrans int
}

// ErrAborted is returned by a reliable send that exhausted its
// retransmission budget without an ACK.
var ErrAborted = errors.New("imgtx: max retransmissions exceeded")

// Capture is the external, opaque collaborator that produces the image to
// transmit: an actual camera board, a test fixture, or anything else
// outside this package's concern.
type Capture func(size [2]int, flash bool) (image.Image, error)

// ProgressSink is the external, opaque GUI collaborator that displays
// transfer progress and incrementally-decoded previews.
type ProgressSink interface {
	UpdateBar(current, total int)
	ResetTimer()
	StartTimer()
	StopTimer()
	TimerValue() time.Duration
	UpdateImage(img image.Image)
	ResizeToImage(img image.Image)
	Close()
}

// Params configures one Session's transfer behaviour.
type Params struct {
	CamModemID         byte
	HardAck            bool
	PayloadLength      int
	AckTimeout         time.Duration
	NumRetransmissions int
	DefaultSize        [2]int
	DefaultQuality     byte
	Progressive        bool
	DefaultFlash       bool
}

// Session is the image-transfer engine, acting both as the camera side
// (responding to requests, transmitting) and the viewer side (issuing
// requests, receiving). It implements modem.Handler.
type Session struct {
	m       *modem.Modem
	params  Params
	capture Capture
	sink    ProgressSink
	logger  *applog.Logger

	mu          sync.Mutex
	status      Status
	ackState    ackState
	stats       Stats
	dstID       byte
	splitter    *jfif.Splitter
	numHeadPkt  int
	numDataPkt  int
	numRxImgPkt int
	reqSize     [2]int
	reqQuality  byte
	reqFlash    bool

	ackTimer *time.Timer
	watchdog *time.Timer

	runWorker  bool
	workerDone chan struct{}
}

// NewSession constructs a Session bound to m. capture may be nil on a
// viewer-only instance that never answers CMD_CAP requests.
func NewSession(m *modem.Modem, params Params, capture Capture, sink ProgressSink, logger *applog.Logger) *Session {
	s := &Session{
		m:        m,
		params:   params,
		capture:  capture,
		sink:     sink,
		logger:   logger,
		splitter: jfif.NewSplitter(params.Progressive),
		dstID:    0xFF,
		workerDone: make(chan struct{}),
	}
	return s
}

// Start registers the session as a modem handler and launches the
// background transmission worker.
func (s *Session) Start() {
	s.m.AddRxHandler(s)

	s.mu.Lock()
	s.runWorker = true
	s.mu.Unlock()

	go s.transmissionWorker()
}

// Close stops the background worker and releases any pending timers.
func (s *Session) Close() {
	s.mu.Lock()
	s.runWorker = false
	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.mu.Unlock()

	<-s.workerDone
}

// Status returns the session's current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stats returns a snapshot of this session's packet counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// HandlePkt implements modem.Handler.
func (s *Session) HandlePkt(p pack.Packet) {
	if p.Header.Status == pack.AckPlain && !s.params.HardAck {
		s.sendSoftAck()
	}
	if p.Header.Status == pack.AckPlain && s.params.HardAck {
		s.mu.Lock()
		s.stats.TxAck++
		s.mu.Unlock()
	}

	switch p.Header.Type {
	case TypeSoftAck, TypeHardAck:
		s.mu.Lock()
		s.stats.RxAck++
		s.ackState = ackReceived
		s.mu.Unlock()

	case TypeCmd:
		s.mu.Lock()
		s.stats.RxPkt++
		s.mu.Unlock()
		s.processCmd(p.Header.Src, p.Payload)

	case TypeData:
		s.mu.Lock()
		s.stats.RxPkt++
		rxImage := s.status == StatusRxImage
		s.mu.Unlock()
		if rxImage {
			s.processImagePayload(p.Header.Dsn, p.Payload)
		}
	}
}

func (s *Session) sendSoftAck() {
	if err := s.m.Send(0x00, pack.AddrBcast, TypeSoftAck, nil, pack.AckNone, nil); err != nil && s.logger != nil {
		s.logger.Warn("imgtx: failed to send soft ack", "err", err)
	}
	s.mu.Lock()
	s.stats.TxAck++
	s.mu.Unlock()
}

// sendReliable implements the stop-and-wait send procedure from the design:
// transmit, arm an ACK timer, poll ackState every 10ms, retransmit on
// expiry, and give up with ErrAborted once NumRetransmissions transmissions
// (the first one included) have all gone unacknowledged.
func (s *Session) sendReliable(dst byte, payload []byte, typ byte, status byte, dsn byte) error {
	if err := s.transmitOnce(dst, payload, typ, status, dsn); err != nil {
		return err
	}

	if status != pack.AckPlain {
		return nil
	}

	s.mu.Lock()
	s.ackState = ackWaiting
	s.mu.Unlock()
	s.armAckTimer()

	attempts := 1
	for {
		time.Sleep(10 * time.Millisecond)

		s.mu.Lock()
		st := s.ackState
		s.mu.Unlock()

		switch st {
		case ackReceived:
			s.cancelAckTimer()
			return nil

		case ackRetransmit:
			if attempts == s.params.NumRetransmissions {
				return ErrAborted
			}
			if err := s.transmitOnce(dst, payload, typ, status, dsn); err != nil {
				return err
			}
			s.mu.Lock()
			s.stats.Retrans++
			s.ackState = ackWaiting
			s.mu.Unlock()
			attempts++
			s.armAckTimer()
		}
	}
}

func (s *Session) transmitOnce(dst byte, payload []byte, typ byte, status byte, dsn byte) error {
	if err := s.m.Send(0x00, dst, typ, payload, status, &dsn); err != nil {
		return fmt.Errorf("imgtx: send failed: %w", err)
	}
	s.mu.Lock()
	s.stats.TxPkt++
	s.mu.Unlock()
	return nil
}

func (s *Session) armAckTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackTimer != nil {
		s.ackTimer.Stop()
	}
	s.ackTimer = time.AfterFunc(s.params.AckTimeout, func() {
		s.mu.Lock()
		s.ackState = ackRetransmit
		s.mu.Unlock()
	})
}

func (s *Session) cancelAckTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
}

// watchdogDuration is ackTimeout * (numRetransmissions+1) + 1s, per the
// design's receive watchdog formula.
func (s *Session) watchdogDuration() time.Duration {
	return time.Duration(float64(s.params.AckTimeout)*float64(s.params.NumRetransmissions+1)) + time.Second
}

func (s *Session) armWatchdog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.watchdogDuration(), s.onReceiveTimeout)
}

func (s *Session) cancelWatchdog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Session) onReceiveTimeout() {
	s.setStatus(StatusIdle)
	if s.logger != nil {
		s.logger.Warn("imgtx: receive timeout")
	}
	s.finishReceiving(Stats{})
}

func (s *Session) processCmd(src byte, payload []byte) {
	if len(payload) == 0 {
		return
	}

	switch payload[0] {
	case CmdCap:
		req, err := decodeCmdCap(payload)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.reqSize = req.size
		s.reqQuality = req.quality
		s.reqFlash = req.flash
		s.dstID = src
		if !s.params.HardAck {
			s.dstID = pack.AddrBcast
		}
		s.mu.Unlock()
		s.setStatus(StatusImageRequest)

	case CmdBegin:
		numHead, numData, err := decodeCmdBegin(payload)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.numHeadPkt = numHead
		s.numDataPkt = numData
		s.numRxImgPkt = 0
		s.mu.Unlock()
		s.setStatus(StatusRxImage)
		s.startImageReceiving()

	case CmdEnd:
		stat, err := decodeCmdEnd(payload)
		if err != nil {
			return
		}
		s.finishReceiving(stat)
	}
}

func (s *Session) startImageReceiving() {
	s.mu.Lock()
	s.splitter.Reset()
	total := s.numHeadPkt + s.numDataPkt
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.UpdateBar(0, total)
		s.sink.ResetTimer()
		s.sink.StartTimer()
	}

	s.armWatchdog()
}

func (s *Session) finishReceiving(peerStats Stats) {
	s.cancelWatchdog()

	if s.sink != nil {
		s.sink.StopTimer()
		// Best-effort final decode of whatever was received, so a
		// watchdog-truncated transfer still leaves a usable (if partial
		// or absent) image with the sink rather than silently dropping it.
		if img, err := s.splitter.GetImage(); err == nil && img != nil {
			s.sink.UpdateImage(img)
		}
	}

	_ = peerStats // final peer-reported stats are informational only

	s.mu.Lock()
	s.stats = Stats{}
	s.status = StatusIdle
	s.mu.Unlock()
}

func (s *Session) processImagePayload(dsn byte, payload []byte) {
	s.mu.Lock()
	expected := byte(s.numRxImgPkt % 256)
	if dsn != expected {
		s.mu.Unlock()
		return // duplicate: drop silently, do not reset watchdog
	}
	s.numRxImgPkt++
	n := s.numRxImgPkt
	numHead := s.numHeadPkt
	s.mu.Unlock()

	s.cancelWatchdog()

	switch {
	case n <= numHead:
		s.splitter.AddHeader(payload, false)
	case n == numHead+1:
		s.splitter.HeaderFinish()
		s.splitter.AddData(payload)
	default:
		s.splitter.AddData(payload)
	}

	if img, err := s.splitter.GetImage(); err == nil && img != nil && s.sink != nil {
		if n == numHead+1 {
			s.sink.ResizeToImage(img)
		}
		s.sink.UpdateImage(img)
	}

	if s.sink != nil {
		s.sink.UpdateBar(n, numHead+s.numDataPktSnapshot())
	}

	s.armWatchdog()
}

func (s *Session) numDataPktSnapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numDataPkt
}

// RequestImage sends a CMD_CAP request to the camera-side modem id
// configured in Params, asking for an image at the given size/quality/
// flash setting.
func (s *Session) RequestImage(size [2]int, quality byte, flash bool) error {
	payload := encodeCmdCap(size, quality, flash)

	s.mu.Lock()
	dsn := byte(s.stats.TxPkt % 256)
	s.mu.Unlock()

	return s.sendReliable(s.params.CamModemID, payload, TypeCmd, pack.AckPlain, dsn)
}

// transmitImage captures, splits, and streams one image in response to an
// accepted CMD_CAP request. Any reliable-send failure aborts the transfer
// and returns the session to idle.
func (s *Session) transmitImage() error {
	if s.capture == nil {
		return fmt.Errorf("imgtx: no capture operator configured")
	}

	s.mu.Lock()
	size := s.reqSize
	quality := s.reqQuality
	flash := s.reqFlash
	dst := s.dstID
	s.mu.Unlock()

	img, err := s.capture(size, flash)
	if err != nil {
		return fmt.Errorf("imgtx: capture failed: %w", err)
	}

	if err := s.splitter.Encode(img, int(quality)); err != nil {
		return fmt.Errorf("imgtx: encode failed: %w", err)
	}

	headerSize := s.splitter.HeaderSize()
	dataSize := s.splitter.DataSize()
	payloadLen := s.params.PayloadLength

	numHeaderPkt := int(math.Ceil(float64(headerSize) / float64(payloadLen)))
	numDataPkt := int(math.Ceil(float64(dataSize) / float64(payloadLen)))

	if err := s.sendReliable(dst, encodeCmdBegin(numHeaderPkt, numDataPkt), TypeCmd, pack.AckPlain, byte(s.stats.TxPkt%256)); err != nil {
		s.setStatus(StatusIdle)
		return err
	}

	dsn := byte(0)
	header := s.splitter.Header()
	for i := 0; i < numHeaderPkt; i++ {
		chunk := chunkOf(header, i, payloadLen)
		if err := s.sendReliable(dst, chunk, TypeData, pack.AckPlain, dsn); err != nil {
			s.setStatus(StatusIdle)
			return err
		}
		dsn++
	}

	data := s.splitter.Data()
	for i := 0; i < numDataPkt; i++ {
		chunk := chunkOf(data, i, payloadLen)
		if err := s.sendReliable(dst, chunk, TypeData, pack.AckPlain, dsn); err != nil {
			s.setStatus(StatusIdle)
			return err
		}
		dsn++
	}

	endPayload := encodeCmdEnd(s.Stats())
	if err := s.sendReliable(dst, endPayload, TypeCmd, pack.AckPlain, byte(s.stats.TxPkt%256)); err != nil {
		s.setStatus(StatusIdle)
		return err
	}

	s.mu.Lock()
	s.stats = Stats{}
	s.mu.Unlock()
	s.setStatus(StatusIdle)
	return nil
}

func chunkOf(buf []byte, i, payloadLen int) []byte {
	lo := i * payloadLen
	hi := lo + payloadLen
	if hi > len(buf) {
		hi = len(buf)
	}
	if lo > len(buf) {
		lo = len(buf)
	}
	return buf[lo:hi]
}

// transmissionWorker polls session status at 10Hz; when it observes
// StatusImageRequest it drives transmitImage outside the receive
// goroutine so listener callbacks remain responsive.
func (s *Session) transmissionWorker() {
	defer close(s.workerDone)

	for {
		s.mu.Lock()
		run := s.runWorker
		req := s.status == StatusImageRequest
		s.mu.Unlock()

		if !run {
			return
		}

		if req {
			s.setStatus(StatusTxImage)
			if err := s.transmitImage(); err != nil && s.logger != nil {
				s.logger.Warn("imgtx: transmission failed", "err", err)
			}
			s.setStatus(StatusIdle)
		}

		time.Sleep(100 * time.Millisecond)
	}
}
