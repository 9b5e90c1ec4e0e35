package modem

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuhh-eit/ahoi-modem/pack"
	"github.com/tuhh-eit/ahoi-modem/transport"
)

// fakeTransport is an in-memory transport.Transport used to drive the
// modem driver deterministically without any real serial/TCP device.
type fakeTransport struct {
	mu   sync.Mutex
	cb   transport.RxCallback
	sent []pack.Packet
}

func (f *fakeTransport) Connect(cb transport.RxCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
	return nil
}

func (f *fakeTransport) Send(p pack.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeTransport) Receive() {}
func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) deliver(p pack.Packet) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSendIncrementsSeqNumberAndWraps(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	for i := 0; i < 300; i++ {
		require.NoError(t, m.Send(0, pack.AddrBcast, 0x01, nil, pack.AckNone, nil))
	}
	assert.Equal(t, 300, ft.sentCount())
	for i, p := range ft.sent {
		assert.Equal(t, byte(i%256), p.Header.Dsn)
	}
}

func TestCallbacksAndHandlersInvokedInOrder(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	var order []string
	var mu sync.Mutex

	tok := m.AddRxCallback(func(p pack.Packet) {
		mu.Lock()
		order = append(order, "callback")
		mu.Unlock()
	})
	_ = tok

	m.AddRxHandler(recordingHandler{name: "handler", order: &order, mu: &mu})

	ft.deliver(pack.Make(1, 2, 0x80, pack.AckNone, 0, nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "callback", order[0])
	assert.Equal(t, "handler", order[1])
}

type recordingHandler struct {
	name  string
	order *[]string
	mu    *sync.Mutex
}

func (r recordingHandler) HandlePkt(p pack.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.order = append(*r.order, r.name)
}

func TestRemoveRxCallbackStopsInvocation(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	calls := 0
	tok := m.AddRxCallback(func(p pack.Packet) { calls++ })
	ft.deliver(pack.Make(1, 2, 0x80, pack.AckNone, 0, nil))
	m.RemoveRxCallback(tok)
	ft.deliver(pack.Make(1, 2, 0x80, pack.AckNone, 0, nil))

	assert.Equal(t, 1, calls)
}

func TestBlockingSendReturnsWhenReplyArrives(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))
	m.SetModeBlocking(true)
	m.SetTimeout(500 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		ft.deliver(pack.Make(2, 1, 0xFF, pack.AckNone, 0, nil))
	}()

	err := m.GetVersion()
	assert.NoError(t, err)
}

func TestBlockingSendTimesOutWithoutReply(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))
	m.SetModeBlocking(true)
	m.SetTimeout(50 * time.Millisecond)

	err := m.GetVersion()
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestPeakWinLenRejectsTooLarge(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	big := uint16(MaxPeakWinLen + 1)
	err := m.PeakWinLen(&big)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, ft.sentCount())
}

func TestTestSoundRejectsOutOfRange(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	assert.ErrorIs(t, m.TestSound(0), ErrInvalidArgument)
	assert.ErrorIs(t, m.TestSound(251), ErrInvalidArgument)
	assert.NoError(t, m.TestSound(100))
}

func TestTestNoiseRejectsBelowOne(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	assert.ErrorIs(t, m.TestNoise(false, 0, 1), ErrInvalidArgument)
	assert.ErrorIs(t, m.TestNoise(false, 1, 0), ErrInvalidArgument)
}

func TestSampleEncodesFieldsBigEndian(t *testing.T) {
	m := New(nil)
	ft := &fakeTransport{}
	require.NoError(t, m.Connect(ft))

	require.NoError(t, m.Sample(1, 0x0102, 0x0304))
	require.Len(t, ft.sent, 1)
	assert.Equal(t, []byte{1, 0x01, 0x02, 0x03, 0x04}, ft.sent[0].Payload)
}
