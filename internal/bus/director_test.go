package bus

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/wire"
)

// fakeDirector accepts one upstream connection and exposes its framed end.
type fakeDirector struct {
	listener net.Listener
	conns    chan *wire.FramedConn
}

func startFakeDirector(t *testing.T) *fakeDirector {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fd := &fakeDirector{listener: listener, conns: make(chan *wire.FramedConn, 1)}
	go func() {
		raw, err := listener.Accept()
		if err != nil {
			return
		}
		fd.conns <- wire.NewFramedConn(raw, 5*time.Second, 5*time.Second)
	}()

	t.Cleanup(func() {
		_ = listener.Close()
	})
	return fd
}

func (fd *fakeDirector) addr() string {
	return fd.listener.Addr().String()
}

func (fd *fakeDirector) accepted(t *testing.T) *wire.FramedConn {
	t.Helper()
	select {
	case conn := <-fd.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("director never connected")
		return nil
	}
}

func waitForUpstream(t *testing.T, router *Router) {
	t.Helper()
	require.Eventually(t, func() bool {
		router.mu.RLock()
		defer router.mu.RUnlock()
		return router.upstream != nil
	}, 5*time.Second, time.Millisecond)
}

func TestDirector_SubscribeSendsControl(t *testing.T) {
	fd := startFakeDirector(t)
	router := NewRouter(zap.NewNop())
	d := NewDirector(fd.addr(), router, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- d.Start() }()
	t.Cleanup(d.Stop)

	upstream := fd.accepted(t)
	waitForUpstream(t, router)
	router.Subscribe(1234, &recordingParticipant{})

	frame, err := upstream.ReadFrame()
	require.NoError(t, err)

	it := wire.NewIterator(frame)
	count, err := it.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(1), count)

	recipient, err := it.ReadChannel()
	require.NoError(t, err)
	assert.Equal(t, wire.ControlChannel, recipient)

	_, err = it.ReadChannel() // sender
	require.NoError(t, err)

	msgType, err := it.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, wire.ControlAddChannel, msgType)

	claimed, err := it.ReadChannel()
	require.NoError(t, err)
	assert.Equal(t, wire.Channel(1234), claimed)

	d.Stop()
	require.NoError(t, <-done)
}

func TestDirector_InboundDelivery(t *testing.T) {
	fd := startFakeDirector(t)
	router := NewRouter(zap.NewNop())
	d := NewDirector(fd.addr(), router, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- d.Start() }()
	t.Cleanup(d.Stop)

	upstream := fd.accepted(t)
	waitForUpstream(t, router)
	p := &recordingParticipant{}
	router.Subscribe(42, p)

	// Drain the control frame for the subscription.
	_, err := upstream.ReadFrame()
	require.NoError(t, err)

	dg := wire.NewDatagram()
	dg.AddServerHeader([]wire.Channel{42}, 7, 2021)
	dg.AddUint32(5)
	require.NoError(t, upstream.WriteDatagram(dg))

	require.Eventually(t, func() bool {
		return len(p.messages()) == 1
	}, 5*time.Second, time.Millisecond)

	msg := p.messages()[0]
	assert.Equal(t, wire.Channel(7), msg.Sender)
	assert.Equal(t, uint16(2021), msg.Type)
	assert.Equal(t, []byte{5, 0, 0, 0}, msg.Payload)

	d.Stop()
	require.NoError(t, <-done)
}

func TestDirector_SendDatagram(t *testing.T) {
	fd := startFakeDirector(t)
	router := NewRouter(zap.NewNop())
	d := NewDirector(fd.addr(), router, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- d.Start() }()
	t.Cleanup(d.Stop)

	upstream := fd.accepted(t)
	waitForUpstream(t, router)

	require.NoError(t, d.SendDatagram([]wire.Channel{100, 200}, 9, 1012, []byte{1}))

	frame, err := upstream.ReadFrame()
	require.NoError(t, err)

	it := wire.NewIterator(frame)
	count, err := it.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(2), count)

	first, _ := it.ReadChannel()
	second, _ := it.ReadChannel()
	sender, _ := it.ReadChannel()
	msgType, _ := it.ReadUint16()

	assert.Equal(t, wire.Channel(100), first)
	assert.Equal(t, wire.Channel(200), second)
	assert.Equal(t, wire.Channel(9), sender)
	assert.Equal(t, uint16(1012), msgType)
	assert.Equal(t, []byte{1}, it.ReadRemaining())

	d.Stop()
	require.NoError(t, <-done)
}

func TestDirector_SendBeforeStartFails(t *testing.T) {
	router := NewRouter(zap.NewNop())
	d := NewDirector("127.0.0.1:1", router, zap.NewNop())

	err := d.AddChannel(1)
	assert.Error(t, err)
}
