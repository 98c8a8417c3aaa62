package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/testutil"
	"github.com/openotp/gateway/internal/wire"
)

func startAcceptor(t *testing.T) (*Service, *Acceptor) {
	t.Helper()

	svc, _, _ := newTestService(t)
	acceptor := NewAcceptor(testGatewayConfig(), svc, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- acceptor.ListenAndServe() }()

	require.Eventually(t, func() bool {
		return acceptor.IsRunning() && acceptor.Addr() != ""
	}, 5*time.Second, time.Millisecond)

	t.Cleanup(func() {
		svc.Shutdown()
		acceptor.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("acceptor did not stop")
		}
	})
	return svc, acceptor
}

func TestAcceptor_ServesSessions(t *testing.T) {
	svc, acceptor := startAcceptor(t)

	client := testutil.NewFramedClient(t, acceptor.Addr())

	hb := wire.NewDatagram()
	hb.AddUint16(wire.ClientHeartbeat)
	hb.AddUint32(1)
	client.Send(hb)
	assert.Equal(t, hb.Bytes(), client.ReadFrame())

	require.Eventually(t, func() bool {
		return svc.SessionCount() == 1
	}, 5*time.Second, time.Millisecond)
}

func TestAcceptor_ConcurrentClients(t *testing.T) {
	svc, acceptor := startAcceptor(t)

	clients := make([]*testutil.FramedClient, 3)
	for i := range clients {
		clients[i] = testutil.NewFramedClient(t, acceptor.Addr())
	}

	for i, client := range clients {
		hb := wire.NewDatagram()
		hb.AddUint16(wire.ClientHeartbeat)
		hb.AddUint32(uint32(i))
		client.Send(hb)
		assert.Equal(t, hb.Bytes(), client.ReadFrame())
	}

	require.Eventually(t, func() bool {
		return svc.SessionCount() == 3
	}, 5*time.Second, time.Millisecond)
}

func TestAcceptor_StopIsIdempotent(t *testing.T) {
	_, acceptor := startAcceptor(t)

	// Cleanup stops it again afterwards.
	acceptor.Stop()
	acceptor.Stop()
	assert.False(t, acceptor.IsRunning())
}
