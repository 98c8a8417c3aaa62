package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/wire"
)

func TestCorrelator_ResolveByType(t *testing.T) {
	c := NewCorrelator()
	ch := c.Await(wire.AccountQueryResp, nil)

	assert.False(t, c.Offer(bus.Message{Sender: 1, Type: wire.StoredValuesGetResp}))
	require.True(t, c.Offer(bus.Message{Sender: 2, Type: wire.AccountQueryResp, Payload: []byte{9}}))

	reply, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, wire.Channel(2), reply.Sender)
	assert.Equal(t, []byte{9}, reply.Payload)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelator_WaitsAreSingleUse(t *testing.T) {
	c := NewCorrelator()
	_ = c.Await(wire.AccountQueryResp, nil)

	require.True(t, c.Offer(bus.Message{Type: wire.AccountQueryResp}))
	assert.False(t, c.Offer(bus.Message{Type: wire.AccountQueryResp}))
}

func TestCorrelator_RegistrationOrder(t *testing.T) {
	c := NewCorrelator()
	first := c.Await(wire.StoredValuesGetResp, nil)
	second := c.Await(wire.StoredValuesGetResp, nil)

	require.True(t, c.Offer(bus.Message{Type: wire.StoredValuesGetResp, Payload: []byte{1}}))

	reply := <-first
	assert.Equal(t, []byte{1}, reply.Payload)

	select {
	case <-second:
		t.Fatal("second wait resolved before its message arrived")
	default:
	}

	require.True(t, c.Offer(bus.Message{Type: wire.StoredValuesGetResp, Payload: []byte{2}}))
	reply = <-second
	assert.Equal(t, []byte{2}, reply.Payload)
}

func TestCorrelator_MatchPredicate(t *testing.T) {
	c := NewCorrelator()
	ch := c.Await(wire.StoredValuesGetResp, func(payload []byte) bool {
		return len(payload) > 0 && payload[0] == 7
	})

	// Matching type but failing predicate leaves the wait pending.
	assert.False(t, c.Offer(bus.Message{Type: wire.StoredValuesGetResp, Payload: []byte{1}}))
	assert.Equal(t, 1, c.Pending())

	require.True(t, c.Offer(bus.Message{Type: wire.StoredValuesGetResp, Payload: []byte{7, 2}}))
	reply := <-ch
	assert.Equal(t, []byte{7, 2}, reply.Payload)
}

func TestCorrelator_CancelAll(t *testing.T) {
	c := NewCorrelator()
	ch := c.Await(wire.AccountQueryResp, nil)

	c.CancelAll()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, c.Pending())

	// Waits registered after cancellation fail immediately.
	late := c.Await(wire.AccountQueryResp, nil)
	_, ok = <-late
	assert.False(t, ok)
	assert.False(t, c.Offer(bus.Message{Type: wire.AccountQueryResp}))
}
