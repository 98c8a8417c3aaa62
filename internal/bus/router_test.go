package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/testutil"
	"github.com/openotp/gateway/internal/wire"
)

type recordingParticipant struct {
	mu   sync.Mutex
	msgs []Message
}

func (p *recordingParticipant) HandleBusMessage(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *recordingParticipant) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

func TestRouter_DeliverBySubscription(t *testing.T) {
	r := NewRouter(zap.NewNop())
	subscribed := &recordingParticipant{}
	other := &recordingParticipant{}

	r.Subscribe(42, subscribed)
	r.Subscribe(43, other)

	r.Deliver([]wire.Channel{42}, 7, 2021, []byte{1, 2})

	msgs := subscribed.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.Channel(7), msgs[0].Sender)
	assert.Equal(t, uint16(2021), msgs[0].Type)
	assert.Equal(t, []byte{1, 2}, msgs[0].Payload)
	assert.Empty(t, other.messages())
}

func TestRouter_DeliverDeduplicates(t *testing.T) {
	r := NewRouter(zap.NewNop())
	p := &recordingParticipant{}

	r.Subscribe(1, p)
	r.Subscribe(2, p)

	r.Deliver([]wire.Channel{1, 2}, 0, 99, nil)
	assert.Len(t, p.messages(), 1)
}

func TestRouter_UpstreamMirroring(t *testing.T) {
	r := NewRouter(zap.NewNop())
	up := testutil.NewRecordingUpstream()
	r.SetUpstream(up)

	a := &recordingParticipant{}
	b := &recordingParticipant{}

	// Only the first subscriber of a channel claims it upstream.
	r.Subscribe(5, a)
	r.Subscribe(5, b)
	assert.Equal(t, []wire.Channel{5}, up.Added())

	// Only the last subscriber leaving releases it.
	r.Unsubscribe(5, a)
	assert.Empty(t, up.Removed())
	r.Unsubscribe(5, b)
	assert.Equal(t, []wire.Channel{5}, up.Removed())
}

func TestRouter_UnsubscribeAll(t *testing.T) {
	r := NewRouter(zap.NewNop())
	up := testutil.NewRecordingUpstream()
	r.SetUpstream(up)

	p := &recordingParticipant{}
	r.Subscribe(1, p)
	r.Subscribe(2, p)
	r.Subscribe(3, p)

	r.UnsubscribeAll(p)
	assert.ElementsMatch(t, []wire.Channel{1, 2, 3}, up.Removed())

	r.Deliver([]wire.Channel{1, 2, 3}, 0, 1, nil)
	assert.Empty(t, p.messages())
}

func TestRouter_SendLoopsBackAndForwards(t *testing.T) {
	r := NewRouter(zap.NewNop())
	up := testutil.NewRecordingUpstream()
	r.SetUpstream(up)

	p := &recordingParticipant{}
	r.Subscribe(42, p)

	r.Send([]wire.Channel{42}, 9, 2021, []byte{3})

	require.Len(t, p.messages(), 1)
	sent := up.SentOfType(2021)
	require.Len(t, sent, 1)
	assert.Equal(t, []wire.Channel{42}, sent[0].Recipients)
	assert.Equal(t, wire.Channel(9), sent[0].Sender)
	assert.Equal(t, []byte{3}, sent[0].Payload)
}

func TestRouter_UnsubscribeUnknownIsNoop(t *testing.T) {
	r := NewRouter(zap.NewNop())
	up := testutil.NewRecordingUpstream()
	r.SetUpstream(up)

	r.Unsubscribe(99, &recordingParticipant{})
	assert.Empty(t, up.Removed())
}
