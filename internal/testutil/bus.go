// Package testutil provides test doubles for gateway integration tests:
// a recording upstream bus link and a framed TCP test client.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/openotp/gateway/internal/wire"
)

// SentDatagram is one datagram captured by RecordingUpstream.
type SentDatagram struct {
	Recipients []wire.Channel
	Sender     wire.Channel
	Type       uint16
	Payload    []byte
}

// RecordingUpstream implements bus.Upstream and records every control
// and datagram operation for assertion. Safe for concurrent use.
type RecordingUpstream struct {
	mu      sync.Mutex
	added   []wire.Channel
	removed []wire.Channel
	sent    []SentDatagram
}

// NewRecordingUpstream creates an empty recorder.
func NewRecordingUpstream() *RecordingUpstream {
	return &RecordingUpstream{}
}

// AddChannel records an upstream channel subscription.
func (r *RecordingUpstream) AddChannel(ch wire.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, ch)
	return nil
}

// RemoveChannel records an upstream channel release.
func (r *RecordingUpstream) RemoveChannel(ch wire.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ch)
	return nil
}

// SendDatagram records an outbound datagram.
func (r *RecordingUpstream) SendDatagram(recipients []wire.Channel, sender wire.Channel, msgType uint16, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentDatagram{
		Recipients: append([]wire.Channel(nil), recipients...),
		Sender:     sender,
		Type:       msgType,
		Payload:    append([]byte(nil), payload...),
	})
	return nil
}

// Added returns every channel subscribed upstream, in order.
func (r *RecordingUpstream) Added() []wire.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Channel(nil), r.added...)
}

// Removed returns every channel released upstream, in order.
func (r *RecordingUpstream) Removed() []wire.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Channel(nil), r.removed...)
}

// Sent returns every recorded datagram, in order.
func (r *RecordingUpstream) Sent() []SentDatagram {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentDatagram(nil), r.sent...)
}

// SentOfType returns the recorded datagrams with the given message type.
func (r *RecordingUpstream) SentOfType(msgType uint16) []SentDatagram {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SentDatagram
	for _, dg := range r.sent {
		if dg.Type == msgType {
			out = append(out, dg)
		}
	}
	return out
}

// RemovedCount returns how many times ch was released upstream.
func (r *RecordingUpstream) RemovedCount(ch wire.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.removed {
		if c == ch {
			n++
		}
	}
	return n
}

// WaitForType blocks until at least one datagram of msgType has been
// recorded or the timeout elapses, failing the test on timeout.
//
// Precondition: t must be the running test.
// Postcondition: Returns the first recorded datagram of msgType.
func (r *RecordingUpstream) WaitForType(t *testing.T, msgType uint16, timeout time.Duration) SentDatagram {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if dgs := r.SentOfType(msgType); len(dgs) > 0 {
			return dgs[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no datagram of type %d recorded within %s", msgType, timeout)
	return SentDatagram{}
}
