package gateway

import (
	"errors"
	"sync"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/wire"
)

// ErrCancelled is delivered to flows whose session is torn down while a
// wait is outstanding.
var ErrCancelled = errors.New("session torn down")

// Reply is a bus message handed to a resumed flow.
type Reply struct {
	Sender  wire.Channel
	Payload []byte
}

// MatchFunc inspects a candidate payload and reports whether it belongs
// to the waiting flow. It is the secondary assertion on top of the
// message type, typically a backend context id comparison.
type MatchFunc func(payload []byte) bool

type pendingWait struct {
	msgType uint16
	match   MatchFunc
	ch      chan Reply
}

// Correlator matches pending flow continuations to inbound bus messages.
// Waits are single-use and resolved in registration order; a wait is
// satisfied by the first message of its expected type that also passes
// its match predicate. All methods are safe for concurrent use.
type Correlator struct {
	mu        sync.Mutex
	waits     []*pendingWait
	cancelled bool
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Await registers interest in the next bus message of msgType that
// satisfies match (nil matches any payload). The returned channel yields
// exactly one Reply, or is closed without a value when the session is
// torn down.
func (c *Correlator) Await(msgType uint16, match MatchFunc) <-chan Reply {
	ch := make(chan Reply, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		close(ch)
		return ch
	}
	c.waits = append(c.waits, &pendingWait{msgType: msgType, match: match, ch: ch})
	return ch
}

// Offer resolves at most one pending wait with the given message and
// reports whether one was resolved.
func (c *Correlator) Offer(msg bus.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waits {
		if w.msgType != msg.Type {
			continue
		}
		if w.match != nil && !w.match(msg.Payload) {
			continue
		}
		c.waits = append(c.waits[:i], c.waits[i+1:]...)
		w.ch <- Reply{Sender: msg.Sender, Payload: msg.Payload}
		close(w.ch)
		return true
	}
	return false
}

// CancelAll fails every outstanding wait. Subsequent Await calls return
// an already-closed channel.
func (c *Correlator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	for _, w := range c.waits {
		close(w.ch)
	}
	c.waits = nil
}

// Pending returns the number of outstanding waits.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}
