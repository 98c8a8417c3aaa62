package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/wire"
)

// Message is one routed bus datagram as seen by a participant.
type Message struct {
	// Sender is the channel the datagram was sent from.
	Sender wire.Channel
	// Type is the 16-bit message type tag.
	Type uint16
	// Payload is the type-specific body following the routing header.
	Payload []byte
}

// Participant receives bus messages addressed to channels it subscribes
// to. HandleBusMessage must not block; long work belongs on the
// participant's own goroutine.
type Participant interface {
	HandleBusMessage(msg Message)
}

// Upstream is the link to the wider routing fabric. The router mirrors
// its local subscription table onto it and forwards every outbound send.
type Upstream interface {
	AddChannel(ch wire.Channel) error
	RemoveChannel(ch wire.Channel) error
	SendDatagram(recipients []wire.Channel, sender wire.Channel, msgType uint16, payload []byte) error
}

// Router fans bus datagrams out to local participants by channel
// subscription and keeps the upstream link's channel set in sync.
// All methods are safe for concurrent use.
type Router struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[wire.Channel]map[Participant]struct{}
	upstream    Upstream
}

// NewRouter creates an empty Router.
//
// Precondition: logger must be non-nil.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		logger:      logger,
		subscribers: make(map[wire.Channel]map[Participant]struct{}),
	}
}

// SetUpstream attaches the upstream link. Must be called before any
// subscriptions exist.
func (r *Router) SetUpstream(u Upstream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream = u
}

// Subscribe registers p for datagrams addressed to ch. The first local
// subscriber of a channel claims it upstream.
func (r *Router) Subscribe(ch wire.Channel, p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.subscribers[ch]
	if set == nil {
		set = make(map[Participant]struct{})
		r.subscribers[ch] = set
		if r.upstream != nil {
			if err := r.upstream.AddChannel(ch); err != nil {
				r.logger.Error("upstream channel subscribe failed",
					zap.Uint64("channel", uint64(ch)),
					zap.Error(err),
				)
			}
		}
	}
	set[p] = struct{}{}
}

// Unsubscribe removes p's subscription to ch. The last local subscriber
// leaving a channel releases it upstream.
func (r *Router) Unsubscribe(ch wire.Channel, p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(ch, p)
}

func (r *Router) unsubscribeLocked(ch wire.Channel, p Participant) {
	set := r.subscribers[ch]
	if set == nil {
		return
	}
	if _, ok := set[p]; !ok {
		return
	}
	delete(set, p)
	if len(set) == 0 {
		delete(r.subscribers, ch)
		if r.upstream != nil {
			if err := r.upstream.RemoveChannel(ch); err != nil {
				r.logger.Error("upstream channel unsubscribe failed",
					zap.Uint64("channel", uint64(ch)),
					zap.Error(err),
				)
			}
		}
	}
}

// UnsubscribeAll removes every subscription held by p.
func (r *Router) UnsubscribeAll(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, set := range r.subscribers {
		if _, ok := set[p]; ok {
			r.unsubscribeLocked(ch, p)
		}
	}
}

// Send routes a datagram to every local subscriber of the addressed
// channels and forwards it upstream. A participant subscribed to several
// of the addressed channels receives the message once.
func (r *Router) Send(recipients []wire.Channel, sender wire.Channel, msgType uint16, payload []byte) {
	r.Deliver(recipients, sender, msgType, payload)

	r.mu.RLock()
	upstream := r.upstream
	r.mu.RUnlock()
	if upstream != nil {
		if err := upstream.SendDatagram(recipients, sender, msgType, payload); err != nil {
			r.logger.Error("upstream send failed",
				zap.Uint16("msg_type", msgType),
				zap.Error(err),
			)
		}
	}
}

// Deliver fans a datagram out to local subscribers only. The upstream
// link calls this for inbound traffic; Send calls it for loopback.
func (r *Router) Deliver(recipients []wire.Channel, sender wire.Channel, msgType uint16, payload []byte) {
	r.mu.RLock()
	seen := make(map[Participant]struct{})
	var targets []Participant
	for _, ch := range recipients {
		for p := range r.subscribers[ch] {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			targets = append(targets, p)
		}
	}
	r.mu.RUnlock()

	msg := Message{Sender: sender, Type: msgType, Payload: payload}
	for _, p := range targets {
		p.HandleBusMessage(msg)
	}
}
