package gateway

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/wire"
)

// State is a session's protocol state.
type State uint8

const (
	// StateNew is the initial state: only login and heartbeat are accepted.
	StateNew State = iota
	// StateAnonymous is reachable but unused by the current message set.
	StateAnonymous
	// StateAuthenticated accepts the full client message set.
	StateAuthenticated
)

// TransportEndpoint is the client-link capability of a session.
type TransportEndpoint interface {
	SendToClient(dg *wire.Datagram) error
	Disconnect(reason wire.DisconnectReason, text string)
}

// BusParticipant is the bus capability of a session.
type BusParticipant interface {
	bus.Participant
	Channel() wire.Channel
}

// Session is one client connection: a transport endpoint and a bus
// participant composed into a single protocol state machine.
type Session struct {
	id     string
	svc    *Service
	logger *zap.Logger
	conn   *wire.FramedConn

	ctx    context.Context
	cancel context.CancelFunc
	flows  sync.WaitGroup
	done   sync.Once

	clientFrames chan []byte
	busInbox     chan bus.Message

	mu sync.Mutex
	// state transitions are driven solely by inbound client messages.
	state State
	// channel is the session's bus address. It changes identity once an
	// avatar is activated; allocChannel is the originally allocated one.
	channel      wire.Channel
	allocChannel wire.Channel
	account      *AccountRecord
	// pendingAvatar is the avatar currently being activated, or zero.
	pendingAvatar uint32
	// avatarFields caches the packed field set assembled during avatar
	// activation for the later avatar-details reply.
	avatarFields map[uint16][]byte
	avatars      []PotentialAvatar

	interests  *InterestManager
	directory  *Directory
	correlator *Correlator
}

var _ TransportEndpoint = (*Session)(nil)
var _ BusParticipant = (*Session)(nil)

// newSession allocates a bus channel and builds a session over an
// accepted connection.
func (s *Service) newSession(raw net.Conn) (*Session, error) {
	ch, err := s.allocator.Allocate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		id:           uuid.NewString(),
		svc:          s,
		conn:         wire.NewFramedConn(raw, s.cfg.ReadTimeout, s.cfg.WriteTimeout),
		ctx:          ctx,
		cancel:       cancel,
		clientFrames: make(chan []byte, 32),
		busInbox:     make(chan bus.Message, 128),
		state:        StateNew,
		channel:      ch,
		allocChannel: ch,
		interests:    NewInterestManager(),
		directory:    NewDirectory(),
		correlator:   NewCorrelator(),
	}
	sess.logger = s.logger.With(
		zap.String("session", sess.id),
		zap.String("remote_addr", raw.RemoteAddr().String()),
	)

	s.router.Subscribe(ch, sess)
	return sess, nil
}

// Run drives the session: a reader goroutine feeds client frames while
// the loop processes client and bus traffic in arrival order. Returns
// when the connection closes or the session is disconnected.
//
// Postcondition: All teardown side effects have run when Run returns.
func (s *Session) Run() error {
	defer s.teardown()

	go s.readLoop()

	s.logger.Info("session started", zap.Uint64("channel", uint64(s.Channel())))

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case frame, ok := <-s.clientFrames:
			if !ok {
				return nil
			}
			s.handleClientDatagram(frame)
		case msg := <-s.busInbox:
			s.handleBusDatagram(msg)
		}
	}
}

// readLoop reads framed client datagrams until the connection fails.
func (s *Session) readLoop() {
	defer close(s.clientFrames)
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.logger.Debug("client link closed", zap.Error(err))
			return
		}
		select {
		case s.clientFrames <- frame:
		case <-s.ctx.Done():
			return
		}
	}
}

// HandleBusMessage implements bus.Participant. Messages are queued to the
// session loop so bus traffic is processed in arrival order without
// blocking the router. A full inbox ends the session: dropping a message
// from ordered traffic would desync the client's view with no way back.
func (s *Session) HandleBusMessage(msg bus.Message) {
	select {
	case s.busInbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Error("bus inbox overrun",
			zap.Uint16("msg_type", msg.Type),
		)
		s.Disconnect(wire.DisconnectInternalError, "Session overloaded")
	}
}

// Channel returns the session's current bus address.
func (s *Session) Channel() wire.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// setChannel performs the channel identity transition after avatar
// activation: the old address is released and the new one claimed under
// one lock so the session is never reachable on both or neither.
func (s *Session) setChannel(ch wire.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch == s.channel {
		return
	}
	s.svc.router.Unsubscribe(s.channel, s)
	s.channel = ch
	s.svc.router.Subscribe(ch, s)
}

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Account returns the account record populated at login, or nil.
func (s *Session) Account() *AccountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// SendToClient writes one datagram to the client link.
func (s *Session) SendToClient(dg *wire.Datagram) error {
	return s.conn.WriteDatagram(dg)
}

// Disconnect sends a forced-disconnect notice and closes the session.
func (s *Session) Disconnect(reason wire.DisconnectReason, text string) {
	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientGoGetLost)
	resp.AddUint16(uint16(reason))
	resp.AddString(text)
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing disconnect notice", zap.Error(err))
	}

	s.logger.Info("disconnecting client",
		zap.Uint16("reason", uint16(reason)),
		zap.String("text", text),
	)
	s.cancel()
	_ = s.conn.Close()
}

// teardown runs the mandatory cleanup exactly once: cancel outstanding
// waits, drain the flows, release authority over a mid-activation
// avatar, unsubscribe every bus channel. Flows finish before the delete
// notice and the unsubscribe so a racing flow cannot publish after them
// or leave a channel claimed.
func (s *Session) teardown() {
	s.done.Do(func() {
		s.cancel()
		s.correlator.CancelAll()
		_ = s.conn.Close()
		s.flows.Wait()

		s.mu.Lock()
		pending := s.pendingAvatar
		channel := s.channel
		s.mu.Unlock()

		if pending != 0 {
			dg := wire.NewDatagram()
			dg.AddUint32(pending)
			s.svc.router.Send(
				[]wire.Channel{wire.ObjectServersChannel},
				channel,
				wire.ObjectDeleteRAM,
				dg.Bytes(),
			)
		}

		s.svc.router.UnsubscribeAll(s)

		s.logger.Info("session torn down",
			zap.Int("visible_objects", s.directory.VisibleCount()),
			zap.Int("interests", s.interests.Count()),
		)
	})
}

// sendUpstream publishes a datagram on the bus from this session's
// current channel.
func (s *Session) sendUpstream(recipients []wire.Channel, msgType uint16, payload []byte) {
	s.svc.router.Send(recipients, s.Channel(), msgType, payload)
}

// spawnFlow starts a multi-step operation on its own goroutine, tracked
// so teardown can wait for it after cancelling its waits.
func (s *Session) spawnFlow(name string, fn func()) {
	s.flows.Add(1)
	go func() {
		defer s.flows.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("flow panicked",
					zap.String("flow", name),
					zap.Any("panic", r),
				)
			}
		}()
		fn()
	}()
}

// awaitReply blocks a flow until its correlator wait resolves or the
// session is torn down. A reply that arrives in the same instant as
// cancellation is discarded; the flow must not resume once teardown has
// begun.
func (s *Session) awaitReply(ch <-chan Reply) (Reply, error) {
	select {
	case <-s.ctx.Done():
		return Reply{}, ErrCancelled
	case reply, ok := <-ch:
		if !ok || s.ctx.Err() != nil {
			return Reply{}, ErrCancelled
		}
		return reply, nil
	}
}
