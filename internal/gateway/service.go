// Package gateway implements the client-facing side of the world server:
// it terminates client TCP connections, authenticates sessions, and
// translates client requests into operations on the internal message bus
// shared with the object-authority and persistence services.
package gateway

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/config"
	"github.com/openotp/gateway/internal/schema"
	"github.com/openotp/gateway/internal/wire"
)

// Avatar class fields with gateway-side semantics. The schema must
// declare each of them on the configured avatar class.
const (
	fieldAppearance  = "AvatarAppearance"
	fieldAccessLevel = "AccessLevel"
	fieldPrevAccess  = "PreviousAccessLevel"
	fieldGameMaster  = "GameMaster"
	fieldBattleID    = "BattleID"
)

// Service owns the shared state of the gateway: the schema lookup, the
// channel allocator, the bus router, and the live session set. One
// Service serves every connection.
type Service struct {
	logger *zap.Logger
	cfg    config.GatewayConfig

	schema      *schema.File
	avatarClass *schema.Class
	// avatarSetField is the account field listing an account's avatars.
	avatarSetField *schema.Field
	// Avatar fields resolved once at startup.
	appearanceField *schema.Field
	accessField     *schema.Field
	prevAccessField *schema.Field
	gameMasterField *schema.Field
	battleField     *schema.Field

	router    *bus.Router
	allocator *bus.Allocator
	tokens    *TokenCipher

	contextCounter atomic.Uint32

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewService builds a gateway service over an indexed schema and a bus
// router.
//
// Precondition: all arguments must be non-nil; the schema must declare
// the configured avatar and account classes with the fields the avatar
// flows override.
// Postcondition: Returns a Service ready to accept connections, or a
// non-nil error naming the missing schema element.
func NewService(
	cfg config.GatewayConfig,
	schemaCfg config.SchemaConfig,
	channelCfg config.ChannelConfig,
	file *schema.File,
	router *bus.Router,
	logger *zap.Logger,
) (*Service, error) {
	secret, err := cfg.Secret()
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokenCipher(secret)
	if err != nil {
		return nil, err
	}

	avatarClass := file.ClassByName(schemaCfg.AvatarClass)
	if avatarClass == nil {
		return nil, fmt.Errorf("schema does not declare avatar class %q", schemaCfg.AvatarClass)
	}
	accountClass := file.ClassByName(schemaCfg.AccountClass)
	if accountClass == nil {
		return nil, fmt.Errorf("schema does not declare account class %q", schemaCfg.AccountClass)
	}
	avatarSetField := accountClass.FieldByName(schemaCfg.AvatarSetField)
	if avatarSetField == nil {
		return nil, fmt.Errorf("account class %q does not declare field %q", schemaCfg.AccountClass, schemaCfg.AvatarSetField)
	}

	svc := &Service{
		logger:         logger,
		cfg:            cfg,
		schema:         file,
		avatarClass:    avatarClass,
		avatarSetField: avatarSetField,
		router:         router,
		allocator:      bus.NewAllocator(channelCfg.Min, channelCfg.Max),
		tokens:         tokens,
		sessions:       make(map[*Session]struct{}),
	}

	for _, resolve := range []struct {
		name   string
		target **schema.Field
	}{
		{fieldAppearance, &svc.appearanceField},
		{fieldAccessLevel, &svc.accessField},
		{fieldPrevAccess, &svc.prevAccessField},
		{fieldGameMaster, &svc.gameMasterField},
		{fieldBattleID, &svc.battleField},
	} {
		f := avatarClass.FieldByName(resolve.name)
		if f == nil {
			return nil, fmt.Errorf("avatar class %q does not declare field %q", avatarClass.Name, resolve.name)
		}
		*resolve.target = f
	}

	return svc, nil
}

// NextContext returns a fresh backend correlation context id.
func (s *Service) NextContext() uint32 {
	return s.contextCounter.Add(1)
}

// Schema returns the immutable schema lookup.
func (s *Service) Schema() *schema.File {
	return s.schema
}

// AvatarClass returns the schema class used for avatar objects.
func (s *Service) AvatarClass() *schema.Class {
	return s.avatarClass
}

// Router returns the bus router.
func (s *Service) Router() *bus.Router {
	return s.router
}

// HandleConn runs one client connection to completion: allocate a
// channel, build the session, run its loop, release on exit. Implements
// the acceptor's ConnHandler.
func (s *Service) HandleConn(raw net.Conn) error {
	sess, err := s.newSession(raw)
	if err != nil {
		_ = raw.Close()
		return err
	}

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	err = sess.Run()

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()

	s.allocator.Release(sess.allocChannel)
	return err
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown disconnects every live session with a shard-closed notice.
// The acceptor must be stopped after this so its connection waitgroup
// can drain.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Disconnect(wire.DisconnectShard, "Gateway shutting down")
	}
}
