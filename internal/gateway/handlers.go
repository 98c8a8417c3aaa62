package gateway

import (
	"time"

	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/schema"
	"github.com/openotp/gateway/internal/wire"
)

// handleClientDatagram dispatches one inbound client datagram according
// to the protocol state. Unrecognized types are dropped, never answered:
// the gateway tolerates client version skew rather than disconnecting.
func (s *Session) handleClientDatagram(frame []byte) {
	it := wire.NewIterator(frame)
	msgType, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("dropping unreadable client datagram", zap.Error(err))
		return
	}

	// Heartbeats are echoed verbatim in any state and never change state.
	if msgType == wire.ClientHeartbeat {
		echo := wire.NewDatagram()
		echo.AddBytes(frame)
		if err := s.SendToClient(echo); err != nil {
			s.logger.Debug("echoing heartbeat", zap.Error(err))
		}
		return
	}

	switch s.State() {
	case StateNew, StateAnonymous:
		if msgType == wire.ClientLogin {
			s.handleLogin(it)
			return
		}
		// Everything else is silently dropped before authentication.
	case StateAuthenticated:
		switch msgType {
		case wire.ClientAddInterest:
			s.handleAddInterest(it)
		case wire.ClientRemoveInterest:
			s.handleRemoveInterest(it)
		case wire.ClientGetAvatars:
			s.handleGetAvatars()
		case wire.ClientSetWishname:
			s.handleSetWishname(it)
		case wire.ClientCreateAvatar:
			s.handleCreateAvatar(it)
		case wire.ClientSetAvatar:
			s.handleSetAvatar(it)
		case wire.ClientGetFriendList:
			s.handleGetFriendList()
		case wire.ClientObjectUpdateField:
			s.handleClientUpdateField(it)
		case wire.ClientObjectLocation:
			s.handleClientLocation(it)
		case wire.ClientDisconnectMsg, wire.ClientSetSecurity:
			// Accepted but intentionally inert.
		default:
			s.logger.Debug("dropping unrecognized client message",
				zap.Uint16("msg_type", msgType),
			)
		}
	}
}

// handleLogin verifies the authentication token and, on success, replies
// with the account record fields and transitions to AUTHENTICATED. Any
// verification failure terminates the connection with LOGIN_ERROR.
func (s *Session) handleLogin(it *wire.Iterator) {
	token, err := it.ReadString()
	if err != nil {
		s.Disconnect(wire.DisconnectLoginError, "Invalid token")
		return
	}
	clientVersion, _ := it.ReadString()
	schemaHash, _ := it.ReadUint32()
	wantDebug, _ := it.ReadString()

	s.logger.Debug("login request",
		zap.String("client_version", clientVersion),
		zap.Uint32("schema_hash", schemaHash),
		zap.String("want_debug", wantDebug),
	)

	rec, err := s.svc.tokens.Open(token)
	if err != nil {
		s.logger.Info("rejecting login token", zap.Error(err))
		s.Disconnect(wire.DisconnectLoginError, "Invalid token")
		return
	}

	now := time.Now()

	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientLoginResp)
	resp.AddUint8(0)   // return code
	resp.AddString("") // error text
	resp.AddUint32(rec.AccountID)
	resp.AddString(rec.Username)
	resp.AddUint8(1) // account name approved
	resp.AddString(rec.WhitelistChat)
	resp.AddString(rec.FriendsWithChat)
	resp.AddString(rec.ChatCodeRule)
	resp.AddUint32(uint32(now.Unix()))
	resp.AddUint32(0) // microseconds
	resp.AddString(rec.Access)
	resp.AddString(rec.WhitelistChat)
	resp.AddString(now.Format(time.ANSIC))
	resp.AddInt32(0) // account age in days
	resp.AddString(rec.AccountType)
	resp.AddString(rec.Username)

	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing login reply", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.account = rec
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.logger.Info("session authenticated",
		zap.Uint32("account_id", rec.AccountID),
		zap.String("username", rec.Username),
	)
}

// handleAddInterest records a new interest, subscribes its zone channels,
// and asks the container object to enumerate everything in those zones.
func (s *Session) handleAddInterest(it *wire.Iterator) {
	handle, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed add-interest", zap.Error(err))
		return
	}
	context, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed add-interest", zap.Error(err))
		return
	}
	parentID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed add-interest", zap.Error(err))
		return
	}

	zones := make([]uint32, 0, it.Remaining()/4)
	for it.Remaining() >= 4 {
		zone, _ := it.ReadUint32()
		zones = append(zones, zone)
	}

	s.logger.Debug("add interest",
		zap.Uint16("handle", handle),
		zap.Uint32("context", context),
		zap.Uint32("parent_id", parentID),
		zap.Uint32s("zones", zones),
	)

	s.interests.Add(&Interest{
		Handle:     handle,
		Context:    context,
		HasContext: true,
		ParentID:   parentID,
		Zones:      zones,
	})

	query := wire.NewDatagram()
	query.AddUint16(handle)
	query.AddUint32(context)
	query.AddUint32(parentID)
	for _, zone := range zones {
		query.AddUint32(zone)
		s.svc.router.Subscribe(wire.LocationChannel(parentID, zone), s)
	}
	s.sendUpstream([]wire.Channel{wire.Channel(parentID)}, wire.QueryZoneObjectAll, query.Bytes())
}

// handleRemoveInterest deletes an interest and reconciles zone
// subscriptions: a (parent, zone) channel is dropped only when no other
// active interest still references it, and visible objects stranded in
// now-unreferenced zones are disabled.
func (s *Session) handleRemoveInterest(it *wire.Iterator) {
	handle, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed remove-interest", zap.Error(err))
		return
	}
	var context *uint32
	if it.Remaining() >= 4 {
		c, _ := it.ReadUint32()
		context = &c
	}

	interest := s.interests.Find(handle, context)
	if interest == nil {
		s.logger.Debug("remove-interest for unknown interest",
			zap.Uint16("handle", handle),
		)
		return
	}

	// Reference counts are recomputed from the live set; an orphaned zone
	// is one only this interest still references.
	var orphaned []uint32
	for _, zone := range interest.Zones {
		if len(s.interests.LookupZone(interest.ParentID, zone)) == 1 {
			orphaned = append(orphaned, zone)
		}
	}

	s.interests.Remove(interest)

	for _, objectID := range s.directory.VisibleInZones(interest.ParentID, orphaned) {
		s.sendObjectDisable(objectID)
		s.directory.RemoveVisible(objectID)
	}

	for _, zone := range orphaned {
		s.svc.router.Unsubscribe(wire.LocationChannel(interest.ParentID, zone), s)
	}
}

// handleGetAvatars queries the persistence service for the account's
// avatar-set field and relays the returned block to the client.
func (s *Session) handleGetAvatars() {
	account := s.Account()

	replyCh := s.correlator.Await(wire.AccountQueryResp, nil)

	query := wire.NewDatagram()
	query.AddUint32(account.AccountID)
	query.AddUint16(s.svc.avatarSetField.Number)
	s.sendUpstream([]wire.Channel{wire.DBServersChannel}, wire.AccountQuery, query.Bytes())

	s.spawnFlow("get-avatars", func() {
		reply, err := s.awaitReply(replyCh)
		if err != nil {
			return
		}
		s.finishGetAvatars(reply)
	})
}

// handleSetWishname acknowledges a name request. The requested name is
// always reported as pending; moderation happens out of band.
func (s *Session) handleSetWishname(it *wire.Iterator) {
	avatarID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed set-wishname", zap.Error(err))
		return
	}
	name, err := it.ReadString()
	if err != nil {
		s.logger.Debug("malformed set-wishname", zap.Error(err))
		return
	}

	s.logger.Debug("set wishname",
		zap.Uint32("avatar_id", avatarID),
		zap.String("name", name),
	)

	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientSetWishnameResp)
	resp.AddUint32(avatarID)
	resp.AddUint16(0) // not failed
	resp.AddString(name)
	resp.AddString("") // approved
	resp.AddString("") // rejected
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing wishname reply", zap.Error(err))
	}
}

// handleCreateAvatar builds a stored-object creation request carrying
// every required persisted field of the avatar class: the appearance
// field from the request, everything else defaulted from a fresh
// template.
func (s *Session) handleCreateAvatar(it *wire.Iterator) {
	if _, err := it.ReadUint16(); err != nil { // reserved
		s.logger.Debug("malformed create-avatar", zap.Error(err))
		return
	}
	appearance, err := it.ReadString()
	if err != nil {
		s.logger.Debug("malformed create-avatar", zap.Error(err))
		return
	}
	slot, err := it.ReadUint8()
	if err != nil {
		s.logger.Debug("malformed create-avatar", zap.Error(err))
		return
	}

	account := s.Account()
	class := s.svc.avatarClass

	s.logger.Debug("create avatar",
		zap.Uint8("slot", slot),
		zap.Uint32("account_id", account.AccountID),
	)

	replyCh := s.correlator.Await(wire.StoredObjectCreateResp, nil)

	req := wire.NewDatagram()
	req.AddUint32(0) // context
	req.AddUint16(class.ID)
	req.AddUint32(account.AccountID)
	req.AddUint8(slot)
	countPos := req.Tell()
	req.AddUint16(0)

	var count uint16
	for _, field := range class.Fields {
		switch {
		case field == s.svc.appearanceField:
			req.AddUint16(field.Number)
			req.AddString(appearance)
			count++
		case !field.Composite() && field.Required() && field.Persisted():
			req.AddUint16(field.Number)
			req.AddBytes(field.Default())
			count++
		}
	}
	req.WriteUint16At(countPos, count)

	s.sendUpstream([]wire.Channel{wire.DBServersChannel}, wire.StoredObjectCreate, req.Bytes())

	s.spawnFlow("create-avatar", func() {
		reply, err := s.awaitReply(replyCh)
		if err != nil {
			return
		}
		s.finishCreateAvatar(reply)
	})
}

// handleSetAvatar starts the avatar activation flow: request the
// avatar's stored required fields and continue in finishSetAvatar once
// the persistence service answers.
func (s *Session) handleSetAvatar(it *wire.Iterator) {
	avatarID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed set-avatar", zap.Error(err))
		return
	}
	if avatarID == 0 {
		s.logger.Debug("set-avatar with zero avatar id")
		return
	}

	s.mu.Lock()
	s.pendingAvatar = avatarID
	s.mu.Unlock()

	s.logger.Info("activating avatar", zap.Uint32("avatar_id", avatarID))

	// The reply must carry this flow's context id back; a type match alone
	// is not enough once several queries are in flight.
	queryContext := s.svc.NextContext()
	replyCh := s.correlator.Await(wire.StoredValuesGetResp, func(payload []byte) bool {
		got, err := wire.NewIterator(payload).ReadUint32()
		return err == nil && got == queryContext
	})

	req := wire.NewDatagram()
	req.AddUint32(queryContext)
	req.AddUint32(avatarID)
	fields := requiredPersistedFields(s.svc.avatarClass)
	req.AddUint16(uint16(len(fields)))
	for _, field := range fields {
		req.AddUint16(field.Number)
	}

	s.sendUpstream([]wire.Channel{wire.DBServersChannel}, wire.StoredValuesGet, req.Bytes())

	s.spawnFlow("set-avatar", func() {
		reply, err := s.awaitReply(replyCh)
		if err != nil {
			return
		}
		s.finishSetAvatar(avatarID, reply)
	})
}

// handleGetFriendList answers with an empty success response; friends
// live in a service the gateway does not reach yet.
func (s *Session) handleGetFriendList() {
	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientGetFriendListResp)
	resp.AddUint8(0)  // error
	resp.AddUint16(0) // count
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing friend list reply", zap.Error(err))
	}
}

// handleClientUpdateField forwards a client-authored field update
// upstream, but only for objects this session owns. Everything else is
// dropped as an authorization failure with no reply.
func (s *Session) handleClientUpdateField(it *wire.Iterator) {
	objectID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed field update", zap.Error(err))
		return
	}
	fieldNumber, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed field update", zap.Error(err))
		return
	}

	// Validate the payload against the schema; a malformed field is
	// logged and the raw bytes still forwarded for the authority to
	// judge, matching the tolerance for buggy clients.
	raw := it.ReadRemaining()
	if field := s.svc.schema.FieldByNumber(fieldNumber); field != nil && !field.Composite() {
		if _, err := field.Unpack(wire.NewIterator(raw)); err != nil {
			s.logger.Debug("client field payload failed validation",
				zap.Uint16("field", fieldNumber),
				zap.Error(err),
			)
		}
	}

	if !s.directory.IsOwned(objectID) {
		s.logger.Debug("dropping field update for unowned object",
			zap.Uint32("object_id", objectID),
			zap.Uint16("field", fieldNumber),
		)
		return
	}

	fwd := wire.NewDatagram()
	fwd.AddUint32(objectID)
	fwd.AddUint16(fieldNumber)
	fwd.AddBytes(raw)
	s.sendUpstream([]wire.Channel{wire.Channel(objectID)}, wire.ObjectUpdateField, fwd.Bytes())
}

// handleClientLocation forwards a client-authored location change as a
// set-zone request, gated on ownership like field updates.
func (s *Session) handleClientLocation(it *wire.Iterator) {
	objectID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}
	parentID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}
	zoneID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}

	if !s.directory.IsOwned(objectID) {
		s.logger.Debug("dropping location change for unowned object",
			zap.Uint32("object_id", objectID),
		)
		return
	}

	fwd := wire.NewDatagram()
	fwd.AddUint32(parentID)
	fwd.AddUint32(zoneID)
	s.sendUpstream([]wire.Channel{wire.Channel(objectID)}, wire.ObjectSetZone, fwd.Bytes())
}

// sendObjectDisable emits the client notice that an object left the
// session's view.
func (s *Session) sendObjectDisable(objectID uint32) {
	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientObjectDisable)
	resp.AddUint32(objectID)
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing disable notice", zap.Error(err))
	}
}

// requiredPersistedFields lists the avatar fields queried from and
// written to the persistence service.
func requiredPersistedFields(class *schema.Class) []*schema.Field {
	var out []*schema.Field
	for _, f := range class.Fields {
		if !f.Composite() && f.Required() && f.Persisted() {
			out = append(out, f)
		}
	}
	return out
}
