package gateway

import (
	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/wire"
)

// handleBusDatagram processes one bus message addressed to this session.
// Messages from the session's own channel are echoes and ignored; pending
// correlator waits are offered the message before normal dispatch.
func (s *Session) handleBusDatagram(msg bus.Message) {
	if msg.Sender == s.Channel() {
		return
	}

	resolved := s.correlator.Offer(msg)

	switch msg.Type {
	case wire.ObjectEnterZoneWithRequiredOther:
		s.handleObjectEntrance(wire.NewIterator(msg.Payload))
	case wire.ObjectEnterOwnerRecv:
		s.handleOwnerEntrance(wire.NewIterator(msg.Payload))
	case wire.ObjectChangeZone:
		s.handleLocationChange(wire.NewIterator(msg.Payload))
	case wire.QueryZoneObjectAllDone:
		s.handleInterestDone(wire.NewIterator(msg.Payload))
	case wire.ObjectUpdateField:
		s.handleFieldUpdateEcho(msg)
	default:
		if !resolved {
			s.logger.Debug("unhandled bus message",
				zap.Uint16("msg_type", msg.Type),
				zap.Uint64("sender", uint64(msg.Sender)),
			)
		}
	}
}

// handleObjectEntrance processes an object appearing in a subscribed
// zone. Owned objects are skipped so an avatar is never duplicated into
// its own session's visible set.
func (s *Session) handleObjectEntrance(it *wire.Iterator) {
	hasOther, err := it.ReadUint8()
	if err != nil {
		s.logger.Debug("malformed zone entrance", zap.Error(err))
		return
	}
	objectID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed zone entrance", zap.Error(err))
		return
	}

	if s.directory.IsOwned(objectID) {
		return
	}

	parentID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed zone entrance", zap.Error(err))
		return
	}
	zoneID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed zone entrance", zap.Error(err))
		return
	}
	classID, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed zone entrance", zap.Error(err))
		return
	}

	s.directory.AddVisible(ObjectInfo{
		ObjectID: objectID,
		ClassID:  classID,
		ParentID: parentID,
		ZoneID:   zoneID,
	})

	msgType := wire.ClientCreateObjectRequired
	if hasOther != 0 {
		msgType = wire.ClientCreateObjectRequiredOther
	}
	resp := wire.NewDatagram()
	resp.AddUint16(msgType)
	resp.AddUint32(parentID)
	resp.AddUint32(zoneID)
	resp.AddUint16(classID)
	resp.AddUint32(objectID)
	resp.AddBytes(it.ReadRemaining())
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing create-object notice", zap.Error(err))
	}
}

// handleOwnerEntrance answers the avatar-details reply once the
// authority service confirms ownership routing, using the field set
// cached by the activation flow. Only required, non-composite fields are
// replicated.
func (s *Session) handleOwnerEntrance(it *wire.Iterator) {
	objectID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed owner entrance", zap.Error(err))
		return
	}
	if _, err := it.ReadUint32(); err != nil { // parent
		s.logger.Debug("malformed owner entrance", zap.Error(err))
		return
	}
	if _, err := it.ReadUint32(); err != nil { // zone
		s.logger.Debug("malformed owner entrance", zap.Error(err))
		return
	}
	classID, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed owner entrance", zap.Error(err))
		return
	}

	class := s.svc.schema.ClassByID(classID)
	if class == nil {
		s.logger.Warn("owner entrance with unknown class",
			zap.Uint16("class_id", classID),
			zap.Uint32("object_id", objectID),
		)
		return
	}

	s.mu.Lock()
	pending := s.pendingAvatar
	fields := s.avatarFields
	s.mu.Unlock()

	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientGetAvatarDetailsResp)
	resp.AddUint32(pending)
	resp.AddUint8(0) // return code
	for _, field := range class.Fields {
		if field.Composite() || !field.Required() {
			continue
		}
		if packed, ok := fields[field.Number]; ok {
			resp.AddBytes(packed)
		} else {
			resp.AddBytes(field.Default())
		}
	}
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing avatar details", zap.Error(err))
	}
}

// handleInterestDone marks an interest fully populated and acknowledges
// it to the client. Duplicate completions are ignored.
func (s *Session) handleInterestDone(it *wire.Iterator) {
	handle, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed interest-done", zap.Error(err))
		return
	}
	context, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed interest-done", zap.Error(err))
		return
	}

	switch s.interests.Complete(handle, context) {
	case CompletionUnknown:
		s.logger.Debug("interest-done for unknown interest",
			zap.Uint16("handle", handle),
			zap.Uint32("context", context),
		)
		return
	case CompletionDuplicate:
		s.logger.Debug("duplicate interest-done",
			zap.Uint16("handle", handle),
			zap.Uint32("context", context),
		)
		return
	}

	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientDoneInterestResp)
	resp.AddUint16(handle)
	resp.AddUint32(context)
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing interest-done ack", zap.Error(err))
	}
}

// handleFieldUpdateEcho relays a field change made by another authority
// verbatim to the client. Updates sent by this session never loop back
// here; the sender check in handleBusDatagram filters them.
func (s *Session) handleFieldUpdateEcho(msg bus.Message) {
	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientObjectUpdateField)
	resp.AddBytes(msg.Payload)
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("relaying field update", zap.Error(err))
	}
}

// handleLocationChange reconciles an object's move against the session's
// interests: objects leaving every active interest are disabled and
// dropped from the visible set; owned entries only track the new
// location.
func (s *Session) handleLocationChange(it *wire.Iterator) {
	objectID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}
	newParent, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}
	newZone, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}
	// Old location follows; the reconciliation below only needs the new.
	if _, err := it.ReadUint32(); err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}
	if _, err := it.ReadUint32(); err != nil {
		s.logger.Debug("malformed location change", zap.Error(err))
		return
	}

	covered := s.interests.CoversZone(newParent, newZone)

	visible, owned := s.directory.SetLocation(objectID, newParent, newZone)
	if !visible && !owned {
		return
	}

	if !covered && visible {
		s.sendObjectDisable(objectID)
		s.directory.RemoveVisible(objectID)
	}
	// An object that moved but stayed inside an active interest sends no
	// client notice.
}

// finishGetAvatars resumes the avatar listing flow: cache the parsed
// records and relay the backend block to the client behind a success
// code.
func (s *Session) finishGetAvatars(reply Reply) {
	it := wire.NewIterator(reply.Payload)
	block := it.ReadRemaining()

	avatars, err := parseAvatarList(wire.NewIterator(block))
	if err != nil {
		s.logger.Warn("malformed avatar list from persistence", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.avatars = avatars
	s.mu.Unlock()

	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientGetAvatarsResp)
	resp.AddUint8(0) // return code
	resp.AddBytes(block)
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing avatar list", zap.Error(err))
	}

	s.logger.Info("listed avatars", zap.Int("count", len(avatars)))
}

// finishCreateAvatar resumes the avatar creation flow with the
// persistence service's acknowledgment.
func (s *Session) finishCreateAvatar(reply Reply) {
	it := wire.NewIterator(reply.Payload)
	returnCode, err := it.ReadUint8()
	if err != nil {
		s.logger.Debug("malformed create acknowledgment", zap.Error(err))
		return
	}
	avatarID, err := it.ReadUint32()
	if err != nil {
		s.logger.Debug("malformed create acknowledgment", zap.Error(err))
		return
	}

	resp := wire.NewDatagram()
	resp.AddUint16(wire.ClientCreateAvatarResp)
	resp.AddUint16(0) // context
	resp.AddUint8(returnCode)
	resp.AddUint32(avatarID)
	if err := s.SendToClient(resp); err != nil {
		s.logger.Debug("writing create-avatar reply", zap.Error(err))
	}

	s.logger.Info("created avatar",
		zap.Uint32("avatar_id", avatarID),
		zap.Uint8("return_code", returnCode),
	)
}

// finishSetAvatar resumes avatar activation once the stored field values
// arrive: apply the gateway-side override fields, transition the session
// channel to its avatar identity, ask the authority service to generate
// the object, and route ownership notices back here.
func (s *Session) finishSetAvatar(avatarID uint32, reply Reply) {
	it := wire.NewIterator(reply.Payload)
	if _, err := it.ReadUint32(); err != nil { // context
		s.logger.Debug("malformed stored values", zap.Error(err))
		return
	}
	fieldCount, err := it.ReadUint16()
	if err != nil {
		s.logger.Debug("malformed stored values", zap.Error(err))
		return
	}

	class := s.svc.avatarClass
	s.directory.AddOwned(ObjectInfo{ObjectID: avatarID, ClassID: class.ID})

	fields := make(map[uint16][]byte, fieldCount)
	for i := 0; i < int(fieldCount); i++ {
		number, err := it.ReadUint16()
		if err != nil {
			s.logger.Debug("malformed stored values", zap.Error(err))
			return
		}
		field := s.svc.schema.FieldByNumber(number)
		if field == nil {
			s.logger.Warn("stored values reference unknown field",
				zap.Uint16("field", number),
			)
			return
		}
		packed, err := field.Unpack(it)
		if err != nil {
			s.logger.Warn("unpacking stored field",
				zap.String("field", field.Name),
				zap.Error(err),
			)
			return
		}
		fields[number] = packed
	}

	// Gateway-side overrides: the live access level starts from the
	// stored previous one, battles reset, game-master is never granted
	// from storage.
	if prev, ok := fields[s.svc.prevAccessField.Number]; ok {
		fields[s.svc.accessField.Number] = prev
	}
	fields[s.svc.battleField.Number] = s.svc.battleField.Default()
	fields[s.svc.gameMasterField.Number] = []byte{0}

	account := s.Account()
	newChannel := wire.SessionChannel(account.AccountID, avatarID)
	s.setChannel(newChannel)

	s.mu.Lock()
	s.avatarFields = fields
	s.mu.Unlock()

	generate := wire.NewDatagram()
	generate.AddUint32(0) // parent
	generate.AddUint32(0) // zone
	generate.AddUint16(class.ID)
	generate.AddUint32(avatarID)
	for _, field := range class.Fields {
		if field.Composite() || !field.Required() {
			continue
		}
		if packed, ok := fields[field.Number]; ok {
			generate.AddBytes(packed)
		} else {
			generate.AddBytes(field.Default())
		}
	}
	s.sendUpstream([]wire.Channel{wire.ObjectServersChannel}, wire.ObjectGenerateWithRequired, generate.Bytes())

	ownerRecv := wire.NewDatagram()
	ownerRecv.AddUint32(avatarID)
	ownerRecv.AddChannel(newChannel)
	s.sendUpstream([]wire.Channel{wire.ObjectServersChannel}, wire.ObjectSetOwnerRecv, ownerRecv.Bytes())

	s.logger.Info("avatar activated",
		zap.Uint32("avatar_id", avatarID),
		zap.Uint64("channel", uint64(newChannel)),
	)
}
