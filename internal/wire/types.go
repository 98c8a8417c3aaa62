package wire

// Client-facing message types. Every client datagram starts with one of
// these 16-bit tags after the length prefix.
const (
	ClientLogin                     uint16 = 125
	ClientLoginResp                 uint16 = 126
	ClientGetAvatars                uint16 = 3
	ClientGetAvatarsResp            uint16 = 5
	ClientGoGetLost                 uint16 = 4
	ClientCreateAvatar              uint16 = 6
	ClientCreateAvatarResp          uint16 = 7
	ClientObjectUpdateField         uint16 = 24
	ClientObjectDisable             uint16 = 25
	ClientObjectLocation            uint16 = 102
	ClientSetAvatar                 uint16 = 32
	ClientCreateObjectRequired      uint16 = 34
	ClientCreateObjectRequiredOther uint16 = 35
	ClientDisconnectMsg             uint16 = 37
	ClientDoneInterestResp          uint16 = 48
	ClientSetSecurity               uint16 = 46
	ClientHeartbeat                 uint16 = 52
	ClientGetFriendList             uint16 = 61
	ClientGetFriendListResp         uint16 = 62
	ClientSetWishname               uint16 = 71
	ClientSetWishnameResp           uint16 = 72
	ClientAddInterest               uint16 = 97
	ClientRemoveInterest            uint16 = 99
	ClientGetAvatarDetailsResp      uint16 = 117
)

// Internal bus message types spoken with the object-authority and
// persistence services.
const (
	ObjectGenerateWithRequired       uint16 = 2001
	ObjectUpdateField                uint16 = 2004
	ObjectDeleteRAM                  uint16 = 2007
	ObjectSetZone                    uint16 = 2008
	ObjectChangeZone                 uint16 = 2009
	QueryZoneObjectAll               uint16 = 2021
	QueryZoneObjectAllDone           uint16 = 2046
	ObjectEnterZoneWithRequiredOther uint16 = 2066
	ObjectEnterOwnerRecv             uint16 = 2068
	ObjectSetOwnerRecv               uint16 = 2070

	StoredObjectCreate     uint16 = 1003
	StoredObjectCreateResp uint16 = 1004
	StoredValuesGet        uint16 = 1012
	StoredValuesGetResp    uint16 = 1013
	AccountQuery           uint16 = 3005
	AccountQueryResp       uint16 = 3006
)

// Bus control message types, addressed to ControlChannel and consumed by
// the upstream routing director.
const (
	ControlAddChannel    uint16 = 9000
	ControlRemoveChannel uint16 = 9001
)

// Well-known bus channels.
const (
	ControlChannel       Channel = 1
	ObjectServersChannel Channel = 20100000
	DBServersChannel     Channel = 20200000
)

// DisconnectReason enumerates the reason codes carried by a forced
// disconnect (go-get-lost) notice.
type DisconnectReason uint16

const (
	DisconnectInternalError    DisconnectReason = 1
	DisconnectRelogged         DisconnectReason = 100
	DisconnectChatError        DisconnectReason = 120
	DisconnectLoginError       DisconnectReason = 122
	DisconnectOutdatedClient   DisconnectReason = 127
	DisconnectAdminKick        DisconnectReason = 151
	DisconnectAccountSuspended DisconnectReason = 152
	DisconnectShard            DisconnectReason = 153
	DisconnectPeriodExpired    DisconnectReason = 288
	DisconnectPeriodExpired2   DisconnectReason = 349
)

// LocationChannel derives the bus address objects in (parent, zone)
// broadcast on.
func LocationChannel(parentID, zoneID uint32) Channel {
	return Channel(uint64(parentID)<<32 | uint64(zoneID))
}

// SessionChannel derives the bus address of an authenticated session that
// has activated an avatar.
func SessionChannel(accountID, avatarID uint32) Channel {
	return Channel(uint64(accountID)<<32 | uint64(avatarID))
}
