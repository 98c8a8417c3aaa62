package gateway

import (
	"fmt"

	"github.com/openotp/gateway/internal/wire"
)

// PotentialAvatar is a read-only projection of a stored avatar record as
// returned by the persistence service during avatar listing. It is
// rebuilt in full on every listing query.
type PotentialAvatar struct {
	ObjectID     uint32
	Name         string
	WishName     string
	ApprovedName string
	RejectedName string
	Appearance   string
	Slot         uint8
}

// parseAvatarList decodes the persistence service's avatar listing block:
// a uint16 count followed by count records. The iterator is left at the
// end of the block.
func parseAvatarList(it *wire.Iterator) ([]PotentialAvatar, error) {
	count, err := it.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("reading avatar count: %w", err)
	}

	avatars := make([]PotentialAvatar, 0, count)
	for i := 0; i < int(count); i++ {
		var av PotentialAvatar
		if av.ObjectID, err = it.ReadUint32(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		if av.Name, err = it.ReadString(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		if av.WishName, err = it.ReadString(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		if av.ApprovedName, err = it.ReadString(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		if av.RejectedName, err = it.ReadString(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		if av.Appearance, err = it.ReadString(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		if av.Slot, err = it.ReadUint8(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		// Trailing reserved byte per record.
		if _, err = it.ReadUint8(); err != nil {
			return nil, fmt.Errorf("avatar %d: %w", i, err)
		}
		avatars = append(avatars, av)
	}
	return avatars, nil
}
