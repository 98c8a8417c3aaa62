package gateway

import "sync"

// ObjectInfo describes a distributed object known to one session.
type ObjectInfo struct {
	// ObjectID is the object's bus-wide identity.
	ObjectID uint32
	// ClassID is the object's schema class.
	ClassID uint16
	// ParentID is the container the object currently sits in.
	ParentID uint32
	// ZoneID is the zone within the parent.
	ZoneID uint32
}

// Directory tracks the distributed objects a session can see or owns.
// The two sets overlap: an object may be both visible through a zone
// subscription and owned. All methods are safe for concurrent use.
type Directory struct {
	mu      sync.Mutex
	visible map[uint32]*ObjectInfo
	owned   map[uint32]*ObjectInfo
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		visible: make(map[uint32]*ObjectInfo),
		owned:   make(map[uint32]*ObjectInfo),
	}
}

// AddVisible inserts an object received through a zone subscription.
func (d *Directory) AddVisible(info ObjectInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible[info.ObjectID] = &info
}

// RemoveVisible drops an object from the visible set. Removing an absent
// object is a no-op.
func (d *Directory) RemoveVisible(objectID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.visible, objectID)
}

// Visible returns the visible entry for objectID, if any.
func (d *Directory) Visible(objectID uint32) (ObjectInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.visible[objectID]; ok {
		return *info, true
	}
	return ObjectInfo{}, false
}

// AddOwned inserts an object this session holds mutation authority over.
func (d *Directory) AddOwned(info ObjectInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owned[info.ObjectID] = &info
}

// RemoveOwned drops an object from the owned set.
func (d *Directory) RemoveOwned(objectID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.owned, objectID)
}

// IsOwned reports whether the session owns objectID. This is the
// authorization gate for client-authored updates.
func (d *Directory) IsOwned(objectID uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.owned[objectID]
	return ok
}

// Owned returns the owned entry for objectID, if any.
func (d *Directory) Owned(objectID uint32) (ObjectInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.owned[objectID]; ok {
		return *info, true
	}
	return ObjectInfo{}, false
}

// SetLocation updates the stored location on whichever entries exist for
// objectID and reports which sets held it.
func (d *Directory) SetLocation(objectID, parentID, zoneID uint32) (visible, owned bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.visible[objectID]; ok {
		info.ParentID = parentID
		info.ZoneID = zoneID
		visible = true
	}
	if info, ok := d.owned[objectID]; ok {
		info.ParentID = parentID
		info.ZoneID = zoneID
		owned = true
	}
	return visible, owned
}

// VisibleInZones returns the ids of visible objects located under
// parentID in any of the given zones.
func (d *Directory) VisibleInZones(parentID uint32, zones []uint32) []uint32 {
	zoneSet := make(map[uint32]struct{}, len(zones))
	for _, z := range zones {
		zoneSet[z] = struct{}{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uint32
	for id, info := range d.visible {
		if info.ParentID != parentID {
			continue
		}
		if _, ok := zoneSet[info.ZoneID]; ok {
			out = append(out, id)
		}
	}
	return out
}

// VisibleCount returns the size of the visible set.
func (d *Directory) VisibleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.visible)
}

// OwnedIDs returns a snapshot of the owned object ids.
func (d *Directory) OwnedIDs() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint32, 0, len(d.owned))
	for id := range d.owned {
		out = append(out, id)
	}
	return out
}
