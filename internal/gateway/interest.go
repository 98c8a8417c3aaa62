package gateway

import "sync"

// Interest is one client-issued zone subscription spanning a parent
// container and a set of zones.
type Interest struct {
	// Handle is the client-assigned identifier, reusable across requests.
	Handle uint16
	// Context is the client-assigned correlation token.
	Context uint32
	// HasContext is false only for the well-known default interest, which
	// carries no token.
	HasContext bool
	// ParentID is the container object being observed.
	ParentID uint32
	// Zones are the observed zone identifiers under ParentID.
	Zones []uint32

	done bool
}

// CoversZone reports whether the interest observes (parentID, zoneID).
func (i *Interest) CoversZone(parentID, zoneID uint32) bool {
	if i.ParentID != parentID {
		return false
	}
	for _, z := range i.Zones {
		if z == zoneID {
			return true
		}
	}
	return false
}

// CompletionResult is the outcome of recording a zone-query-done notice.
type CompletionResult int

const (
	// CompletionUnknown means no interest matched the (handle, context).
	CompletionUnknown CompletionResult = iota
	// CompletionDuplicate means the interest was already complete.
	CompletionDuplicate
	// CompletionDone means the interest transitioned to complete.
	CompletionDone
)

// InterestManager tracks one session's active interests. Reference
// counting of (parent, zone) pairs is recomputed from the live set, never
// stored. All methods are safe for concurrent use.
type InterestManager struct {
	mu        sync.Mutex
	interests []*Interest
}

// NewInterestManager creates an empty manager.
func NewInterestManager() *InterestManager {
	return &InterestManager{}
}

// Add appends a new interest.
func (m *InterestManager) Add(in *Interest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interests = append(m.interests, in)
}

// Find returns the interest exactly matching handle and context. A nil
// context matches only an interest added without one.
func (m *InterestManager) Find(handle uint16, context *uint32) *Interest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(handle, context)
}

func (m *InterestManager) findLocked(handle uint16, context *uint32) *Interest {
	for _, in := range m.interests {
		if in.Handle != handle {
			continue
		}
		if context == nil {
			if !in.HasContext {
				return in
			}
			continue
		}
		if in.HasContext && in.Context == *context {
			return in
		}
	}
	return nil
}

// Remove deletes the interest from the active set. Removing an interest
// not in the set is a no-op.
func (m *InterestManager) Remove(target *Interest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, in := range m.interests {
		if in == target {
			m.interests = append(m.interests[:i], m.interests[i+1:]...)
			return
		}
	}
}

// LookupZone returns every active interest covering (parentID, zoneID).
func (m *InterestManager) LookupZone(parentID, zoneID uint32) []*Interest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Interest
	for _, in := range m.interests {
		if in.CoversZone(parentID, zoneID) {
			out = append(out, in)
		}
	}
	return out
}

// CoversZone reports whether any active interest observes the location.
func (m *InterestManager) CoversZone(parentID, zoneID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.interests {
		if in.CoversZone(parentID, zoneID) {
			return true
		}
	}
	return false
}

// Complete records a zone-query-done notice for (handle, context).
// Completion is idempotent: the second notice for the same interest
// reports CompletionDuplicate and must not be reprocessed.
func (m *InterestManager) Complete(handle uint16, context uint32) CompletionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.findLocked(handle, &context)
	if in == nil {
		return CompletionUnknown
	}
	if in.done {
		return CompletionDuplicate
	}
	in.done = true
	return CompletionDone
}

// Count returns the number of active interests.
func (m *InterestManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.interests)
}
