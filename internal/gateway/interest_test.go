package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestInterest_CoversZone(t *testing.T) {
	in := &Interest{ParentID: 4618, Zones: []uint32{2000, 3000}}

	assert.True(t, in.CoversZone(4618, 2000))
	assert.True(t, in.CoversZone(4618, 3000))
	assert.False(t, in.CoversZone(4618, 4000))
	assert.False(t, in.CoversZone(9999, 2000))
}

func TestInterestManager_FindByHandleAndContext(t *testing.T) {
	m := NewInterestManager()
	withCtx := &Interest{Handle: 1, Context: 50, HasContext: true, ParentID: 4618}
	noCtx := &Interest{Handle: 1, ParentID: 4618}
	m.Add(withCtx)
	m.Add(noCtx)

	ctx := uint32(50)
	assert.Same(t, withCtx, m.Find(1, &ctx))
	assert.Same(t, noCtx, m.Find(1, nil))

	other := uint32(99)
	assert.Nil(t, m.Find(1, &other))
	assert.Nil(t, m.Find(2, &ctx))
}

func TestInterestManager_Remove(t *testing.T) {
	m := NewInterestManager()
	in := &Interest{Handle: 1, Context: 5, HasContext: true}
	m.Add(in)
	require.Equal(t, 1, m.Count())

	m.Remove(in)
	assert.Equal(t, 0, m.Count())

	// Removing an interest not in the set is a no-op.
	m.Remove(in)
	assert.Equal(t, 0, m.Count())
}

func TestInterestManager_LookupZone(t *testing.T) {
	m := NewInterestManager()
	a := &Interest{Handle: 1, Context: 1, HasContext: true, ParentID: 4618, Zones: []uint32{2000, 3000}}
	b := &Interest{Handle: 2, Context: 2, HasContext: true, ParentID: 4618, Zones: []uint32{2000}}
	m.Add(a)
	m.Add(b)

	assert.Len(t, m.LookupZone(4618, 2000), 2)
	assert.Len(t, m.LookupZone(4618, 3000), 1)
	assert.Empty(t, m.LookupZone(4618, 9000))
	assert.True(t, m.CoversZone(4618, 3000))
	assert.False(t, m.CoversZone(4618, 9000))

	m.Remove(a)
	assert.False(t, m.CoversZone(4618, 3000))
	assert.True(t, m.CoversZone(4618, 2000))
}

func TestInterestManager_CompleteIsIdempotent(t *testing.T) {
	m := NewInterestManager()
	m.Add(&Interest{Handle: 3, Context: 77, HasContext: true})

	assert.Equal(t, CompletionDone, m.Complete(3, 77))
	assert.Equal(t, CompletionDuplicate, m.Complete(3, 77))
	assert.Equal(t, CompletionUnknown, m.Complete(3, 78))
	assert.Equal(t, CompletionUnknown, m.Complete(9, 77))
}

// Zone reference counts are recomputed from the live interest set; this
// property pins the recomputation against a model map of counts.
func TestInterestManager_ZoneRefcountRecomputation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewInterestManager()
		var live []*Interest
		refs := make(map[uint64]int)

		key := func(parent, zone uint32) uint64 {
			return uint64(parent)<<32 | uint64(zone)
		}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, "remove") {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "victim")
				in := live[idx]
				live = append(live[:idx], live[idx+1:]...)
				m.Remove(in)
				for _, z := range in.Zones {
					refs[key(in.ParentID, z)]--
				}
			} else {
				parent := rapid.Uint32Range(1, 3).Draw(t, "parent")
				zones := rapid.SliceOfNDistinct(
					rapid.Uint32Range(1, 5), 1, 4,
					func(z uint32) uint32 { return z },
				).Draw(t, "zones")
				in := &Interest{
					Handle:     uint16(i),
					Context:    uint32(i),
					HasContext: true,
					ParentID:   parent,
					Zones:      zones,
				}
				live = append(live, in)
				m.Add(in)
				for _, z := range zones {
					refs[key(parent, z)]++
				}
			}

			for k, n := range refs {
				parent := uint32(k >> 32)
				zone := uint32(k)
				if got := len(m.LookupZone(parent, zone)); got != n {
					t.Fatalf("zone (%d, %d): %d interests, model says %d", parent, zone, got, n)
				}
				if m.CoversZone(parent, zone) != (n > 0) {
					t.Fatalf("zone (%d, %d): coverage disagrees with model count %d", parent, zone, n)
				}
			}
		}
	})
}
