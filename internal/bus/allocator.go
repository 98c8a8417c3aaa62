// Package bus provides the internal message bus surface of the gateway:
// channel allocation, local subscription routing, and the TCP link to the
// upstream routing director.
package bus

import (
	"errors"
	"sync"

	"github.com/openotp/gateway/internal/wire"
)

// ErrExhausted is returned when every channel in the allocator's range is
// in use.
var ErrExhausted = errors.New("channel range exhausted")

// Allocator issues unique bus channels from a bounded range.
// All methods are safe for concurrent use.
type Allocator struct {
	mu   sync.Mutex
	min  uint64
	max  uint64
	next uint64
	free []wire.Channel
}

// NewAllocator creates an allocator over the inclusive range [min, max].
//
// Precondition: min must be <= max.
func NewAllocator(min, max uint64) *Allocator {
	return &Allocator{min: min, max: max, next: min}
}

// Allocate returns a channel not currently held by any other caller.
// Released channels are reused before the range is extended.
//
// Postcondition: Returns a channel in [min, max], or ErrExhausted.
func (a *Allocator) Allocate() (wire.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		ch := a.free[n-1]
		a.free = a.free[:n-1]
		return ch, nil
	}
	if a.next > a.max {
		return 0, ErrExhausted
	}
	ch := wire.Channel(a.next)
	a.next++
	return ch, nil
}

// Release returns a channel to the allocator for reuse.
//
// Precondition: ch must have been returned by Allocate and not yet
// released.
func (a *Allocator) Release(ch wire.Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if uint64(ch) < a.min || uint64(ch) >= a.next {
		return
	}
	a.free = append(a.free, ch)
}
