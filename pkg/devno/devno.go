// Package devno allocates device numbers for channel nodes from a fixed
// range. The allocator is injected into the platform layer and lives for
// the platform's lifetime.
package devno

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned by Get when no numbers remain.
var ErrExhausted = errors.New("devno: no free device numbers")

// ErrClosed is returned by Get after the allocator is closed.
var ErrClosed = errors.New("devno: allocator closed")

// Number is a (major, minor) device number.
type Number struct {
	Major uint32
	Minor uint32
}

func (n Number) String() string {
	return fmt.Sprintf("%d:%d", n.Major, n.Minor)
}

// Allocator hands out minor numbers from a contiguous range under one
// major, free-list style: released numbers are reused before the range is
// extended further.
type Allocator struct {
	mu     sync.Mutex
	major  uint32
	free   []uint32
	inUse  map[uint32]bool
	closed bool
}

// New creates an allocator for count minors starting at baseMinor.
func New(major, baseMinor uint32, count int) *Allocator {
	free := make([]uint32, 0, count)
	for i := count - 1; i >= 0; i-- { // lowest minor handed out first
		free = append(free, baseMinor+uint32(i))
	}
	return &Allocator{
		major: major,
		free:  free,
		inUse: make(map[uint32]bool),
	}
}

// Get allocates a free number.
func (a *Allocator) Get() (Number, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Number{}, ErrClosed
	}
	if len(a.free) == 0 {
		return Number{}, ErrExhausted
	}
	minor := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.inUse[minor] = true
	return Number{Major: a.major, Minor: minor}, nil
}

// Put releases a number back to the free list.
func (a *Allocator) Put(n Number) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n.Major != a.major || !a.inUse[n.Minor] {
		return fmt.Errorf("devno: %s was not allocated here", n)
	}
	delete(a.inUse, n.Minor)
	a.free = append(a.free, n.Minor)
	return nil
}

// Free returns how many numbers remain available.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// Close stops further allocation. Outstanding numbers may still be Put.
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
