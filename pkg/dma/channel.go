// Package dma implements the zero-copy blocking transfer core: a calling
// goroutine pins its buffer's pages, submits a scatter-gather descriptor
// list to a DMA engine channel, suspends until the completion callback
// fires or the call is cancelled, and unwinds every acquired resource
// exactly once on every exit path.
package dma

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremytrimble/ezdma/pkg/engine"
	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// Direction of a channel; each channel moves data one way only.
type Direction = umem.Direction

const (
	DeviceToHost = umem.DeviceToHost
	HostToDevice = umem.HostToDevice
)

// AlignBytes is the transfer length granularity. Reads and writes must be a
// positive multiple of this.
const AlignBytes = 1

// DefaultReacquireTimeout bounds how long a woken transfer waits to take
// the session lock back. Expiry means the lock holder is stuck; the call
// fail-stops rather than touching in-flight resources concurrently.
const DefaultReacquireTimeout = 5 * time.Second

// Config describes one channel.
type Config struct {
	Name   string
	Dir    Direction
	Engine engine.Engine

	// Optional; defaulted when nil.
	Pinner umem.Pinner
	Mapper umem.Mapper
	Alloc  umem.Allocator

	// ReacquireTimeout overrides DefaultReacquireTimeout when positive.
	ReacquireTimeout time.Duration
}

// Stats are the channel's transfer counters.
type Stats struct {
	PacketsSent uint64
	PacketsRcvd uint64
}

// Channel is one single-direction DMA endpoint. All reads, writes, opens
// and releases on a channel are serialized by its session lock; at most one
// transfer is in flight at a time.
//
// Lock ordering: the session lock is always taken before the state lock.
// The completion path takes only the state lock.
type Channel struct {
	name string
	dir  Direction

	eng    engine.Engine
	pinner umem.Pinner
	mapper umem.Mapper
	alloc  umem.Allocator

	reacquireTimeout time.Duration

	// sem is the session lock: a cap-1 semaphore serializing all calls on
	// the channel. inUse is guarded by it.
	sem   chan struct{}
	inUse bool

	accepting atomic.Bool

	// stateMu is the fast state lock. It is never held across anything
	// that blocks and is the only lock the completion callback takes.
	stateMu  sync.Mutex
	state    fsmState
	inflight inflightInfo

	// wake carries at most one pending completion notification.
	wake chan struct{}

	packetsSent atomic.Uint64
	packetsRcvd atomic.Uint64
}

// New creates a channel from cfg.
func New(cfg Config) (*Channel, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("channel name required")
	}
	if !cfg.Dir.Valid() {
		return nil, NewError(StatusInvalidDirection, cfg.Name)
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%s: channel requires an engine", cfg.Name)
	}
	c := &Channel{
		name:             cfg.Name,
		dir:              cfg.Dir,
		eng:              cfg.Engine,
		pinner:           cfg.Pinner,
		mapper:           cfg.Mapper,
		alloc:            cfg.Alloc,
		reacquireTimeout: cfg.ReacquireTimeout,
		sem:              make(chan struct{}, 1),
		wake:             make(chan struct{}, 1),
	}
	if c.pinner == nil {
		c.pinner = umem.HostPinner{}
	}
	if c.mapper == nil {
		c.mapper = umem.NopMapper{}
	}
	if c.alloc == nil {
		c.alloc = umem.HeapAllocator{}
	}
	if c.reacquireTimeout <= 0 {
		c.reacquireTimeout = DefaultReacquireTimeout
	}
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Dir returns the channel direction.
func (c *Channel) Dir() Direction { return c.dir }

// Stats returns a snapshot of the transfer counters.
func (c *Channel) Stats() Stats {
	return Stats{
		PacketsSent: c.packetsSent.Load(),
		PacketsRcvd: c.packetsRcvd.Load(),
	}
}

// acquire takes the session lock, or fails with Interrupted if ctx is
// cancelled first. No state is changed on failure.
func (c *Channel) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return NewErrorWithCause(StatusInterrupted, c.name, ctx.Err())
	}
}

// acquireTimeout takes the session lock within d, reporting failure on
// expiry.
func (c *Channel) acquireTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Channel) release() {
	<-c.sem
}

// Open claims the channel for exclusive use. A second open while the
// channel is in use fails with Busy.
func (c *Channel) Open(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if c.inUse {
		return NewError(StatusBusy, c.name)
	}
	c.inUse = true
	c.accepting.Store(true)
	return nil
}

// Release marks the channel as no longer accepting I/O, terminates any
// in-flight engine work, and clears the in-use flag.
func (c *Channel) Release(ctx context.Context) error {
	c.accepting.Store(false) // disallow new reads/writes

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.eng.TerminateAll(); err != nil {
		log.Printf("ezdma: %s: terminate on release failed: %v", c.name, err)
	}
	c.inUse = false
	return nil
}

// Read receives into buf from a device-to-host channel, blocking until the
// transfer completes or ctx is cancelled. On success the full requested
// count is returned; the engine reports no partial-transfer size.
func (c *Channel) Read(ctx context.Context, buf []byte) (int, error) {
	if c.dir != DeviceToHost {
		log.Printf("ezdma: %s: can't read, is a TX device", c.name)
		return 0, NewError(StatusInvalidDirection, c.name+": read")
	}
	return c.transfer(ctx, buf)
}

// Write sends buf on a host-to-device channel, blocking until the transfer
// completes or ctx is cancelled.
func (c *Channel) Write(ctx context.Context, buf []byte) (int, error) {
	if c.dir != HostToDevice {
		log.Printf("ezdma: %s: can't write, is an RX device", c.name)
		return 0, NewError(StatusInvalidDirection, c.name+": write")
	}
	return c.transfer(ctx, buf)
}

func (c *Channel) transfer(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 || len(buf)%AlignBytes != 0 {
		log.Printf("ezdma: %s: unaligned transfer of %d bytes requested", c.name, len(buf))
		return 0, NewError(StatusInvalidLength, c.name)
	}

	if err := c.acquire(ctx); err != nil {
		return 0, err
	}

	if !c.accepting.Load() {
		c.release()
		return 0, NewError(StatusBadFileDescriptor, c.name)
	}

	if err := c.prepare(buf); err != nil {
		c.release()
		return 0, err
	}

	c.release()

	waitErr := c.waitNotInFlight(ctx)

	if !c.acquireTimeout(c.reacquireTimeout) {
		// The lock holder is wedged. Returning without cleanup is
		// deliberate: mutating the in-flight record concurrently would be
		// worse than the leak.
		log.Printf("ezdma: %s: session lock reacquire stalled for %v -- probably broken",
			c.name, c.reacquireTimeout)
		return 0, NewError(StatusLockTimeout, c.name)
	}

	var result error
	c.stateMu.Lock()
	if c.state == stateInFlight && waitErr != nil {
		// The wait was abandoned with the transfer still running; stop the
		// hardware before releasing its pages.
		if err := c.eng.TerminateAll(); err != nil {
			log.Printf("ezdma: %s: terminate after interrupt failed: %v", c.name, err)
		}
		result = waitErr
	}
	c.teardownLocked() // back to idle
	c.stateMu.Unlock()

	c.release()

	if result != nil {
		return 0, result
	}
	if c.dir == DeviceToHost {
		c.packetsRcvd.Add(1)
	} else {
		c.packetsSent.Add(1)
	}
	return len(buf), nil
}

// waitNotInFlight suspends until the completion callback has moved the
// state out of inFlight, or ctx is cancelled.
func (c *Channel) waitNotInFlight(ctx context.Context) error {
	for {
		c.stateMu.Lock()
		inFlight := c.state == stateInFlight
		c.stateMu.Unlock()
		if !inFlight {
			return nil
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			return NewErrorWithCause(StatusInterrupted, c.name, ctx.Err())
		}
	}
}
