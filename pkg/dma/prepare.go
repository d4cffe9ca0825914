package dma

import (
	"fmt"
	"log"

	"github.com/jeremytrimble/ezdma/pkg/engine"
	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// Transfer procedure:
//
//	Figure out how many pages.
//	Allocate the descriptor table.
//	Pin the pages backing the buffer.
//	Build one descriptor per page.
//	Map the table for device access.
//	Submit to the engine and kick it.
//	Suspend until completion or cancellation.
//	If cancelled, terminate in-flight engine work.
//	Unwind everything, in reverse, off the acquired flags.

// prepare pins, describes, maps and submits buf. Called with the session
// lock held but not the state lock. On failure everything acquired so far
// is torn down before the error is returned.
func (c *Channel) prepare(buf []byte) error {
	// Another caller may still be between dropping the session lock to
	// wait and taking it back to unwind; its in-flight record is live and
	// must not be touched.
	c.stateMu.Lock()
	idle := c.state == stateIdle
	c.stateMu.Unlock()
	if !idle {
		return NewError(StatusBusy, c.name+": transfer in progress")
	}

	c.inflight = inflightInfo{} // no stale pointers from a previous call

	// Drop any wake left over from a completion that raced a cancelled
	// wait.
	select {
	case <-c.wake:
	default:
	}

	inf := &c.inflight
	inf.numPages = umem.PageCount(buf)

	table, err := c.alloc.NewTable(inf.numPages)
	if err != nil {
		return c.prepareFailed(NewErrorWithCause(StatusOutOfMemory, c.name+": sg table", err))
	}
	inf.table = table
	inf.acquired |= acqTable

	pages, err := c.pinner.Pin(buf, inf.numPages, c.dir == DeviceToHost)
	inf.pages = pages
	if len(pages) > 0 {
		inf.acquired |= acqPinned
	}
	if err != nil || len(pages) != inf.numPages {
		log.Printf("ezdma: %s: pinned %d of %d pages", c.name, len(pages), inf.numPages)
		return c.prepareFailed(NewErrorWithCause(StatusPinFailure, c.name, err))
	}

	umem.Build(inf.table, buf)

	mapped, err := c.mapper.MapSG(inf.table, c.dir)
	if mapped > 0 {
		inf.acquired |= acqMapped
	}
	if err != nil || mapped != inf.numPages {
		log.Printf("ezdma: %s: mapped %d of %d pages", c.name, mapped, inf.numPages)
		return c.prepareFailed(NewErrorWithCause(StatusMapFailure, c.name, err))
	}

	txn, err := c.eng.PrepareSG(inf.table, c.dir)
	if err != nil {
		return c.prepareFailed(NewErrorWithCause(StatusSubmitFailure, c.name, err))
	}
	txn.Callback = c.complete

	c.stateMu.Lock()
	c.state = stateInFlight
	cookie, err := c.eng.Submit(txn)
	if err == nil && cookie < engine.MinCookie {
		err = fmt.Errorf("bad cookie %d", cookie)
	}
	if err != nil {
		c.state = stateIdle
		c.stateMu.Unlock()
		return c.prepareFailed(NewErrorWithCause(StatusSubmitFailure, c.name, err))
	}
	inf.acquired |= acqStarted
	c.eng.Issue() // bam
	c.stateMu.Unlock()

	return nil
}

// prepareFailed tears down off the flags already set and passes the error
// through.
func (c *Channel) prepareFailed(err error) error {
	c.stateMu.Lock()
	c.teardownLocked()
	c.stateMu.Unlock()
	return err
}

// teardownLocked unwinds a transfer exactly once: unmap if mapped, dirty
// and unpin whatever pages were pinned, free the table if allocated, and
// reset the state to idle. Called with the state lock held, from thread
// context after a preparation failure and from the post-wait path after
// completion or cancellation. It must not block.
func (c *Channel) teardownLocked() {
	c.state = stateIdle

	inf := &c.inflight

	if inf.acquired.has(acqMapped) {
		c.mapper.UnmapSG(inf.table, c.dir)
	}
	inf.acquired &^= acqMapped

	if inf.acquired.has(acqPinned) {
		for _, p := range inf.pages {
			if inf.acquired.has(acqStarted) && c.dir == DeviceToHost {
				// The engine reports no transferred-byte count, so assume
				// the device wrote the whole range.
				c.pinner.MarkDirty(p)
			}
			c.pinner.Unpin(p)
		}
	}
	inf.acquired &^= acqPinned

	if inf.acquired.has(acqTable) {
		c.alloc.Free(inf.table)
	}
	inf.acquired = 0

	inf.table = nil
	inf.pages = nil
	inf.numPages = 0
}

// complete is the completion notifier, invoked by the engine on its own
// goroutine when the submitted descriptor finishes. It must not block: it
// takes only the state lock, and if the transfer is still in flight moves
// it to completing and wakes the waiter. Any other state means the wait was
// already abandoned and the notification is a no-op.
func (c *Channel) complete() {
	c.stateMu.Lock()
	if c.state == stateInFlight {
		c.state = stateCompleting
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	// else: well, nevermind then...
	c.stateMu.Unlock()
}
