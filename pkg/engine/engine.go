// Package engine defines the contract between a DMA channel and the
// hardware engine that executes its transfers, along with an in-memory
// loopback implementation used for testing and benchmarking.
package engine

import (
	"errors"

	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// Cookie identifies a submitted transaction. Submissions accepted by an
// engine return a cookie >= MinCookie.
type Cookie int32

// MinCookie is the smallest cookie an engine may hand out.
const MinCookie Cookie = 1

// Transaction is one prepared transfer awaiting submission. The Callback is
// invoked by the engine on its own goroutine when the transfer finishes; it
// must not block and must not assume it can acquire anything beyond a fast
// state lock.
type Transaction struct {
	SG       *umem.Table
	Dir      umem.Direction
	Callback func()
}

// Engine is one hardware DMA channel as seen by the transfer core. The
// shape follows the slave-SG contract: prepare a descriptor list, submit it
// for a cookie, then kick the engine to start processing pending work.
type Engine interface {
	// PrepareSG builds a transaction for the descriptor table, or fails if
	// the engine cannot service it.
	PrepareSG(sg *umem.Table, dir umem.Direction) (*Transaction, error)

	// Submit queues a prepared transaction. It fails if the engine rejects
	// the descriptor or its submission queue is full.
	Submit(t *Transaction) (Cookie, error)

	// Issue starts processing submitted transactions. It must not block.
	Issue()

	// TerminateAll aborts all in-flight and pending work on the channel.
	// Aborted transactions do not get their callback invoked.
	TerminateAll() error
}

var (
	// ErrBusy is returned by Submit when a transaction is already queued.
	ErrBusy = errors.New("engine: transfer already queued")

	// ErrBadDirection is returned by PrepareSG when the descriptor
	// direction does not match the channel.
	ErrBadDirection = errors.New("engine: direction does not match channel")

	// ErrEmptyTable is returned by PrepareSG for a nil or empty table.
	ErrEmptyTable = errors.New("engine: empty descriptor table")
)
