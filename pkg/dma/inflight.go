package dma

import (
	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// acquired records which transfer resources are currently held, so teardown
// releases exactly what was acquired regardless of where preparation
// stopped.
type acquired uint8

const (
	acqTable acquired = 1 << iota // descriptor table allocated
	acqPinned                     // at least one page pinned
	acqMapped                     // table mapped for device access
	acqStarted                    // submitted to the engine
)

func (a acquired) has(flag acquired) bool {
	return a&flag != 0
}

// inflightInfo tracks one transfer between prepare and teardown. It is only
// valid inside a single read/write call's critical section and is zeroed at
// the start of every prepare.
type inflightInfo struct {
	pages    []*umem.Page
	table    *umem.Table
	numPages int
	acquired acquired
}
