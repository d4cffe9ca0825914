// Package testutil provides the mock resource layer the transfer tests
// account against: a fake engine with manual completion control, and
// pinner/mapper/allocator fakes that track every acquire and release.
package testutil

import (
	"errors"
	"sync"

	"github.com/jeremytrimble/ezdma/pkg/engine"
	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// FakeEngine implements engine.Engine with injectable failures. With
// AutoComplete set, Issue fires the completion callback from a separate
// goroutine, like a transfer that finishes on its own; otherwise the test
// drives completion with CompletePending.
type FakeEngine struct {
	mu sync.Mutex

	FailPrepare  bool
	FailSubmit   bool
	AutoComplete bool

	pending    *engine.Transaction
	next       engine.Cookie
	submits    int
	issues     int
	terminates int
}

func (e *FakeEngine) PrepareSG(sg *umem.Table, dir umem.Direction) (*engine.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailPrepare {
		return nil, errors.New("fake prepare error")
	}
	if sg == nil || len(sg.Entries) == 0 {
		return nil, engine.ErrEmptyTable
	}
	return &engine.Transaction{SG: sg, Dir: dir}, nil
}

func (e *FakeEngine) Submit(t *engine.Transaction) (engine.Cookie, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailSubmit {
		return 0, errors.New("fake submit error")
	}
	if e.pending != nil {
		return 0, engine.ErrBusy
	}
	e.pending = t
	e.submits++
	e.next++
	return engine.MinCookie + e.next - 1, nil
}

func (e *FakeEngine) Issue() {
	e.mu.Lock()
	e.issues++
	auto := e.AutoComplete
	e.mu.Unlock()
	if auto {
		go e.CompletePending()
	}
}

func (e *FakeEngine) TerminateAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.terminates++
	return nil
}

// CompletePending fires the pending transaction's callback, reporting
// whether there was one.
func (e *FakeEngine) CompletePending() bool {
	e.mu.Lock()
	t := e.pending
	e.pending = nil
	e.mu.Unlock()
	if t == nil {
		return false
	}
	if t.Callback != nil {
		t.Callback()
	}
	return true
}

// Pending reports whether a transaction is queued.
func (e *FakeEngine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// Submits returns the number of accepted submissions.
func (e *FakeEngine) Submits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submits
}

// Terminates returns the number of TerminateAll calls.
func (e *FakeEngine) Terminates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminates
}

// AccountingPinner implements umem.Pinner with a full ledger. MaxPages
// caps how many pages one Pin call manages before failing, to exercise the
// partial-pin path.
type AccountingPinner struct {
	mu sync.Mutex

	FailPin  bool
	MaxPages int // 0 means unlimited

	pinned   map[*umem.Page]bool
	unpins   int
	dirtied  int
	pinCalls int
}

func NewAccountingPinner() *AccountingPinner {
	return &AccountingPinner{pinned: make(map[*umem.Page]bool)}
}

func (p *AccountingPinner) Pin(buf []byte, npages int, writable bool) ([]*umem.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinCalls++
	if p.FailPin {
		return nil, errors.New("fake pin error")
	}
	pages := make([]*umem.Page, 0, npages)
	for i, span := range umem.PageSpans(buf, npages) {
		if p.MaxPages > 0 && i >= p.MaxPages {
			return pages, errors.New("fake pin limit reached")
		}
		pg := umem.NewPage(span)
		p.pinned[pg] = true
		pages = append(pages, pg)
	}
	return pages, nil
}

func (p *AccountingPinner) Unpin(pg *umem.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pinned[pg] {
		panic("testutil: unpin of page that is not pinned")
	}
	delete(p.pinned, pg)
	p.unpins++
}

func (p *AccountingPinner) MarkDirty(pg *umem.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pg.MarkDirty()
	p.dirtied++
}

// Outstanding returns the number of pages still pinned.
func (p *AccountingPinner) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pinned)
}

// Unpins returns the number of pages released.
func (p *AccountingPinner) Unpins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unpins
}

// Dirtied returns the number of pages marked dirty.
func (p *AccountingPinner) Dirtied() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirtied
}

// FakeAllocator implements umem.Allocator with double-free detection.
type FakeAllocator struct {
	mu sync.Mutex

	FailAlloc bool

	live   map[*umem.Table]bool
	allocs int
	frees  int
}

func NewFakeAllocator() *FakeAllocator {
	return &FakeAllocator{live: make(map[*umem.Table]bool)}
}

func (a *FakeAllocator) NewTable(n int) (*umem.Table, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailAlloc {
		return nil, errors.New("fake alloc error")
	}
	t := &umem.Table{Entries: make([]umem.Entry, n)}
	a.live[t] = true
	a.allocs++
	return t, nil
}

func (a *FakeAllocator) Free(t *umem.Table) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live[t] {
		panic("testutil: free of table that is not allocated")
	}
	delete(a.live, t)
	a.frees++
}

// Outstanding returns the number of tables not yet freed.
func (a *FakeAllocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// FakeMapper implements umem.Mapper. MapShort makes MapSG report that many
// entries fewer than requested.
type FakeMapper struct {
	mu sync.Mutex

	FailMap  bool
	MapShort int

	mappedTables map[*umem.Table]bool
	maps         int
	unmaps       int
}

func NewFakeMapper() *FakeMapper {
	return &FakeMapper{mappedTables: make(map[*umem.Table]bool)}
}

func (m *FakeMapper) MapSG(t *umem.Table, dir umem.Direction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMap {
		return 0, errors.New("fake map error")
	}
	n := len(t.Entries) - m.MapShort
	if n < 0 {
		n = 0
	}
	if n > 0 {
		m.mappedTables[t] = true
		m.maps++
	}
	return n, nil
}

func (m *FakeMapper) UnmapSG(t *umem.Table, dir umem.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mappedTables[t] {
		panic("testutil: unmap of table that is not mapped")
	}
	delete(m.mappedTables, t)
	m.unmaps++
}

// Outstanding returns the number of tables still mapped.
func (m *FakeMapper) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappedTables)
}
