// Package umem handles the user-memory side of a DMA transfer: pinning the
// pages that back a caller's buffer, and describing the buffer to the engine
// as a scatter-gather table.
package umem

import (
	"unsafe"
)

// PageSize is the system page size (typically 4096 bytes).
const PageSize = 4096

// Direction describes which way a transfer moves data. The numeric values
// match the direction encoding used by the channel configuration table
// (1 = RX, 2 = TX).
type Direction uint32

const (
	DeviceToHost Direction = 1 // RX
	HostToDevice Direction = 2 // TX
)

// Valid reports whether d is one of the two supported directions.
func (d Direction) Valid() bool {
	return d == DeviceToHost || d == HostToDevice
}

// String returns the conventional short name for the direction.
func (d Direction) String() string {
	switch d {
	case DeviceToHost:
		return "RX"
	case HostToDevice:
		return "TX"
	default:
		return "invalid"
	}
}

// BufOffset returns the offset of the start of buf within its page.
func BufOffset(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	return int(uintptr(unsafe.Pointer(&buf[0])) & (PageSize - 1))
}

// PageCount returns the number of pages spanned by buf, accounting for a
// non-page-aligned start.
func PageCount(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	return (BufOffset(buf) + len(buf) + PageSize - 1) / PageSize
}

// Page is one pinned page-span of a user buffer. The span covers the
// intersection of the buffer with a single page, so the first and last spans
// of a transfer may be shorter than PageSize.
type Page struct {
	mem   []byte
	dirty bool
}

// NewPage wraps a page-span of a user buffer. Pinner implementations create
// Pages; nothing else should.
func NewPage(mem []byte) *Page {
	return &Page{mem: mem}
}

// Bytes returns the buffer bytes covered by this page.
func (p *Page) Bytes() []byte {
	return p.mem
}

// MarkDirty records that the device may have written to this page.
func (p *Page) MarkDirty() {
	p.dirty = true
}

// Dirty reports whether the page has been marked dirty.
func (p *Page) Dirty() bool {
	return p.dirty
}

// Pinner locks user pages in place for the duration of a transfer.
//
// Pin locks the npages pages backing buf and returns one Page per page, in
// buffer order. On failure it returns the pages it did manage to pin along
// with the error, so the caller can release them. The writable flag is set
// for device-to-host transfers where the device will write to the pages.
type Pinner interface {
	Pin(buf []byte, npages int, writable bool) ([]*Page, error)
	Unpin(p *Page)
	MarkDirty(p *Page)
}
