package umem

import (
	"golang.org/x/sys/unix"
)

// HostPinner pins pages with mlock(2). Each page-span is locked
// individually so that a failure partway through leaves the caller with an
// accurate list of what was pinned.
type HostPinner struct{}

// Pin locks the npages pages backing buf. Partially pinned pages are
// returned along with the error.
func (HostPinner) Pin(buf []byte, npages int, writable bool) ([]*Page, error) {
	pages := make([]*Page, 0, npages)
	for _, span := range PageSpans(buf, npages) {
		if err := unix.Mlock(span); err != nil {
			return pages, err
		}
		pages = append(pages, NewPage(span))
	}
	return pages, nil
}

// Unpin unlocks a pinned page. munlock rounds to page boundaries, so
// unlocking the span releases the whole page.
func (HostPinner) Unpin(p *Page) {
	_ = unix.Munlock(p.Bytes())
}

// MarkDirty records a device write to the page.
func (HostPinner) MarkDirty(p *Page) {
	p.MarkDirty()
}

// PageSpans splits buf into its per-page spans: the intersection of the
// buffer with each of the npages pages it touches.
func PageSpans(buf []byte, npages int) [][]byte {
	spans := make([][]byte, 0, npages)
	off := BufOffset(buf)
	pos := 0
	for i := 0; i < npages; i++ {
		n := PageSize
		if i == 0 {
			n = PageSize - off
		}
		if n > len(buf)-pos {
			n = len(buf) - pos
		}
		spans = append(spans, buf[pos:pos+n])
		pos += n
	}
	return spans
}
