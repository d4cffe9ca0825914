package umem

// Entry is one scatter-gather descriptor: a single-page view of the user
// buffer, plus the offset of the data within its page.
type Entry struct {
	Data   []byte
	Offset int
	Length int
}

// Table is a scatter-gather descriptor table describing one transfer.
type Table struct {
	Entries []Entry
}

// Allocator allocates and frees descriptor tables. It exists as an
// interface so tests can inject allocation failures and account for frees.
type Allocator interface {
	NewTable(n int) (*Table, error)
	Free(t *Table)
}

// HeapAllocator is the default Allocator; plain heap allocation.
type HeapAllocator struct{}

func (HeapAllocator) NewTable(n int) (*Table, error) {
	return &Table{Entries: make([]Entry, n)}, nil
}

func (HeapAllocator) Free(t *Table) {
	t.Entries = nil
}

// Build fills in a descriptor table for buf, one entry per page. The first
// entry's offset/length are trimmed to the buffer's starting offset within
// its page and to the page boundary; subsequent entries cover a full page or
// the remaining tail until the buffer is exhausted.
func Build(t *Table, buf []byte) {
	off := BufOffset(buf)
	left := len(buf)
	pos := 0
	for i := range t.Entries {
		length := left
		if length > PageSize {
			length = PageSize
		}
		offset := 0
		if i == 0 {
			offset = off
			if offset+length > PageSize {
				length = PageSize - offset
			}
		}
		t.Entries[i] = Entry{
			Data:   buf[pos : pos+length],
			Offset: offset,
			Length: length,
		}
		pos += length
		left -= length
	}
}

// Bytes returns the total transfer length described by the table.
func (t *Table) Bytes() int {
	total := 0
	for i := range t.Entries {
		total += t.Entries[i].Length
	}
	return total
}

// Mapper makes a descriptor table visible to the device in the given
// direction. MapSG returns the number of entries mapped; a partial or zero
// count is a failure, but the caller must still unmap whatever was mapped.
type Mapper interface {
	MapSG(t *Table, dir Direction) (int, error)
	UnmapSG(t *Table, dir Direction)
}

// NopMapper maps everything trivially. It suits engines that address host
// memory directly, like the loopback hub.
type NopMapper struct{}

func (NopMapper) MapSG(t *Table, dir Direction) (int, error) {
	return len(t.Entries), nil
}

func (NopMapper) UnmapSG(t *Table, dir Direction) {}
