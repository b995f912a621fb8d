package buffer

import (
	"errors"
	"fmt"
)

var ErrStale = errors.New("stale buffer id")

// ID is a generation-checked index into a Table.
type ID uint64

func makeID(index, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(index))
}

func (id ID) index() uint32 {
	return uint32(id)
}

func (id ID) gen() uint32 {
	return uint32(id >> 32)
}

type slot struct {
	gen uint32
	buf *Buffer
}

// Table holds every buffer known to the compositor and counts
// references to each one. Surfaces and in-flight frames are both
// holders. When a buffer's count drops to zero the release function is
// called exactly once for that period of use, unless the client has
// destroyed the buffer or disconnected.
type Table struct {
	slots   []slot
	free    []uint32
	release func(*Buffer)
}

// NewTable returns a table that calls release when a buffer may be
// reused by its client.
func NewTable(release func(*Buffer)) *Table {
	return &Table{release: release}
}

// Insert adds b to the table and returns its ID. The zero ID is never
// returned.
func (t *Table) Insert(b *Buffer) ID {
	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		index = uint32(len(t.slots) - 1)
	}

	s := &t.slots[index]
	s.gen++
	s.buf = b
	b.id = makeID(index, s.gen)
	return b.id
}

// Get returns the buffer with the given ID, including destroyed
// buffers that are still referenced.
func (t *Table) Get(id ID) (*Buffer, bool) {
	index := id.index()
	if (id == 0) || (int(index) >= len(t.slots)) {
		return nil, false
	}
	s := t.slots[index]
	if (s.gen != id.gen()) || (s.buf == nil) {
		return nil, false
	}
	return s.buf, true
}

// Alive reports whether id names a buffer that its client has not
// destroyed.
func (t *Table) Alive(id ID) bool {
	b, ok := t.Get(id)
	return ok && !b.destroyed
}

// Ref adds a reference to the buffer.
func (t *Table) Ref(id ID) error {
	b, ok := t.Get(id)
	if !ok {
		return fmt.Errorf("ref %#x: %w", uint64(id), ErrStale)
	}
	b.refs++
	return nil
}

// Unref drops a reference to the buffer.
func (t *Table) Unref(id ID) {
	b, ok := t.Get(id)
	if !ok || (b.refs == 0) {
		panic(fmt.Errorf("unbalanced unref of buffer %#x", uint64(id)))
	}

	b.refs--
	if b.refs > 0 {
		return
	}

	if !b.destroyed && !b.orphaned {
		if t.release != nil {
			t.release(b)
		}
		return
	}
	t.remove(b)
}

// Refs returns the number of references held to the buffer.
func (t *Table) Refs(id ID) int {
	b, ok := t.Get(id)
	if !ok {
		return 0
	}
	return b.refs
}

// Destroy records that the client destroyed the buffer. Its memory is
// kept until the last reference is dropped.
func (t *Table) Destroy(id ID) {
	b, ok := t.Get(id)
	if !ok || b.destroyed {
		return
	}
	b.destroyed = true
	if b.refs == 0 {
		t.remove(b)
	}
}

// Orphan cancels release notifications for every buffer belonging to
// owner. It is used when a connection closes.
func (t *Table) Orphan(owner Owner) {
	for _, s := range t.slots {
		if (s.buf != nil) && (s.buf.Owner == owner) {
			s.buf.orphaned = true
		}
	}
}

// Len returns the number of buffers in the table.
func (t *Table) Len() int {
	return len(t.slots) - len(t.free)
}

func (t *Table) remove(b *Buffer) {
	index := b.id.index()
	t.slots[index].buf = nil
	t.free = append(t.free, index)
	b.free()
}
