// Package objstore maps a single connection's protocol object IDs to
// the entities they name.
package objstore

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ServerIDStart is the first ID in the range allocated by the server
// side of a connection.
const ServerIDStart = 0xFF000000

var (
	ErrDuplicateID   = errors.New("duplicate object id")
	ErrUnknownObject = errors.New("unknown object")
	ErrDestroyed     = errors.New("object already destroyed")
	ErrWrongType     = errors.New("object has wrong type")
)

// Destroyer is implemented by values that need to release resources
// when their object is destroyed.
type Destroyer interface {
	Destroy()
}

// Entry is a single live object.
type Entry struct {
	ID        uint32
	Interface string
	Version   uint32
	Value     any

	seq      uint64
	children []uint32
}

type Store struct {
	objects    map[uint32]*Entry
	tombstones map[uint32]string
	nextID     uint32
	seq        uint64
}

func New() *Store {
	return &Store{
		objects:    make(map[uint32]*Entry),
		tombstones: make(map[uint32]string),
		nextID:     ServerIDStart,
	}
}

// Create adds a new object. If id is zero, an ID from the server range
// is allocated. It fails with ErrDuplicateID if id is live.
func (s *Store) Create(id uint32, iface string, version uint32, v any) (*Entry, error) {
	if id == 0 {
		id = s.nextID
		s.nextID++
	}
	if _, ok := s.objects[id]; ok {
		return nil, fmt.Errorf("create %v@%v: %w", iface, id, ErrDuplicateID)
	}
	delete(s.tombstones, id)

	s.seq++
	e := Entry{
		ID:        id,
		Interface: iface,
		Version:   version,
		Value:     v,
		seq:       s.seq,
	}
	s.objects[id] = &e
	return &e, nil
}

// Resolve returns the live object with the given ID. Objects that were
// destroyed fail with ErrDestroyed, and IDs that were never created
// fail with ErrUnknownObject.
func (s *Store) Resolve(id uint32) (*Entry, error) {
	e, ok := s.objects[id]
	if ok {
		return e, nil
	}
	if iface, ok := s.tombstones[id]; ok {
		return nil, fmt.Errorf("%v@%v: %w", iface, id, ErrDestroyed)
	}
	return nil, fmt.Errorf("object %v: %w", id, ErrUnknownObject)
}

// Get resolves id and checks that its value has type T.
func Get[T any](s *Store, id uint32) (T, error) {
	e, err := s.Resolve(id)
	if err != nil {
		var z T
		return z, err
	}
	v, ok := e.Value.(T)
	if !ok {
		var z T
		return z, fmt.Errorf("object %v is %v: %w", id, e.Interface, ErrWrongType)
	}
	return v, nil
}

// Link makes child dependent on parent, so that destroying parent
// also destroys child.
func (s *Store) Link(parent, child uint32) {
	p, ok := s.objects[parent]
	if !ok {
		return
	}
	p.children = append(p.children, child)
}

// Destroy destroys the object and, first, everything linked to it. It
// is a no-op for an ID that is not live.
func (s *Store) Destroy(id uint32) {
	e, ok := s.objects[id]
	if !ok {
		return
	}
	delete(s.objects, id)
	s.tombstones[id] = e.Interface

	for _, child := range e.children {
		s.Destroy(child)
	}
	if d, ok := e.Value.(Destroyer); ok {
		d.Destroy()
	}
}

// Forget removes the tombstone left by a destroyed object so that its
// ID is treated as never having existed.
func (s *Store) Forget(id uint32) {
	delete(s.tombstones, id)
}

// Tombstone returns the interface of a destroyed object whose ID has
// not been reused.
func (s *Store) Tombstone(id uint32) (string, bool) {
	iface, ok := s.tombstones[id]
	return iface, ok
}

// Clear destroys every object, newest first.
func (s *Store) Clear() {
	entries := make([]*Entry, 0, len(s.objects))
	for _, e := range s.objects {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *Entry) int { return cmp.Compare(b.seq, a.seq) })

	for _, e := range entries {
		s.Destroy(e.ID)
	}
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	return len(s.objects)
}
