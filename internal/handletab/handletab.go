// Package handletab is the fixed-size, process-wide open-file-handle table
// described in spec §3 ("File handle") and §5 ("Global: the fixed-size
// open-file table"). Handle indices are small integers, never pointers, so
// that a file handle never needs to hold a cyclic reference back into the
// table that owns it (see spec §9, "Cyclic pointer pattern").
//
// Allocation is grounded on drivers/common/allocatormap.go's bitmap
// allocator, applied to handle slots instead of disk blocks.
package handletab

import (
	"github.com/boljen/go-bitmap"
	"github.com/tinyfat/fatfs/fserr"
)

// Handle is an index into a Table. Valid handles start at 0; -1 is never a
// valid handle and is what Alloc returns on failure.
type Handle int

// Table is a fixed-size array of slots of type T, each either free or
// occupied. It is not internally synchronized. fat.Manager has no lock of
// its own around its table calls: some run under a volume lock and some
// (Get before locking, CloseFind's Free) under none, so calls reaching the
// same Table from different goroutines are not serialized.
type Table[T any] struct {
	occupied bitmap.Bitmap
	slots    []T
}

// New creates a Table with room for exactly capacity simultaneously open
// handles.
func New[T any](capacity int) *Table[T] {
	return &Table[T]{
		occupied: bitmap.New(capacity),
		slots:    make([]T, capacity),
	}
}

// Alloc finds the first free slot, stores value in it, and returns its
// handle. It returns fserr.TooManyOpenFiles if the table is full.
func (t *Table[T]) Alloc(value T) (Handle, error) {
	for i := 0; i < len(t.slots); i++ {
		if !t.occupied.Get(i) {
			t.occupied.Set(i, true)
			t.slots[i] = value
			return Handle(i), nil
		}
	}
	return -1, fserr.TooManyOpenFiles
}

// Get returns the value stored at h. It returns fserr.InvalidFileHandle if h
// is out of range or its slot is not occupied.
func (t *Table[T]) Get(h Handle) (T, error) {
	var zero T
	if h < 0 || int(h) >= len(t.slots) || !t.occupied.Get(int(h)) {
		return zero, fserr.InvalidFileHandle
	}
	return t.slots[h], nil
}

// Set overwrites the value stored at an already-allocated handle h.
func (t *Table[T]) Set(h Handle, value T) error {
	if h < 0 || int(h) >= len(t.slots) || !t.occupied.Get(int(h)) {
		return fserr.InvalidFileHandle
	}
	t.slots[h] = value
	return nil
}

// Free releases h back to the pool. Freeing an already-free or out-of-range
// handle returns fserr.InvalidFileHandle.
func (t *Table[T]) Free(h Handle) error {
	if h < 0 || int(h) >= len(t.slots) || !t.occupied.Get(int(h)) {
		return fserr.InvalidFileHandle
	}
	var zero T
	t.slots[h] = zero
	t.occupied.Set(int(h), false)
	return nil
}
