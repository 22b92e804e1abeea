package facetrack

import (
	"fmt"
	"sync"
)

// Handle names a live object of type T held by an Arena. The generation
// makes a handle to a freed slot distinguishable from a handle to whatever
// reuses that slot later.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

// Invalid returns the sentinel handle that never refers to a live object.
func Invalid[T any]() Handle[T] { return Handle[T]{} }

// Valid reports whether h is not the invalid sentinel. It does not check
// liveness; use Arena.Get for that.
func (h Handle[T]) Valid() bool { return h.generation != 0 }

// Uint64 packs the handle into the numeric form used on the wire.
func (h Handle[T]) Uint64() uint64 {
	return uint64(h.generation)<<32 | uint64(h.index)
}

func (h Handle[T]) String() string {
	if !h.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d#%d", h.index, h.generation)
}

// HandleFromUint64 unpacks a wire handle.
func HandleFromUint64[T any](v uint64) Handle[T] {
	return Handle[T]{index: uint32(v), generation: uint32(v >> 32)}
}

type slot[T any] struct {
	value      *T
	generation uint32
}

// Arena stores objects of one kind behind generation-checked handles.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v *T) Handle[T] {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		return Handle[T]{index: idx, generation: s.generation}
	}
	a.slots = append(a.slots, slot[T]{value: v, generation: 1})
	return Handle[T]{index: uint32(len(a.slots) - 1), generation: 1}
}

// Get returns the object behind h. Stale and invalid handles fail with
// ErrInvalidArgument.
func (a *Arena[T]) Get(h Handle[T]) (*T, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.value, nil
}

// Remove frees the slot of h and returns the object it held.
func (a *Arena[T]) Remove(h Handle[T]) (*T, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	v := s.value
	s.value = nil
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	a.free = append(a.free, h.index)
	return v, nil
}

// Len returns the number of live objects.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

// Each calls fn for every live object until fn returns false.
func (a *Arena[T]) Each(fn func(Handle[T], *T) bool) {
	a.mu.Lock()
	live := make([]Handle[T], 0, len(a.slots))
	values := make([]*T, 0, len(a.slots))
	for i, s := range a.slots {
		if s.value != nil {
			live = append(live, Handle[T]{index: uint32(i), generation: s.generation})
			values = append(values, s.value)
		}
	}
	a.mu.Unlock()

	for i, h := range live {
		if !fn(h, values[i]) {
			return
		}
	}
}

func (a *Arena[T]) lookup(h Handle[T]) (*slot[T], error) {
	if !h.Valid() {
		return nil, newError(KindInvalidArgument, "handle", "invalid handle")
	}
	if int(h.index) >= len(a.slots) {
		return nil, newError(KindInvalidArgument, "handle", "unknown handle %s", h)
	}
	s := &a.slots[h.index]
	if s.generation != h.generation || s.value == nil {
		return nil, newError(KindInvalidArgument, "handle", "stale handle %s", h)
	}
	return s, nil
}
