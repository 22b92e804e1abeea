package facetrack

import (
	"errors"
	"testing"
)

func TestArenaLifecycle(t *testing.T) {
	var a Arena[StoredImage]

	v := &StoredImage{}
	h := a.Insert(v)
	if !h.Valid() {
		t.Fatal("Expected a valid handle")
	}
	got, err := a.Get(h)
	if err != nil || got != v {
		t.Fatalf("Get: %v, %v", got, err)
	}

	if _, err := a.Remove(h); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := a.Get(h); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected stale handle to fail with ErrInvalidArgument, got %v", err)
	}
	if _, err := a.Remove(h); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected double free to fail, got %v", err)
	}

	// The freed slot is reused under a new generation.
	h2 := a.Insert(&StoredImage{})
	if h2 == h {
		t.Error("Expected reused slot to carry a new generation")
	}
	if _, err := a.Get(h); err == nil {
		t.Error("Expected old handle to stay stale after slot reuse")
	}
	if a.Len() != 1 {
		t.Errorf("Expected 1 live object, got %d", a.Len())
	}
}

func TestInvalidHandle(t *testing.T) {
	var a Arena[Tracker]
	h := Invalid[Tracker]()
	if h.Valid() {
		t.Error("Expected invalid sentinel")
	}
	if h.String() != "invalid" {
		t.Errorf("Expected \"invalid\", got %q", h.String())
	}
	if _, err := a.Get(h); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if _, err := a.Get(HandleFromUint64[Tracker](1<<32 | 9)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected unknown index to fail, got %v", err)
	}
}

func TestHandleUint64(t *testing.T) {
	var a Arena[StoredImage]
	a.Insert(&StoredImage{})
	h := a.Insert(&StoredImage{})

	back := HandleFromUint64[StoredImage](h.Uint64())
	if back != h {
		t.Errorf("Expected %v, got %v", h, back)
	}
	if _, err := a.Get(back); err != nil {
		t.Errorf("Get after round trip: %v", err)
	}
}

func TestArenaEach(t *testing.T) {
	var a Arena[StoredImage]
	h1 := a.Insert(&StoredImage{})
	a.Insert(&StoredImage{})
	a.Insert(&StoredImage{})
	a.Remove(h1)

	n := 0
	a.Each(func(Handle[StoredImage], *StoredImage) bool {
		n++
		return true
	})
	if n != 2 {
		t.Errorf("Expected 2 live objects, visited %d", n)
	}

	n = 0
	a.Each(func(Handle[StoredImage], *StoredImage) bool {
		n++
		return false
	})
	if n != 1 {
		t.Errorf("Expected Each to stop after the first object, visited %d", n)
	}
}
