package facetrack

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStores(t *testing.T) {
	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	stores := []struct {
		name  string
		store MemoryStore
	}{
		{"memory", NewInMemoryStore()},
		{"file", fileStore},
	}

	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := tt.store
			defer s.Close()

			tr, ids := buildMemory(t)
			if err := tr.SaveTo(ctx, s, "lobby"); err != nil {
				t.Fatalf("SaveTo: %v", err)
			}
			if err := s.Save(ctx, "entrance", []byte("x")); err != nil {
				t.Fatalf("Save: %v", err)
			}

			names, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(names) != 2 || names[0] != "entrance" || names[1] != "lobby" {
				t.Errorf("Expected [entrance lobby], got %v", names)
			}

			restored, err := LoadFrom(ctx, s, "lobby", nil)
			if err != nil {
				t.Fatalf("LoadFrom: %v", err)
			}
			if _, err := restored.FaceIDs(ids[0]); err != nil {
				t.Errorf("Expected identity %d after load: %v", ids[0], err)
			}

			meta, err := GetStoreMetadata(ctx, s)
			if err != nil {
				t.Fatalf("GetStoreMetadata: %v", err)
			}
			if meta.Entries != 2 || meta.TotalBytes <= 1 {
				t.Errorf("Unexpected metadata %+v", meta)
			}

			if err := s.Delete(ctx, "entrance"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Load(ctx, "entrance"); !errors.Is(err, ErrFileNotFound) {
				t.Errorf("Expected ErrFileNotFound after delete, got %v", err)
			}
			if err := s.Delete(ctx, "entrance"); !errors.Is(err, ErrFileNotFound) {
				t.Errorf("Expected ErrFileNotFound on second delete, got %v", err)
			}
			if _, err := LoadFrom(ctx, s, "missing", nil); !errors.Is(err, ErrFileNotFound) {
				t.Errorf("Expected ErrFileNotFound, got %v", err)
			}

			for _, bad := range []string{"", "..", "a/b", `a\b`} {
				if err := s.Save(ctx, bad, []byte("x")); !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("Save(%q): expected ErrInvalidArgument, got %v", bad, err)
				}
			}
		})
	}
}

func TestInMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	data := []byte("abc")
	s.Save(ctx, "m", data)
	data[0] = 'z'

	got, _ := s.Load(ctx, "m")
	if string(got) != "abc" {
		t.Errorf("Expected stored copy, got %q", got)
	}
	got[1] = 'z'
	again, _ := s.Load(ctx, "m")
	if string(again) != "abc" {
		t.Errorf("Expected Load to return a copy, got %q", again)
	}
}
