package facetrack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MemoryStore persists serialized tracker memories under a name.
// Implementations can use a database, the filesystem, or process memory.
type MemoryStore interface {
	// Save stores data under name, replacing any previous value
	Save(ctx context.Context, name string, data []byte) error

	// Load returns the data stored under name, failing with
	// ErrFileNotFound when there is none
	Load(ctx context.Context, name string) ([]byte, error)

	// Delete removes name
	Delete(ctx context.Context, name string) error

	// List returns the stored names in ascending order
	List(ctx context.Context) ([]string, error)

	// Close releases the store
	Close() error
}

// SaveTo serializes the tracker into store under name.
func (t *Tracker) SaveTo(ctx context.Context, store MemoryStore, name string) error {
	data, err := t.Save()
	if err != nil {
		return err
	}
	return store.Save(ctx, name, data)
}

// LoadFrom restores a tracker stored under name.
func LoadFrom(ctx context.Context, store MemoryStore, name string, engine Engine, opts ...Option) (*Tracker, error) {
	data, err := store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return Restore(data, engine, opts...)
}

// NotFoundError builds the error a MemoryStore returns for a missing name.
func NotFoundError(op, name string) error {
	return newError(KindFileNotFound, op, "tracker memory %q not found", name)
}

// InMemoryStore keeps memories in process memory (fast but volatile).
type InMemoryStore struct {
	entries map[string][]byte
	mu      sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]byte),
	}
}

func (s *InMemoryStore) Save(_ context.Context, name string, data []byte) error {
	if err := ValidateName("Save", name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid external modifications
	s.entries[name] = slices.Clone(data)
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entries[name]
	if !ok {
		return nil, NotFoundError("Load", name)
	}
	return slices.Clone(data), nil
}

func (s *InMemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; !ok {
		return NotFoundError("Delete", name)
	}
	delete(s.entries, name)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := maps.Keys(s.entries)
	slices.Sort(names)
	return names, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

const memoryFileExt = ".ftm"

// FileStore keeps one file per memory in a directory (persistent).
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file store rooted at baseDir, creating the
// directory when needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, wrapError(KindCannotCreateFile, "NewFileStore", fmt.Errorf("create storage directory: %w", err))
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.baseDir, name+memoryFileExt)
}

func (s *FileStore) Save(_ context.Context, name string, data []byte) error {
	if err := ValidateName("Save", name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temporary file first so a crash never leaves a torn memory
	tmp, err := os.CreateTemp(s.baseDir, name+".*.tmp")
	if err != nil {
		return wrapError(KindCannotCreateFile, "Save", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return wrapError(KindIOError, "Save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return wrapError(KindIOError, "Save", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return wrapError(KindCannotCreateFile, "Save", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName("Load", name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NotFoundError("Load", name)
		}
		return nil, wrapError(KindIOError, "Load", err)
	}
	return data, nil
}

func (s *FileStore) Delete(_ context.Context, name string) error {
	if err := ValidateName("Delete", name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFoundError("Delete", name)
		}
		return wrapError(KindIOError, "Delete", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, wrapError(KindIOError, "List", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != memoryFileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), memoryFileExt))
	}
	slices.Sort(names)
	return names, nil
}

func (s *FileStore) Close() error {
	return nil
}

// ValidateName rejects memory names that are not a single path element.
func ValidateName(op, name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return newError(KindInvalidArgument, op, "invalid memory name %q", name)
	}
	return nil
}

// StoreMetadata summarizes the contents of a MemoryStore.
type StoreMetadata struct {
	Entries     int       `json:"entries"`
	TotalBytes  int64     `json:"total_bytes"`
	LastUpdated time.Time `json:"last_updated"`
}

// GetStoreMetadata returns metadata about the store.
func GetStoreMetadata(ctx context.Context, store MemoryStore) (*StoreMetadata, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, name := range names {
		data, err := store.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		total += int64(len(data))
	}

	return &StoreMetadata{
		Entries:     len(names),
		TotalBytes:  total,
		LastUpdated: time.Now(),
	}, nil
}
