package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// File keeps every record in memory and mirrors the whole set to one JSON file after each write.
// An empty path gives a memory-only store.
type File struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	now     func() time.Time
}

// FileOption configures a File store.
type FileOption func(*File)

// WithClock overrides the time source used for last-updated stamps.
func WithClock(now func() time.Time) FileOption {
	return func(f *File) {
		if now != nil {
			f.now = now
		}
	}
}

// OpenFile loads path if it exists. A corrupt file is an error so callers can decide to start empty.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	f := &File{path: path, records: make(map[string]Record), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.records); err != nil {
		f.records = make(map[string]Record)
		return f, fmt.Errorf("decode store: %w", err)
	}
	return f, nil
}

// NewMemory returns a store that never touches disk.
func NewMemory(opts ...FileOption) *File {
	f, _ := OpenFile("", opts...)
	return f
}

func (f *File) Get(_ context.Context, key string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	return rec, ok, nil
}

func (f *File) Put(_ context.Context, key string, value any) error {
	rec, err := encode(key, value, f.now())
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[key] = rec
	return f.flushLocked()
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[key]; !ok {
		return nil
	}
	delete(f.records, key)
	return f.flushLocked()
}

func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for key := range f.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

// flushLocked writes to a temp file and renames it over the target.
func (f *File) flushLocked() error {
	if f.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(f.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
