package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// OutputWriter persists a validated contract payload at its output location.
type OutputWriter interface {
	Write(ctx context.Context, location string, payload []byte) error
}

// FileWriter writes payloads to files below Root. Relative locations are
// resolved against Root; writes go through a temp file and rename so a
// reader never sees a partial payload.
type FileWriter struct {
	Root string
}

// NewFileWriter returns a writer rooted at root.
func NewFileWriter(root string) *FileWriter {
	return &FileWriter{Root: root}
}

// Write implements OutputWriter.
func (w *FileWriter) Write(ctx context.Context, location string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.Root, path)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".contract-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write output %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish output %s: %w", path, err)
	}
	return nil
}

// MemoryWriter keeps payloads in memory keyed by location.
type MemoryWriter struct {
	mu      sync.RWMutex
	outputs map[string][]byte
}

// NewMemoryWriter returns an empty writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{outputs: make(map[string][]byte)}
}

// Write implements OutputWriter.
func (m *MemoryWriter) Write(_ context.Context, location string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[location] = append([]byte(nil), payload...)
	return nil
}

// Get returns the payload written at location.
func (m *MemoryWriter) Get(location string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.outputs[location]
	return b, ok
}

// Locations returns every written location in order.
func (m *MemoryWriter) Locations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.outputs))
	for loc := range m.outputs {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
