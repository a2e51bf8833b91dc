// Package lazyjson is envrec's generic wrapper for the handful of JSON
// records it reads once and rewrites atomically: a package's synthesized
// info/repodata_record.json (pkg/pkgcache) and an environment's per-package
// conda-meta/<dist>.json (pkg/linker). Both want the same shape: load lazily
// (most records are read once per process and never touched again), track
// whether anything changed, and replace the file via temp-then-rename so a
// crash mid-write never leaves a half-written record behind.
package lazyjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// manager guards a single JSON-backed value of type T, loading it from disk
// on first access and writing it back only if it was actually modified.
type manager[T any] struct {
	path   string
	data   *T
	loaded bool
	dirty  bool
	mu     sync.RWMutex
	opts   *options[T]
}

// Manager is the type callers hold; New returns one already filled in.
type Manager[T any] = *manager[T]

type options[T any] struct {
	indent          string
	fileMode        os.FileMode
	createIfMissing bool
	defaultValue    func() *T
}

// New creates a Manager for the JSON file at path. By default a missing
// file is treated as the zero value of T rather than an error — this is
// what lets pkgcache.ensureRepodataRecord and linker.persistRecord call
// Modify/Save without a separate "does the record exist yet" branch.
func New[T any](path string, opts ...Option[T]) Manager[T] {
	mgr := &manager[T]{
		path: path,
		opts: &options[T]{
			indent:          "  ",
			fileMode:        0o644,
			createIfMissing: true,
		},
	}
	for _, opt := range opts {
		opt(mgr.opts)
	}
	return mgr
}

// Path returns the file path this manager is bound to.
func (m *manager[T]) Path() string { return m.path }

// Get returns the current value, loading it from disk on first call.
func (m *manager[T]) Get() (*T, error) {
	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		return m.data, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.data, nil
	}
	return m.data, m.loadLocked()
}

// Modify loads the value if needed, runs fn against it, and marks the
// manager dirty so the next Save actually writes.
func (m *manager[T]) Modify(fn func(*T) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		if err := m.loadLocked(); err != nil {
			return err
		}
	}
	if err := fn(m.data); err != nil {
		return err
	}
	m.dirty = true
	return nil
}

// Save writes the value to disk if it was modified since the last load or
// save; a clean manager's Save is a no-op.
func (m *manager[T]) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirty {
		return nil
	}
	if !m.loaded {
		return errors.New("lazyjson: cannot save before loading")
	}
	return m.saveLocked()
}

// IsDirty reports whether the value has unsaved changes.
func (m *manager[T]) IsDirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirty
}

// IsLoaded reports whether the value has been loaded from disk yet.
func (m *manager[T]) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

func (m *manager[T]) loadLocked() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !m.opts.createIfMissing {
				return fmt.Errorf("reading %s: %w", m.path, err)
			}
			if m.opts.defaultValue != nil {
				m.data = m.opts.defaultValue()
			} else {
				var zero T
				m.data = &zero
			}
			m.loaded = true
			m.dirty = true
			return nil
		}
		return fmt.Errorf("reading %s: %w", m.path, err)
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parsing %s: %w", m.path, err)
	}
	m.data = &result
	m.loaded = true
	m.dirty = false
	return nil
}

func (m *manager[T]) saveLocked() error {
	var raw []byte
	var err error
	if m.opts.indent != "" {
		raw, err = json.MarshalIndent(m.data, "", m.opts.indent)
	} else {
		raw, err = json.Marshal(m.data)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", m.path, err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, m.opts.fileMode); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", m.path, err)
	}

	m.dirty = false
	return nil
}
