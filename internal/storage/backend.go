// Package storage provides the durable filesystem backend the checkpoint
// writer uses to persist data: temp-file-plus-rename writes, a startup
// sweep for orphaned temp files, and plain path-based reads.
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Backend is a minimal durable byte-storage interface. The filesystem
// implementation below is the only one the coordinator ships; the
// interface exists so checkpoint tests can substitute an in-memory fake.
type Backend interface {
	// WriteAtomic writes data to path such that concurrent readers never
	// observe a partial write: implementations stage to a temp file,
	// fsync, then rename into place.
	WriteAtomic(path string, data []byte) error
	Read(path string) ([]byte, error)
	Delete(path string) error
	Exists(path string) bool
	// List returns paths under dir matching no particular order guarantee
	// beyond what the implementation's underlying walk provides.
	List(dir string) ([]string, error)
}

// FilesystemBackend implements Backend on a local directory tree.
type FilesystemBackend struct {
	root string
}

// NewFilesystemBackend creates a backend rooted at root, creating the
// directory if it does not exist.
func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", root, err)
	}
	return &FilesystemBackend{root: root}, nil
}

func (f *FilesystemBackend) resolve(path string) string {
	return filepath.Join(f.root, path)
}

// WriteAtomic stages data in a sibling ".tmp" file in the same directory
// as the destination (so the rename is same-filesystem), fsyncs it, then
// renames it over the destination.
func (f *FilesystemBackend) WriteAtomic(path string, data []byte) error {
	full := f.resolve(path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(full)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename temp file into place: %w", err)
	}
	return nil
}

// Read returns the full contents of path.
func (f *FilesystemBackend) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("storage: read %q: %w", path, err)
	}
	return data, nil
}

// Delete removes path. Idempotent: deleting a missing path is not an error.
func (f *FilesystemBackend) Delete(path string) error {
	if err := os.Remove(f.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %q: %w", path, err)
	}
	return nil
}

// Exists reports whether path is present.
func (f *FilesystemBackend) Exists(path string) bool {
	_, err := os.Stat(f.resolve(path))
	return err == nil
}

// List returns every regular file path under dir, relative to the backend
// root, sorted lexicographically.
func (f *FilesystemBackend) List(dir string) ([]string, error) {
	base := f.resolve(dir)
	var out []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// SweepOrphanedTemp removes any leftover ".tmp" files under dir, left
// behind by a process that crashed between CreateTemp and Rename. Run once
// at startup before serving traffic.
func (f *FilesystemBackend) SweepOrphanedTemp(dir string) (int, error) {
	paths, err := f.List(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths {
		if strings.Contains(p, ".tmp") {
			if err := f.Delete(p); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
