package export

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/sbinet/npyio"

	"github.com/banshee-data/scanprep/internal/fsutil"
	"github.com/banshee-data/scanprep/internal/security"
)

// PersistenceError reports a failed artifact write.
type PersistenceError struct {
	Name string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Sink persists one named array per call.
type Sink interface {
	Persist(name string, data any) error
}

// Remover is implemented by sinks that can delete what they persisted.
type Remover interface {
	Remove(name string) error
}

// NPYSink writes .npy files into Dir.
type NPYSink struct {
	FS  fsutil.FileSystem
	Dir string
}

// NewNPYSink returns a sink rooted at dir, creating it if needed.
func NewNPYSink(fsys fsutil.FileSystem, dir string) (*NPYSink, error) {
	if !fsys.Exists(dir) {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	return &NPYSink{FS: fsys, Dir: dir}, nil
}

// Path returns the full path of a named artifact.
func (s *NPYSink) Path(name string) string { return filepath.Join(s.Dir, name) }

// Persist encodes data (any value npyio can write: numeric slices or a
// gonum matrix) and moves it into place atomically.
func (s *NPYSink) Persist(name string, data any) error {
	if err := security.ValidateName(name); err != nil {
		return &PersistenceError{Name: name, Err: err}
	}

	var buf bytes.Buffer
	if err := npyio.Write(&buf, data); err != nil {
		return &PersistenceError{Name: name, Err: fmt.Errorf("encode: %w", err)}
	}

	final := s.Path(name)
	tmp := final + ".tmp"
	if err := s.FS.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		_ = s.FS.Remove(tmp)
		return &PersistenceError{Name: name, Err: err}
	}
	if err := s.FS.Rename(tmp, final); err != nil {
		_ = s.FS.Remove(tmp)
		return &PersistenceError{Name: name, Err: err}
	}
	return nil
}

// Remove deletes a persisted artifact.
func (s *NPYSink) Remove(name string) error {
	return s.FS.Remove(s.Path(name))
}

// Exists reports whether a named artifact is present.
func (s *NPYSink) Exists(name string) bool {
	return s.FS.Exists(s.Path(name))
}
