// Package security validates names that end up as path components of
// pipeline artifacts.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafeName is returned for a name that is not a single plain path
// element.
var ErrUnsafeName = errors.New("unsafe name")

// ValidateName checks that name can be joined onto a directory without
// escaping it: it must be non-empty, must not be "." or "..", and must not
// contain a path separator or NUL byte. Scan names come from split files
// and are used verbatim as artifact prefixes.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrUnsafeName, name)
	case filepath.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}

// ValidatePathWithinDirectory checks lexically that filePath stays inside
// dir once both are cleaned. Symlinks are not resolved because artifacts
// may live on an in-memory filesystem.
func ValidatePathWithinDirectory(filePath, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrUnsafeName, filePath, dir)
	}
	return nil
}
