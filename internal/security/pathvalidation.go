// Package security holds path containment checks for request-derived
// file names. Evidence and profile artifacts are served by name out of
// per-video directories; these checks keep a crafted name from reaching
// anything outside them.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects any path that does not resolve to
// a location inside dir. The check is lexical (Clean + Rel): the
// evidence tree may live on an in-memory filesystem under test, so no
// OS lookups are made. Callers pass paths already joined onto dir.
func ValidatePathWithinDirectory(path, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %q escapes %s", path, dir)
	}
	return nil
}

// ValidateArtifactName rejects names that are not a single path
// element, so a stored artifact can only be addressed by its base name.
func ValidateArtifactName(name string) error {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
