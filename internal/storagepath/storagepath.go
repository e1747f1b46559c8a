// Package storagepath resolves logical StoragePath values against an
// absolute filesystem root. It performs no I/O; every other component
// that needs to touch disk resolves through here first.
package storagepath

import (
	"path/filepath"
	"strings"

	"github.com/aoxcloud/storeengine/pkg/errors"
	"github.com/aoxcloud/storeengine/pkg/types"
)

// Service resolves StoragePath values to absolute paths under root and
// back. The zero value is not usable; construct with New.
type Service struct {
	root string
}

// New constructs a Service rooted at root. root must be an absolute,
// cleaned directory; callers validate this at startup via
// Configuration.Validate.
func New(root string) *Service {
	return &Service{root: filepath.Clean(root)}
}

// Root returns the configured storage root.
func (s *Service) Root() string {
	return s.root
}

// Resolve returns the absolute filesystem path for p, rejecting any
// normalised form that would escape the configured root.
func (s *Service) Resolve(p types.StoragePath) (string, error) {
	if p.IsRoot() {
		return s.root, nil
	}

	rel := filepath.FromSlash(p.ToString())
	abs := filepath.Join(s.root, rel)

	if !s.withinRoot(abs) {
		return "", errors.InvalidPath("storagepath", p.ToString())
	}
	return abs, nil
}

// ResolveString parses s as a StoragePath and resolves it in one step.
func (s *Service) ResolveString(raw string) (string, error) {
	p, err := types.ParseStoragePath(raw)
	if err != nil {
		return "", errors.InvalidPath("storagepath", raw)
	}
	return s.Resolve(p)
}

// Relativize converts an absolute path known to live under root back into
// a StoragePath. It fails if abs is not lexically within root.
func (s *Service) Relativize(abs string) (types.StoragePath, error) {
	abs = filepath.Clean(abs)
	if !s.withinRoot(abs) {
		return types.StoragePath{}, errors.InvalidPath("storagepath", abs)
	}
	if abs == s.root {
		return types.RootPath(), nil
	}
	rel := strings.TrimPrefix(abs, s.root+string(filepath.Separator))
	return types.ParseStoragePath(filepath.ToSlash(rel))
}

// withinRoot reports whether abs is root itself or a descendant of root,
// guarding against ".." traversal surviving filepath.Join.
func (s *Service) withinRoot(abs string) bool {
	if abs == s.root {
		return true
	}
	return strings.HasPrefix(abs, s.root+string(filepath.Separator))
}
