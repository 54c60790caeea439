// internal/loader/loader.go
package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// DefaultExtension is appended to bare macro names when resolving RUN
// targets.
const DefaultExtension = ".iim"

// Source yields macro content by name. ok=false means "not here" and the
// next source is consulted; an error aborts resolution.
type Source interface {
	Load(ctx context.Context, name string) (content string, ok bool, err error)
}

// Candidates lists the file names RUN tries, in order. A name that already
// carries the recognized extension is tried verbatim; otherwise the
// extension-qualified name is tried before the bare one.
func Candidates(name string) []string {
	if strings.EqualFold(filepath.Ext(name), DefaultExtension) {
		return []string{name}
	}
	return []string{name + DefaultExtension, name}
}

// Inline serves macros from an in-memory map, used for macros embedded in a
// calling document or supplied programmatically. It is consulted before any
// file-system or store lookup.
type Inline struct {
	macros map[string]string
}

// NewInline creates an inline source. The map is copied.
func NewInline(macros map[string]string) *Inline {
	copied := make(map[string]string, len(macros))
	for k, v := range macros {
		copied[k] = v
	}
	return &Inline{macros: copied}
}

// Add registers or replaces an inline macro.
func (s *Inline) Add(name, content string) {
	if s.macros == nil {
		s.macros = make(map[string]string)
	}
	s.macros[name] = content
}

// Load implements Source.
func (s *Inline) Load(_ context.Context, name string) (string, bool, error) {
	content, ok := s.macros[name]
	return content, ok, nil
}

// Dir serves macros from a directory on disk.
type Dir struct {
	root string
	log  *zap.Logger
}

// DefaultDir returns the standard macro directory under the user's home.
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".macrotape", "macros"), nil
}

// NewDir creates a directory source. An empty root falls back to DefaultDir.
func NewDir(root string, logger *zap.Logger) (*Dir, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		var err error
		root, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	return &Dir{root: root, log: logger.Named("loader")}, nil
}

// Root returns the directory this source reads from.
func (s *Dir) Root() string { return s.root }

// Load implements Source. A missing file is "not here"; any other read
// failure is an error.
func (s *Dir) Load(_ context.Context, name string) (string, bool, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	s.log.Debug("Loaded macro from disk", zap.String("path", path))
	return string(data), true, nil
}
