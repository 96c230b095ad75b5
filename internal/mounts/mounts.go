// Package mounts provides file mounts which serve either an embedded fs.FS or, when
// specified, a directory on disk. An embedded mount is rooted at its mount name so that
// both kinds of mount present the same paths.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Mount is a file system served from either an embedded fs.FS or a directory.
type Mount struct {
	Name     string
	Embedded bool
	fs.FS
}

// String describes a Mount by its name, origin and files.
func (m Mount) String() string {
	origin := "directory"
	if m.Embedded {
		origin = "embedded"
	}
	files, _ := m.Files()
	return fmt.Sprintf("mount %q (%s): %s", m.Name, origin, strings.Join(files, ", "))
}

// ErrInvalidPath reports an invalid mount name.
type ErrInvalidPath struct {
	mountName string
}

// Error fulfills the Error interface requirement for ErrInvalidPath.
func (e ErrInvalidPath) Error() string {
	tpl := strings.Join([]string{
		"mount name %q is not a valid fs.ValidPath path",
		"see https://pkg.go.dev/io/fs#ValidPath for more information.",
	}, "\n")
	return fmt.Sprintf(tpl, e.mountName)
}

// New takes an embedded fs.FS and an optional path to a directory. If dirPath is
// empty the embedded fs is used, mounted at the subdirectory name. For example given
//
//	//go:embed sql
//	var sqlFS embed.FS
//
// the call New("sql", sqlFS, "") serves "schema.sql" from "sql/schema.sql" in the
// embedded files, while New("sql", sqlFS, "/etc/siteclone/sql") serves it from
// "/etc/siteclone/sql/schema.sql".
func New(name string, embeddedFS fs.FS, dirPath string) (*Mount, error) {

	if name == "" {
		return nil, errors.New("no mount name provided for new file mount")
	}
	if !fs.ValidPath(name) {
		return nil, ErrInvalidPath{name}
	}

	if dirPath == "" {
		subFS, err := fs.Sub(embeddedFS, name)
		if err != nil {
			return nil, fmt.Errorf("could not sub-mount embedded fs at %q: %w", name, err)
		}
		return &Mount{Name: name, Embedded: true, FS: subFS}, nil
	}

	s, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("new mount at %q error: %w", dirPath, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("new mount at %q is not a directory", dirPath)
	}
	return &Mount{Name: name, FS: os.DirFS(dirPath)}, nil
}

// Files lists the regular files in the mount, in lexical order.
func (m *Mount) Files() ([]string, error) {
	var files []string
	err := fs.WalkDir(m.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Export writes the files in the mount to dir, creating dir if needed. Existing files
// are not overwritten. The paths written are returned.
func (m *Mount) Export(dir string) ([]string, error) {

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create export directory %q: %w", dir, err)
	}

	files, err := m.Files()
	if err != nil {
		return nil, fmt.Errorf("could not list mount %s: %w", m.Name, err)
	}

	// Refuse up front so that nothing is partially written.
	for _, path := range files {
		target := filepath.Join(dir, filepath.FromSlash(path))
		if _, err := os.Stat(target); !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("export path %q already exists", target)
		}
	}

	var written []string
	for _, path := range files {
		target := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, fmt.Errorf("could not make dir for %q: %w", target, err)
		}
		data, err := fs.ReadFile(m.FS, path)
		if err != nil {
			return written, fmt.Errorf("could not read %q from mount %s: %w", path, m.Name, err)
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return written, fmt.Errorf("could not write %q: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}
