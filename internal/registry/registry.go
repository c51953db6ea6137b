// Package registry reads app records from the registry directory: one
// <name>.meta descriptor per app and, alongside in the installers
// directory, one <name>.install executable.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"twpm/internal/config"
	"twpm/internal/descriptor"
	"twpm/internal/twerr"
)

const (
	MetaExt      = ".meta"
	InstallerExt = ".install"
)

type Registry struct {
	dir        string
	installers string
}

func New(paths config.Paths) *Registry {
	return &Registry{dir: paths.Registry, installers: paths.Installers}
}

// Entry is one listed record. Err is set when the record failed to parse;
// list output shows such records instead of aborting.
type Entry struct {
	Name       string
	Descriptor *descriptor.Descriptor
	Err        error
}

func validName(name string) bool {
	return name != "" && name == filepath.Base(name) && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// MetaPath is where name's record is expected.
func (r *Registry) MetaPath(name string) string {
	return filepath.Join(r.dir, name+MetaExt)
}

// Lookup parses name's record. A missing record is NotFound.
func (r *Registry) Lookup(name string) (*descriptor.Descriptor, error) {
	if !validName(name) {
		return nil, twerr.New(twerr.ErrUsage, "REG_NAME", "invalid app name %q", name)
	}
	raw, err := os.ReadFile(r.MetaPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, twerr.New(twerr.ErrNotFound, "REG_NOT_FOUND", "application %s not found in registry %s", name, r.dir)
		}
		return nil, fmt.Errorf("REG_READ: %w", err)
	}
	d, err := descriptor.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.MetaPath(name), err)
	}
	if d.Name != name {
		return nil, twerr.New(twerr.ErrMalformedDescriptor, "DSC_NAME", "%s declares name %q", r.MetaPath(name), d.Name)
	}
	return d, nil
}

// Installer returns the installer path for name. It is NotFound when the
// file is absent.
func (r *Registry) Installer(name string) (string, error) {
	if !validName(name) {
		return "", twerr.New(twerr.ErrUsage, "REG_NAME", "invalid app name %q", name)
	}
	path := filepath.Join(r.installers, name+InstallerExt)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", twerr.New(twerr.ErrNotFound, "REG_NO_INSTALLER", "installer for %s not found at %s", name, path)
	}
	return path, nil
}

// List parses every record in the registry, sorted by name. A missing
// registry directory lists nothing.
func (r *Registry) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*"+MetaExt))
	if err != nil {
		return nil, fmt.Errorf("REG_LIST: %w", err)
	}
	sort.Strings(matches)
	out := make([]Entry, 0, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), MetaExt)
		d, err := r.Lookup(name)
		out = append(out, Entry{Name: name, Descriptor: d, Err: err})
	}
	return out, nil
}
