// Package taskrc manages the include lines tw adds to the task config file.
// Every line it writes carries a managed marker naming the owning app; lines
// without a marker belong to the user and are never touched.
package taskrc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"twpm/internal/fsutil"
)

const includeKeyword = "include"

type Include struct {
	Path  string `json:"path" yaml:"path"`
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

type File struct {
	path string
}

func Open(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// target follows symlinks so rewrites land in the linked file instead of
// replacing the link. A dangling link resolves to its own target.
func (f *File) target() string {
	if resolved, err := filepath.EvalSymlinks(f.path); err == nil {
		return resolved
	}
	link, err := os.Readlink(f.path)
	if err != nil {
		return f.path
	}
	if !filepath.IsAbs(link) {
		link = filepath.Join(filepath.Dir(f.path), link)
	}
	return link
}

func (f *File) read() ([]string, fs.FileMode, error) {
	blob, err := os.ReadFile(f.target())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0o644, nil
		}
		return nil, 0, fmt.Errorf("RC_READ: %w", err)
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(f.target()); err == nil {
		mode = info.Mode().Perm()
	}
	text := strings.TrimRight(string(blob), "\n")
	if text == "" {
		return nil, mode, nil
	}
	return strings.Split(text, "\n"), mode, nil
}

func (f *File) write(lines []string, mode fs.FileMode) error {
	path := f.target()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("RC_WRITE: %w", err)
	}
	body := strings.Join(lines, "\n")
	if body != "" {
		body += "\n"
	}
	if err := fsutil.AtomicWrite(path, []byte(body), mode); err != nil {
		return fmt.Errorf("RC_WRITE: %w", err)
	}
	return nil
}

// Create writes header to the file when it does not exist yet. It reports
// whether the file was created.
func (f *File) Create(header string) (bool, error) {
	if _, err := os.Stat(f.target()); !errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return true, f.write(strings.Split(strings.TrimRight(header, "\n"), "\n"), 0o644)
}

func parseInclude(line string) (Include, bool) {
	owner, _ := fsutil.ManagedOwner(line)
	fields := strings.Fields(fsutil.StripMarker(line))
	if len(fields) != 2 || fields[0] != includeKeyword {
		return Include{}, false
	}
	return Include{Path: fields[1], Owner: owner}, true
}

// Includes lists every include line, managed or not.
func (f *File) Includes() ([]Include, error) {
	lines, _, err := f.read()
	if err != nil {
		return nil, err
	}
	var out []Include
	for _, line := range lines {
		if inc, ok := parseInclude(line); ok {
			out = append(out, inc)
		}
	}
	return out, nil
}

// AddIncludes appends a managed include line for each path not already
// included. The file is created when absent and left untouched when
// nothing is added.
func (f *File) AddIncludes(app string, paths []string) ([]string, error) {
	lines, mode, err := f.read()
	if err != nil {
		return nil, err
	}
	present := map[string]bool{}
	for _, line := range lines {
		if inc, ok := parseInclude(line); ok {
			present[inc.Path] = true
		}
	}
	var added []string
	for _, p := range paths {
		if present[p] {
			continue
		}
		present[p] = true
		lines = append(lines, fmt.Sprintf("%s %s  %s", includeKeyword, p, fsutil.ManagedMarker(app)))
		added = append(added, p)
	}
	if len(added) == 0 {
		return nil, nil
	}
	return added, f.write(lines, mode)
}

// RemoveIncludes drops every managed line owned by app and returns the
// paths they included.
func (f *File) RemoveIncludes(app string) ([]string, error) {
	lines, mode, err := f.read()
	if err != nil {
		return nil, err
	}
	if lines == nil {
		return nil, nil
	}
	kept := lines[:0]
	var removed []string
	for _, line := range lines {
		if owner, ok := fsutil.ManagedOwner(line); ok && owner == app {
			if inc, ok := parseInclude(line); ok {
				removed = append(removed, inc.Path)
			}
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == len(lines) {
		return nil, nil
	}
	return removed, f.write(kept, mode)
}
