package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"twpm/internal/fsutil"
	"twpm/internal/twerr"
)

func NewManifest() *Manifest {
	return &Manifest{Version: ManifestVersion}
}

// Owner returns the app owning path, if any.
func (m *Manifest) Owner(path string) (string, bool) {
	for _, e := range m.Files {
		if e.Path == path {
			return e.App, true
		}
	}
	return "", false
}

// Installed reports whether app owns at least one row.
func (m *Manifest) Installed(app string) bool {
	for _, e := range m.Files {
		if e.App == app {
			return true
		}
	}
	return false
}

// Versions returns the distinct versions recorded for app, sorted.
func (m *Manifest) Versions(app string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range m.Files {
		if e.App == app && !seen[e.Version] {
			seen[e.Version] = true
			out = append(out, e.Version)
		}
	}
	sort.Strings(out)
	return out
}

// CheckConflicts returns every candidate path owned by an app other than
// app. Paths owned by app itself are not conflicts.
func (m *Manifest) CheckConflicts(candidates []string, app string) []Conflict {
	owners := make(map[string]string, len(m.Files))
	for _, e := range m.Files {
		owners[e.Path] = e.App
	}
	var out []Conflict
	seen := map[string]bool{}
	for _, p := range candidates {
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		if owner, ok := owners[p]; ok && owner != app {
			out = append(out, Conflict{Path: p, Owner: owner})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Add inserts entries. Re-adding a path the same app owns replaces the row;
// a path owned by another app is a conflict and nothing is added.
func (m *Manifest) Add(entries ...Entry) error {
	index := make(map[string]int, len(m.Files))
	for i, e := range m.Files {
		index[e.Path] = i
	}
	for _, e := range entries {
		if i, ok := index[e.Path]; ok && m.Files[i].App != e.App {
			return twerr.New(twerr.ErrConflict, "MAN_CONFLICT", "%s is owned by %s", e.Path, m.Files[i].App)
		}
	}
	for _, e := range entries {
		if i, ok := index[e.Path]; ok {
			m.Files[i] = e
			continue
		}
		index[e.Path] = len(m.Files)
		m.Files = append(m.Files, e)
	}
	return nil
}

// Record adds one row per tracked file for app, checksumming the file's
// current content. Symlinks carry no checksum; their target is recorded.
func (m *Manifest) Record(app, version string, files []Tracked, now time.Time) error {
	now = now.UTC().Truncate(time.Second)
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		e := Entry{
			Path:        filepath.Clean(f.Path),
			App:         app,
			Version:     version,
			Role:        f.Role,
			InstalledAt: now,
		}
		if f.IsSymlink {
			e.IsSymlink = true
			e.SymlinkTarget = f.SymlinkTarget
		} else {
			sum, err := fsutil.FileChecksum(f.Path)
			if err != nil {
				return fmt.Errorf("MAN_RECORD: checksum %s: %w", f.Path, err)
			}
			e.Checksum = sum
		}
		entries = append(entries, e)
	}
	return m.Add(entries...)
}

// EntriesFor returns app's rows in removal order: symlinks first, then
// regular files, deepest paths first within each group.
func (m *Manifest) EntriesFor(app string) []Entry {
	var out []Entry
	for _, e := range m.Files {
		if e.App == app {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsSymlink != out[j].IsSymlink {
			return out[i].IsSymlink
		}
		di, dj := strings.Count(out[i].Path, string(filepath.Separator)), strings.Count(out[j].Path, string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// RemoveApp drops every row owned by app and returns them.
func (m *Manifest) RemoveApp(app string) []Entry {
	removed := m.EntriesFor(app)
	kept := m.Files[:0]
	for _, e := range m.Files {
		if e.App != app {
			kept = append(kept, e)
		}
	}
	m.Files = kept
	return removed
}

// RemovePaths drops the rows for the given paths.
func (m *Manifest) RemovePaths(paths []string) {
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		drop[p] = true
	}
	kept := m.Files[:0]
	for _, e := range m.Files {
		if !drop[e.Path] {
			kept = append(kept, e)
		}
	}
	m.Files = kept
}

// Apps summarizes installed apps, sorted by name.
func (m *Manifest) Apps() []AppSummary {
	byName := map[string]*AppSummary{}
	for _, e := range m.Files {
		s, ok := byName[e.App]
		if !ok {
			s = &AppSummary{Name: e.App, Version: e.Version, InstalledAt: e.InstalledAt}
			byName[e.App] = s
		}
		s.Files++
		if e.InstalledAt.After(s.InstalledAt) {
			s.InstalledAt = e.InstalledAt
		}
	}
	out := make([]AppSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Verify recomputes every tracked file of app and compares it with the
// stored state. It never mutates the manifest or the filesystem.
func (m *Manifest) Verify(app string) []FileStatus {
	entries := m.EntriesFor(app)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	out := make([]FileStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, verifyEntry(e))
	}
	return out
}

func verifyEntry(e Entry) FileStatus {
	st := FileStatus{Path: e.Path, Status: StatusOK}
	info, err := os.Lstat(e.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			st.Status = StatusMissing
			return st
		}
		st.Status = StatusMissing
		st.Detail = err.Error()
		return st
	}
	if e.IsSymlink {
		if info.Mode()&os.ModeSymlink == 0 {
			st.Status = StatusChecksumMismatch
			st.Detail = "expected a symlink"
			return st
		}
		target, err := os.Readlink(e.Path)
		if err != nil {
			st.Status = StatusChecksumMismatch
			st.Detail = err.Error()
			return st
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(e.Path), target)
		}
		if e.SymlinkTarget != "" && filepath.Clean(target) != filepath.Clean(e.SymlinkTarget) {
			st.Status = StatusChecksumMismatch
			st.Detail = "symlink points at " + target
		}
		return st
	}
	if e.Checksum == "" {
		st.Detail = "no checksum recorded"
		return st
	}
	sum, err := fsutil.FileChecksum(e.Path)
	if err != nil {
		st.Status = StatusMissing
		st.Detail = err.Error()
		return st
	}
	if !fsutil.ChecksumsEqual(sum, e.Checksum) {
		st.Status = StatusChecksumMismatch
	}
	return st
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool, len(m.Files))
	for i, e := range m.Files {
		if e.Path == "" || !filepath.IsAbs(e.Path) {
			return fmt.Errorf("record %d: path %q is not absolute", i, e.Path)
		}
		if e.App == "" {
			return fmt.Errorf("record %d: missing app", i)
		}
		if seen[e.Path] {
			return fmt.Errorf("record %d: duplicate path %s", i, e.Path)
		}
		seen[e.Path] = true
	}
	return nil
}
