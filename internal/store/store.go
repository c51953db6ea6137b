package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"twpm/internal/fsutil"
	"twpm/internal/twerr"
)

// Store owns the manifest file. No other component writes it.
type Store struct {
	path   string
	roleOf func(path string) string
}

// New returns a store for the manifest at path. roleOf infers the role of
// rows imported from the legacy format, which did not record one; it may be
// nil.
func New(path string, roleOf func(string) string) *Store {
	return &Store{path: path, roleOf: roleOf}
}

func (s *Store) Path() string { return s.path }

// Load reads the manifest. An absent file is an empty manifest; anything
// unreadable is ManifestCorruption.
func (s *Store) Load() (*Manifest, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("MAN_READ: %w", err)
	}
	if isLegacy(blob) {
		m, err := s.parseLegacy(blob)
		if err != nil {
			return nil, twerr.Wrap(twerr.ErrManifestCorruption, "MAN_CORRUPT", err, "legacy manifest %s", s.path)
		}
		return m, nil
	}
	var m Manifest
	if err := toml.Unmarshal(blob, &m); err != nil {
		return nil, twerr.Wrap(twerr.ErrManifestCorruption, "MAN_CORRUPT", err, "parse %s", s.path)
	}
	if m.Version != ManifestVersion {
		return nil, twerr.New(twerr.ErrManifestCorruption, "MAN_VERSION", "unsupported manifest version %d in %s", m.Version, s.path)
	}
	if err := m.validate(); err != nil {
		return nil, twerr.Wrap(twerr.ErrManifestCorruption, "MAN_CORRUPT", err, "invalid %s", s.path)
	}
	return &m, nil
}

// Salvage decodes each [[files]] record on its own and keeps the ones that
// parse and validate. It is for read-only commands after Load reported
// corruption; the result must never be saved. skipped counts dropped
// records.
func (s *Store) Salvage() (m *Manifest, skipped int, err error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewManifest(), 0, nil
		}
		return nil, 0, fmt.Errorf("MAN_READ: %w", err)
	}
	if isLegacy(blob) {
		m, err := s.parseLegacy(blob)
		if err == nil {
			return m, 0, nil
		}
	}
	m = NewManifest()
	seen := map[string]bool{}
	for _, chunk := range splitRecords(blob) {
		var doc struct {
			Files []Entry `toml:"files"`
		}
		if err := toml.Unmarshal(chunk, &doc); err != nil || len(doc.Files) != 1 {
			skipped++
			continue
		}
		e := doc.Files[0]
		if e.Path == "" || !filepath.IsAbs(e.Path) || e.App == "" || seen[e.Path] {
			skipped++
			continue
		}
		seen[e.Path] = true
		m.Files = append(m.Files, e)
	}
	return m, skipped, nil
}

// Save writes m atomically. Rows are sorted by path so identical manifests
// serialize identically, and a manifest that matches the file on disk is
// not rewritten.
func (s *Store) Save(m *Manifest) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("MAN_SCHEMA: %w", err)
	}
	out := Manifest{Version: ManifestVersion, Files: append([]Entry(nil), m.Files...)}
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Path < out.Files[j].Path })
	blob, err := toml.Marshal(out)
	if err != nil {
		return fmt.Errorf("MAN_ENCODE: %w", err)
	}
	if sum, err := fsutil.FileChecksum(s.path); err != nil || sum != fsutil.BytesChecksum(blob) {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("MAN_WRITE: %w", err)
		}
		if err := fsutil.AtomicWrite(s.path, blob, 0o644); err != nil {
			return fmt.Errorf("MAN_WRITE: %w", err)
		}
	}
	m.Version = ManifestVersion
	m.Legacy = false
	return nil
}

// splitRecords cuts a manifest into one TOML document per [[files]] table.
func splitRecords(blob []byte) [][]byte {
	var chunks [][]byte
	var cur *bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(blob))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "[[files]]" {
			if cur != nil {
				chunks = append(chunks, cur.Bytes())
			}
			cur = &bytes.Buffer{}
		}
		if cur != nil {
			cur.WriteString(line)
			cur.WriteByte('\n')
		}
	}
	if cur != nil {
		chunks = append(chunks, cur.Bytes())
	}
	return chunks
}

// isLegacy detects the pipe-separated app|version|file|checksum|date format
// by its first meaningful line.
func isLegacy(blob []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(blob))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return !strings.HasPrefix(line, "[") && strings.Count(line, "|") >= 2 && !strings.Contains(line, " = ")
	}
	return false
}

var legacyDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (s *Store) parseLegacy(blob []byte) (*Manifest, error) {
	m := NewManifest()
	m.Legacy = true
	index := map[string]int{}
	scanner := bufio.NewScanner(bytes.NewReader(blob))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("line %d: expected app|version|file|checksum|date", lineNo)
		}
		e := Entry{App: parts[0], Version: parts[1], Path: filepath.Clean(parts[2])}
		if !filepath.IsAbs(e.Path) {
			return nil, fmt.Errorf("line %d: path %q is not absolute", lineNo, parts[2])
		}
		if len(parts) > 3 && parts[3] != "" {
			e.Checksum = fsutil.NormalizeChecksum(parts[3])
		}
		if len(parts) > 4 {
			e.InstalledAt = parseLegacyDate(parts[4])
		}
		if s.roleOf != nil {
			e.Role = s.roleOf(e.Path)
		}
		if info, err := os.Lstat(e.Path); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if target, err := os.Readlink(e.Path); err == nil {
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(e.Path), target)
				}
				e.IsSymlink = true
				e.SymlinkTarget = filepath.Clean(target)
				e.Checksum = ""
			}
		}
		// the legacy writer replaced earlier rows for the same file
		if i, ok := index[e.Path]; ok {
			m.Files[i] = e
			continue
		}
		index[e.Path] = len(m.Files)
		m.Files = append(m.Files, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseLegacyDate(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range legacyDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
