package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"twpm/internal/config"
	"twpm/internal/twerr"
)

func testRegistry(t *testing.T) (*Registry, config.Paths) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.InstallRoot = t.TempDir()
	paths, err := config.Resolve(cfg, "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	for _, dir := range []string{paths.Registry, paths.Installers} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return New(paths), paths
}

func TestLookupAndInstaller(t *testing.T) {
	reg, paths := testRegistry(t)
	if err := os.WriteFile(filepath.Join(paths.Registry, "recurrence.meta"), []byte("name = recurrence\ntype = hook\nversion = 1.0.0\nfiles = on-add_recurrence.py:hook\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(paths.Installers, "recurrence.install"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	d, err := reg.Lookup("recurrence")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if d.Version != "1.0.0" || len(d.Files) != 1 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	path, err := reg.Installer("recurrence")
	if err != nil {
		t.Fatalf("installer failed: %v", err)
	}
	if path != filepath.Join(paths.Installers, "recurrence.install") {
		t.Fatalf("unexpected installer path %q", path)
	}
}

func TestLookupErrors(t *testing.T) {
	reg, paths := testRegistry(t)
	if _, err := reg.Lookup("absent"); !errors.Is(err, twerr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := reg.Lookup("../etc/passwd"); !errors.Is(err, twerr.ErrUsage) {
		t.Fatalf("expected usage error for path-like name, got %v", err)
	}
	if _, err := reg.Installer("absent"); !errors.Is(err, twerr.ErrNotFound) {
		t.Fatalf("expected NotFound installer, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(paths.Registry, "alias.meta"), []byte("name = other\ntype = hook\nfiles = a:hook\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Lookup("alias"); !errors.Is(err, twerr.ErrMalformedDescriptor) {
		t.Fatalf("expected name mismatch to be malformed, got %v", err)
	}
}

func TestListKeepsBrokenRecords(t *testing.T) {
	reg, paths := testRegistry(t)
	files := map[string]string{
		"b.meta":      "name = b\ntype = hook\nfiles = b.py:hook\n",
		"a.meta":      "name = a\ntype = wrapper\nfiles = a:script\n",
		"broken.meta": "name = broken\n",
		"notes.txt":   "ignored",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(paths.Registry, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := reg.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "a" || entries[1].Name != "b" || entries[2].Name != "broken" {
		t.Fatalf("unexpected order %+v", entries)
	}
	if entries[2].Err == nil || !errors.Is(entries[2].Err, twerr.ErrMalformedDescriptor) {
		t.Fatalf("expected broken record error, got %v", entries[2].Err)
	}
}

func TestListMissingDirectory(t *testing.T) {
	reg := &Registry{dir: filepath.Join(t.TempDir(), "nope")}
	entries, err := reg.List()
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty list, got %v %v", entries, err)
	}
}
