package fsutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCompareDetectsCreatedModifiedDeleted(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep")
	edit := filepath.Join(root, "edit")
	gone := filepath.Join(root, "gone")
	for _, p := range []string{keep, edit, gone} {
		if err := os.WriteFile(p, []byte("v1"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	before, err := TakeSnapshot([]string{root, missing})
	if err != nil {
		t.Fatalf("snapshot before: %v", err)
	}

	if err := os.WriteFile(edit, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	created := filepath.Join(sub, "new")
	if err := os.WriteFile(created, []byte("n"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink("keep", link); err != nil {
		t.Fatal(err)
	}

	after, err := TakeSnapshot([]string{root, missing})
	if err != nil {
		t.Fatalf("snapshot after: %v", err)
	}
	d := Compare(before, after)
	if !reflect.DeepEqual(d.Created, []string{link, created}) {
		t.Fatalf("created = %v", d.Created)
	}
	if !reflect.DeepEqual(d.Modified, []string{edit}) {
		t.Fatalf("modified = %v", d.Modified)
	}
	if !reflect.DeepEqual(d.Deleted, []string{gone}) {
		t.Fatalf("deleted = %v", d.Deleted)
	}
	if !reflect.DeepEqual(d.CreatedDirs, []string{sub}) {
		t.Fatalf("created dirs = %v", d.CreatedDirs)
	}
	if !after[link].IsSymlink || after[link].LinkTarget != "keep" {
		t.Fatalf("symlink not recorded by target: %+v", after[link])
	}
}

func TestCompareIdenticalSnapshotsIsEmpty(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	s1, err := TakeSnapshot([]string{root, root})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := TakeSnapshot([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if d := Compare(s1, s2); !d.Empty() {
		t.Fatalf("expected empty diff, got %+v", d)
	}
}

func TestCompareReportsFileReplacedByDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "lib")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := TakeSnapshot([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	after, err := TakeSnapshot([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	d := Compare(before, after)
	if !reflect.DeepEqual(d.Modified, []string{path}) {
		t.Fatalf("expected %s modified, got %+v", path, d)
	}
	if len(d.CreatedDirs) != 0 || len(d.Deleted) != 0 {
		t.Fatalf("unexpected diff %+v", d)
	}
}
