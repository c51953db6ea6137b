package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"twpm/internal/twerr"
)

func TestRemoveRestoresPreInstallState(t *testing.T) {
	f := newFixture(t)
	f.addRecurrence("1.2.0")
	f.addApp("wrap", "name = wrap\nshort_name = wr\nversion = 0.3.0\ntype = wrapper\nfiles = wr.sh:script\n",
		`  mkdir -p "$TW_APP_DIR"
  printf '#!/bin/sh\n' > "$TW_APP_DIR/wr.sh"`)
	ctx := context.Background()
	if _, err := f.svc.Install(ctx, "wrap", InstallOptions{}); err != nil {
		t.Fatalf("install wrap failed: %v", err)
	}
	before := f.tree()

	if _, err := f.svc.Install(ctx, "recurrence", InstallOptions{}); err != nil {
		t.Fatalf("install recurrence failed: %v", err)
	}
	res, err := f.svc.Remove(ctx, "recurrence")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !statesEqual(res.States, StateIdle, StateResolving, StateRemoving, StateDone) {
		t.Fatalf("unexpected states %v", res.States)
	}
	if len(res.Removed) != 3 || res.Partial {
		t.Fatalf("expected 3 removed files, got %+v", res)
	}
	if got := f.tree(); strings.Join(got, ",") != strings.Join(before, ",") {
		t.Fatalf("expected file set %v after remove, got %v", before, got)
	}

	m, err := f.svc.Store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if m.Installed("recurrence") {
		t.Fatalf("recurrence rows remain: %+v", m.EntriesFor("recurrence"))
	}
	if len(m.EntriesFor("wrap")) != 1 {
		t.Fatalf("wrap rows must be untouched, got %+v", m.EntriesFor("wrap"))
	}
	if _, err := os.Stat(filepath.Join(f.svc.Paths.Scripts, "wr", "wr.sh")); err != nil {
		t.Fatalf("wrap file must be untouched: %v", err)
	}
	rc, _ := os.ReadFile(f.svc.Paths.TaskRC)
	if strings.Contains(string(rc), "recurrence") {
		t.Fatalf("include lines remain: %q", rc)
	}
}

func TestRemoveCleansEmptyWrapperDirectory(t *testing.T) {
	f := newFixture(t)
	f.addApp("wrap", "name = wrap\nshort_name = wr\nversion = 0.3.0\ntype = wrapper\nfiles = wr.sh:script\n",
		`  mkdir -p "$TW_APP_DIR"
  printf '#!/bin/sh\n' > "$TW_APP_DIR/wr.sh"`)
	ctx := context.Background()
	if _, err := f.svc.Install(ctx, "wrap", InstallOptions{}); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if _, err := f.svc.Remove(ctx, "wrap"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.svc.Paths.Scripts, "wr")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected empty wrapper dir to be removed, got %v", err)
	}
	if _, err := os.Stat(f.svc.Paths.Scripts); err != nil {
		t.Fatalf("scripts root must survive: %v", err)
	}
}

func TestRemoveToleratesMissingFiles(t *testing.T) {
	f := newFixture(t)
	f.addRecurrence("1.2.0")
	ctx := context.Background()
	if _, err := f.svc.Install(ctx, "recurrence", InstallOptions{}); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if err := os.Remove(filepath.Join(f.svc.Paths.Config, "recurrence.rc")); err != nil {
		t.Fatalf("remove rc failed: %v", err)
	}
	res, err := f.svc.Remove(ctx, "recurrence")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if res.Partial || len(res.Removed) != 3 {
		t.Fatalf("already-missing files count as removed, got %+v", res)
	}
}

func TestRemovePartialFailureKeepsOnlyFailedRows(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	f := newFixture(t)
	f.addApp("wrap", "name = wrap\nshort_name = wr\nversion = 0.3.0\ntype = wrapper\nfiles = wr.sh:script, wr.rc:config\n",
		`  mkdir -p "$TW_APP_DIR"
  printf '#!/bin/sh\n' > "$TW_APP_DIR/wr.sh"
  printf 'x=1\n' > "$CONFIG_DIR/wr.rc"`)
	ctx := context.Background()
	if _, err := f.svc.Install(ctx, "wrap", InstallOptions{}); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	dir := filepath.Join(f.svc.Paths.Scripts, "wr")
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	res, err := f.svc.Remove(ctx, "wrap")
	if err != nil {
		t.Fatalf("partial remove is not an error: %v", err)
	}
	if !res.Partial || len(res.Failed) != 1 || len(res.Removed) != 1 {
		t.Fatalf("expected one removed and one failed, got %+v", res)
	}
	m, err := f.svc.Store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	left := m.EntriesFor("wrap")
	if len(left) != 1 || left[0].Path != filepath.Join(dir, "wr.sh") {
		t.Fatalf("expected only the undeletable row to remain, got %+v", left)
	}
}

func TestRemoveNotInstalled(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Remove(context.Background(), "recurrence")
	if !errors.Is(err, twerr.ErrNotInstalled) {
		t.Fatalf("expected not installed, got %v", err)
	}
	if !statesEqual(res.States, StateIdle, StateResolving, StateFailed) {
		t.Fatalf("unexpected states %v", res.States)
	}
}
