package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twpm/internal/config"
	"twpm/internal/debuglog"
	"twpm/internal/twerr"
)

func testRunner(t *testing.T) (*Runner, config.Paths) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.InstallRoot = t.TempDir()
	cfg.Paths.TaskRC = filepath.Join(cfg.Paths.InstallRoot, "taskrc")
	paths, err := config.Resolve(cfg, "")
	require.NoError(t, err)
	require.NoError(t, paths.EnsureLayout())
	dbg, err := debuglog.Open(debuglog.Options{Level: debuglog.LevelDebug, Dir: filepath.Join(paths.Logs, "debug")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbg.Close() })
	r := NewRunner(paths, dbg, "sh", 10*time.Second)
	r.StagingRoot = t.TempDir()
	return r, paths
}

func writeInstaller(t *testing.T, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.install")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), mode))
	return path
}

func TestRunSuccessReportsCreatedFilesAndEnv(t *testing.T) {
	r, paths := testRunner(t)
	script := writeInstaller(t, `
case "$1" in
install)
  printf '%s|%s|%s|%s\n' "$TW_APP" "$TW_APP_VERSION" "$DEBUG_HOOKS" "$EXTRA" > "$HOOKS_DIR/on-add_demo.py"
  ln -s on-add_demo.py "$HOOKS_DIR/on-modify_demo.py"
  echo installed
  ;;
esac
`, 0o755)

	out, err := r.Run(context.Background(), Request{
		App: "demo", Version: "1.0.0", Installer: script, Verb: VerbInstall,
		TargetDirs: []string{paths.Hooks}, Env: map[string]string{"EXTRA": "x"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, "installed\n", out.Stdout)
	assert.Equal(t, []string{
		filepath.Join(paths.Hooks, "on-add_demo.py"),
		filepath.Join(paths.Hooks, "on-modify_demo.py"),
	}, out.Created)
	assert.Equal(t, out.Created, out.Written())

	blob, err := os.ReadFile(filepath.Join(paths.Hooks, "on-add_demo.py"))
	require.NoError(t, err)
	assert.Equal(t, "demo|1.0.0|1|x\n", string(blob))
}

func TestRunFailureRollsBackToPreRunState(t *testing.T) {
	r, paths := testRunner(t)
	keep := filepath.Join(paths.Hooks, "on-add_other.py")
	edited := filepath.Join(paths.Config, "shared.rc")
	doomed := filepath.Join(paths.Config, "doomed.rc")
	require.NoError(t, os.WriteFile(keep, []byte("other"), 0o755))
	require.NoError(t, os.WriteFile(edited, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(doomed, []byte("keep me"), 0o644))

	script := writeInstaller(t, `
echo new > "$HOOKS_DIR/on-add_demo.py"
mkdir -p "$HOOKS_DIR/demo-lib/nested"
echo lib > "$HOOKS_DIR/demo-lib/nested/lib.py"
echo clobbered > "$CONFIG_DIR/shared.rc"
rm "$CONFIG_DIR/doomed.rc"
echo "boom" >&2
exit 3
`, 0o755)

	out, err := r.Run(context.Background(), Request{
		App: "demo", Installer: script, Verb: VerbInstall,
		TargetDirs: []string{paths.Hooks, paths.Config},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, twerr.ErrInstallerFailure))
	assert.False(t, errors.Is(err, twerr.ErrRollbackFailure))
	assert.Contains(t, err.Error(), "INS_FAILED")
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, out.Success)
	assert.True(t, out.RolledBack)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "boom\n", out.Stderr)

	assert.NoFileExists(t, filepath.Join(paths.Hooks, "on-add_demo.py"))
	assert.NoDirExists(t, filepath.Join(paths.Hooks, "demo-lib"))
	assert.FileExists(t, keep)
	blob, err := os.ReadFile(edited)
	require.NoError(t, err)
	assert.Equal(t, "original", string(blob))
	blob, err = os.ReadFile(doomed)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(blob))
}

func TestRunTimeoutIsFailure(t *testing.T) {
	r, paths := testRunner(t)
	script := writeInstaller(t, `
echo partial > "$HOOKS_DIR/on-add_slow.py"
exec sleep 5
`, 0o755)

	start := time.Now()
	out, err := r.Run(context.Background(), Request{
		App: "slow", Installer: script, Verb: VerbInstall,
		TargetDirs: []string{paths.Hooks}, Timeout: 300 * time.Millisecond,
	})
	require.ErrorIs(t, err, twerr.ErrInstallerFailure)
	assert.Contains(t, err.Error(), "INS_TIMEOUT")
	assert.True(t, out.TimedOut)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.NoFileExists(t, filepath.Join(paths.Hooks, "on-add_slow.py"))
}

func TestRunReportsRollbackFailureWithOrphans(t *testing.T) {
	r, paths := testRunner(t)
	stuck := filepath.Join(paths.Hooks, "on-add_stuck.py")
	r.remove = func(path string) error {
		if path == stuck {
			return errors.New("device busy")
		}
		return os.Remove(path)
	}
	script := writeInstaller(t, `
echo x > "$HOOKS_DIR/on-add_stuck.py"
echo y > "$HOOKS_DIR/on-add_fine.py"
exit 1
`, 0o755)

	out, err := r.Run(context.Background(), Request{
		App: "stuck", Installer: script, Verb: VerbInstall, TargetDirs: []string{paths.Hooks},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, twerr.ErrRollbackFailure))
	assert.True(t, errors.Is(err, twerr.ErrInstallerFailure), "original failure must still be reported")
	assert.True(t, strings.HasPrefix(err.Error(), "INS_ROLLBACK"))
	assert.Contains(t, err.Error(), "orphaned")
	assert.Contains(t, err.Error(), stuck)
	assert.Equal(t, []string{stuck}, out.Orphaned)
	assert.NoFileExists(t, filepath.Join(paths.Hooks, "on-add_fine.py"))
}

func TestRunUsesInterpreterForNonExecutableInstaller(t *testing.T) {
	r, paths := testRunner(t)
	script := writeInstaller(t, `echo "$1" > "$SCRIPTS_DIR/verb.txt"`+"\n", 0o644)
	out, err := r.Run(context.Background(), Request{
		App: "plain", Installer: script, Verb: VerbInstall, TargetDirs: []string{paths.Scripts},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(paths.Scripts, "verb.txt")}, out.Created)
}

func TestRunMissingInstaller(t *testing.T) {
	r, _ := testRunner(t)
	_, err := r.Run(context.Background(), Request{App: "ghost", Installer: filepath.Join(t.TempDir(), "nope"), Verb: VerbInstall})
	require.ErrorIs(t, err, twerr.ErrInstallerFailure)
	assert.Contains(t, err.Error(), "INS_MISSING")
}

func TestRunRemoveFailureDoesNotRollBack(t *testing.T) {
	r, paths := testRunner(t)
	target := filepath.Join(paths.Hooks, "on-add_demo.py")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	script := writeInstaller(t, `rm -f "$HOOKS_DIR/on-add_demo.py"; exit 2`+"\n", 0o755)
	out, err := r.Run(context.Background(), Request{App: "demo", Installer: script, Verb: VerbRemove, TargetDirs: []string{paths.Hooks}})
	require.ErrorIs(t, err, twerr.ErrInstallerFailure)
	assert.False(t, out.RolledBack)
	assert.NoFileExists(t, target)
}

func TestRunRollbackRestoresFileReplacedByDir(t *testing.T) {
	r, paths := testRunner(t)
	shared := filepath.Join(paths.Config, "shared.rc")
	require.NoError(t, os.WriteFile(shared, []byte("original"), 0o644))

	script := writeInstaller(t, `
rm "$CONFIG_DIR/shared.rc"
mkdir -p "$CONFIG_DIR/shared.rc/nested"
echo x > "$CONFIG_DIR/shared.rc/nested/x.rc"
exit 4
`, 0o755)

	out, err := r.Run(context.Background(), Request{
		App: "demo", Installer: script, Verb: VerbInstall,
		TargetDirs: []string{paths.Config},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, twerr.ErrRollbackFailure))
	assert.Equal(t, []string{shared}, out.Modified)
	assert.True(t, out.RolledBack)

	blob, err := os.ReadFile(shared)
	require.NoError(t, err)
	assert.Equal(t, "original", string(blob))
}
