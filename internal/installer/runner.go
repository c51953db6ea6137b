// Package installer runs external app installers under a fixed contract:
// the installer is invoked with a verb argument and a derived environment,
// and its exit status decides success. File changes are observed by
// snapshotting the target directories, never taken from the installer.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"twpm/internal/config"
	"twpm/internal/debuglog"
	"twpm/internal/fsutil"
	"twpm/internal/twerr"
)

type Verb string

const (
	VerbInstall Verb = "install"
	VerbRemove  Verb = "remove"
	VerbVerify  Verb = "verify"
)

const (
	DefaultTimeout = 5 * time.Minute
	waitDelay      = 5 * time.Second
	stderrTail     = 512
)

// Request describes one installer invocation.
type Request struct {
	App        string
	Version    string
	Installer  string
	Verb       Verb
	TargetDirs []string
	Env        map[string]string
	Timeout    time.Duration
}

// Outcome is the observed result of one run. It is consumed once by the
// caller.
type Outcome struct {
	App         string        `json:"app"`
	Verb        Verb          `json:"verb"`
	ExitCode    int           `json:"exit_code"`
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	Created     []string      `json:"created,omitempty"`
	Modified    []string      `json:"modified,omitempty"`
	Deleted     []string      `json:"deleted,omitempty"`
	CreatedDirs []string      `json:"created_dirs,omitempty"`
	Success     bool          `json:"success"`
	TimedOut    bool          `json:"timed_out,omitempty"`
	RolledBack  bool          `json:"rolled_back,omitempty"`
	Orphaned    []string      `json:"orphaned,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Written returns the created and modified files, sorted.
func (o Outcome) Written() []string {
	return fsutil.Diff{Created: o.Created, Modified: o.Modified}.Written()
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Runner executes installers. The zero value is not usable; use NewRunner.
type Runner struct {
	Paths       config.Paths
	Debug       *debuglog.Logger
	Interpreter string
	Timeout     time.Duration
	// StagingRoot holds pre-run backups; it defaults to the system temp dir.
	StagingRoot string
	// Output, when set, receives the installer's stdout and stderr as they
	// are produced in addition to the captured copy.
	Output io.Writer

	command commandFunc
	remove  func(string) error
}

func NewRunner(paths config.Paths, debug *debuglog.Logger, interpreter string, timeout time.Duration) *Runner {
	if debug == nil {
		debug = debuglog.Discard()
	}
	if interpreter == "" {
		interpreter = config.DefaultInterpreter
	}
	return &Runner{
		Paths:       paths,
		Debug:       debug,
		Interpreter: interpreter,
		Timeout:     timeout,
		command:     exec.CommandContext,
		remove:      os.Remove,
	}
}

// Env builds the installer environment: the inherited environment, the
// resolved directories, the debug variables, the app identity and finally
// the request's overrides. Later layers win.
func (r *Runner) Env(req Request) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range r.Paths.Env() {
		merged[k] = v
	}
	for k, v := range r.Debug.Env() {
		merged[k] = v
	}
	merged["TW_APP"] = req.App
	merged["TW_APP_VERSION"] = req.Version
	merged["TW_VERB"] = string(req.Verb)
	for k, v := range req.Env {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Run executes req. A failed install is rolled back before Run returns: new
// files and directories are deleted and pre-existing files the installer
// changed or deleted are restored. The returned error is InstallerFailure,
// or RollbackFailure wrapping it when the rollback itself failed.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{App: req.App, Verb: req.Verb, ExitCode: -1}
	info, err := os.Stat(req.Installer)
	if err != nil || info.IsDir() {
		return out, twerr.New(twerr.ErrInstallerFailure, "INS_MISSING", "installer for %s not found at %s", req.App, req.Installer)
	}

	guarded := req.Verb == VerbInstall
	var before fsutil.Snapshot
	var backups map[string]string
	if guarded {
		if before, err = fsutil.TakeSnapshot(req.TargetDirs); err != nil {
			return out, twerr.Wrap(twerr.ErrInstallerFailure, "INS_SNAPSHOT", err, "snapshot before %s", req.App)
		}
		stage, err := os.MkdirTemp(r.StagingRoot, "tw-stage-")
		if err != nil {
			return out, twerr.Wrap(twerr.ErrInstallerFailure, "INS_STAGE_CREATE", err, "staging for %s", req.App)
		}
		defer os.RemoveAll(stage)
		if backups, err = backup(before, stage); err != nil {
			return out, twerr.Wrap(twerr.ErrInstallerFailure, "INS_STAGE_WRITE", err, "back up files for %s", req.App)
		}
		r.Debug.Trace("pre-run snapshot", "app", req.App, "entries", len(before), "backups", len(backups))
	}

	start := time.Now()
	runErr := r.exec(ctx, req, &out)
	out.Duration = time.Since(start)
	r.Debug.Info("installer finished", "app", req.App, "verb", req.Verb, "exit", out.ExitCode, "timed_out", out.TimedOut, "duration", out.Duration)
	if out.Stdout != "" {
		r.Debug.Debug("installer stdout", "app", req.App, "output", out.Stdout)
	}
	if out.Stderr != "" {
		r.Debug.Debug("installer stderr", "app", req.App, "output", out.Stderr)
	}

	if guarded {
		after, err := fsutil.TakeSnapshot(req.TargetDirs)
		if err != nil && runErr == nil {
			runErr = twerr.Wrap(twerr.ErrInstallerFailure, "INS_SNAPSHOT", err, "snapshot after %s", req.App)
		}
		if err == nil {
			diff := fsutil.Compare(before, after)
			out.Created, out.Modified, out.Deleted, out.CreatedDirs = diff.Created, diff.Modified, diff.Deleted, diff.CreatedDirs
			r.Debug.Trace("post-run diff", "app", req.App, "created", len(diff.Created), "modified", len(diff.Modified), "deleted", len(diff.Deleted))
			if diff.Empty() && runErr == nil {
				r.Debug.Info("installer changed nothing in target dirs", "app", req.App)
			}
		}
	}

	if runErr == nil {
		out.Success = true
		return out, nil
	}
	if !guarded {
		return out, runErr
	}

	rbErrs := r.rollback(&out, backups)
	out.RolledBack = true
	if len(rbErrs) == 0 {
		r.Debug.Info("rollback complete", "app", req.App)
		return out, runErr
	}
	r.Debug.Error("rollback incomplete", "app", req.App, "orphaned", out.Orphaned)
	joined := errors.Join(append(rbErrs, runErr)...)
	return out, twerr.Wrap(twerr.ErrRollbackFailure, "INS_ROLLBACK", joined,
		"rollback of %s incomplete, orphaned files need manual cleanup: %s", req.App, strings.Join(out.Orphaned, ", "))
}

func (r *Runner) exec(ctx context.Context, req Request, out *Outcome) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := r.Interpreter, []string{req.Installer, string(req.Verb)}
	if info, err := os.Stat(req.Installer); err == nil && info.Mode().Perm()&0o111 != 0 {
		name, args = req.Installer, []string{string(req.Verb)}
	}
	cmd := r.command(ctx, name, args...)
	cmd.Env = r.Env(req)
	cmd.Dir = filepath.Dir(req.Installer)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	if r.Output != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.Output)
		cmd.Stderr = io.MultiWriter(&stderr, r.Output)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}
	r.Debug.Debug("running installer", "app", req.App, "command", name, "args", args, "timeout", timeout)

	err := cmd.Run()
	out.Stdout, out.Stderr = stdout.String(), stderr.String()
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.TimedOut = true
		return twerr.New(twerr.ErrInstallerFailure, "INS_TIMEOUT", "installer %s %s timed out after %s", req.App, req.Verb, timeout)
	case ctx.Err() != nil:
		return twerr.Wrap(twerr.ErrInstallerFailure, "INS_INTERRUPTED", ctx.Err(), "installer %s %s interrupted", req.App, req.Verb)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return twerr.New(twerr.ErrInstallerFailure, "INS_FAILED", "installer %s %s exited %d%s", req.App, req.Verb, out.ExitCode, tail(out.Stderr))
		}
		return twerr.Wrap(twerr.ErrInstallerFailure, "INS_EXEC", err, "start installer %s", req.Installer)
	}
	return nil
}

// rollback undoes the observed diff. It returns the errors it hit and
// records files it could not remove in out.Orphaned.
func (r *Runner) rollback(out *Outcome, backups map[string]string) []error {
	var errs []error
	for _, path := range out.Created {
		if err := r.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			out.Orphaned = append(out.Orphaned, path)
		}
	}
	dirs := append([]string(nil), out.CreatedDirs...)
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if err := r.remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove dir %s: %w", dir, err))
			out.Orphaned = append(out.Orphaned, dir)
		}
	}
	// A pre-existing file may have been replaced by a directory; it is
	// removed whole before the backup is copied back.
	restore := append(append([]string(nil), out.Modified...), out.Deleted...)
	for _, path := range restore {
		saved, ok := backups[path]
		if !ok {
			errs = append(errs, fmt.Errorf("restore %s: no backup", path))
			continue
		}
		if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("restore %s: %w", path, err))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", path, err))
			continue
		}
		if err := fsutil.CopyFile(saved, path); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", path, err))
		}
	}
	return errs
}

// backup copies every regular file and symlink of snap into stage and
// returns the original -> copy mapping.
func backup(snap fsutil.Snapshot, stage string) (map[string]string, error) {
	saved := make(map[string]string, len(snap))
	i := 0
	for path, st := range snap {
		if st.IsDir || (!st.IsSymlink && !st.Mode.IsRegular()) {
			continue
		}
		dst := filepath.Join(stage, fmt.Sprintf("%06d_%s", i, filepath.Base(path)))
		i++
		if err := fsutil.CopyFile(path, dst); err != nil {
			return nil, err
		}
		saved[path] = dst
	}
	return saved, nil
}

func tail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return ""
	}
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return ": " + s
}
