package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"twpm/internal/descriptor"
	"twpm/internal/fsutil"
	"twpm/internal/installer"
	"twpm/internal/store"
	"twpm/internal/twerr"
)

type InstallOptions struct {
	DryRun bool
	// Force reinstalls an app that is already installed.
	Force bool
}

type InstallResult struct {
	App          string                   `json:"app" yaml:"app"`
	Version      string                   `json:"version,omitempty" yaml:"version,omitempty"`
	DryRun       bool                     `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Planned      []descriptor.PlannedFile `json:"planned" yaml:"planned"`
	Requirements []RequirementCheck       `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Files        []store.Entry            `json:"files,omitempty" yaml:"files,omitempty"`
	Includes     []string                 `json:"includes,omitempty" yaml:"includes,omitempty"`
	Untracked    []string                 `json:"untracked,omitempty" yaml:"untracked,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Outcome      *installer.Outcome       `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	States       []State                  `json:"states" yaml:"states"`
}

// preflight is everything RESOLVING decides before any I/O.
type preflight struct {
	plan      []descriptor.PlannedFile
	dirs      []string
	installer string
}

func (s *Service) Install(ctx context.Context, name string, opts InstallOptions) (*InstallResult, error) {
	res := &InstallResult{App: name, DryRun: opts.DryRun}
	m := s.machine("install", name, !opts.DryRun)
	err := s.runInstall(ctx, m, name, opts, res)
	res.States = m.States()
	return res, err
}

func (s *Service) runInstall(ctx context.Context, m *machine, name string, opts InstallOptions, res *InstallResult) error {
	m.to(StateResolving)
	var man *store.Manifest
	if opts.DryRun {
		loaded, warning, err := s.loadForRead()
		if err != nil {
			return m.fail(err)
		}
		if warning != "" {
			res.Warnings = append(res.Warnings, warning)
		}
		man = loaded
	} else {
		release, err := s.acquire(ctx)
		if err != nil {
			return m.fail(err)
		}
		defer release()
		if man, err = s.loadForMutation(); err != nil {
			return m.fail(err)
		}
	}

	d, err := s.Registry.Lookup(name)
	if err != nil {
		return m.fail(err)
	}
	res.Version = d.Version
	if man.Installed(name) && !opts.Force {
		return m.fail(twerr.New(twerr.ErrAlreadyInstalled, "ORC_INSTALLED", "%s is already installed; use update to upgrade or --force to reinstall", name))
	}
	pf, err := s.preflight(ctx, d, man, res)
	if err != nil {
		return m.fail(err)
	}
	if opts.DryRun {
		m.to(StateDone)
		return nil
	}
	return s.execute(ctx, m, d, man, pf, opts.Force, res)
}

// preflight plans the install, checks requirements and conflicts and
// locates the installer. It performs no writes.
func (s *Service) preflight(ctx context.Context, d *descriptor.Descriptor, man *store.Manifest, res *InstallResult) (preflight, error) {
	plan, err := d.Plan(s.Paths)
	if err != nil {
		return preflight{}, err
	}
	dirs, err := d.TargetDirs(s.Paths)
	if err != nil {
		return preflight{}, err
	}
	res.Planned = plan

	res.Requirements = s.checkRequirements(ctx, d, man)
	if err := unmetError(d.Name, res.Requirements); err != nil {
		return preflight{}, err
	}

	if conflicts := man.CheckConflicts(descriptor.PlannedPaths(plan), d.Name); len(conflicts) > 0 {
		parts := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			parts = append(parts, c.Path+" is owned by "+c.Owner)
		}
		return preflight{}, twerr.New(twerr.ErrConflict, "ORC_CONFLICT", "cannot install %s: %s", d.Name, strings.Join(parts, "; "))
	}

	path, err := s.Registry.Installer(d.Name)
	if err != nil {
		return preflight{}, err
	}
	s.Debug.Debug("preflight passed", "app", d.Name, "planned", len(plan), "target_dirs", dirs, "installer", path)
	return preflight{plan: plan, dirs: dirs, installer: path}, nil
}

// execute runs the installer and commits its outcome. The lock must be
// held and m must be in RESOLVING or REMOVING.
func (s *Service) execute(ctx context.Context, m *machine, d *descriptor.Descriptor, man *store.Manifest, pf preflight, force bool, res *InstallResult) error {
	m.to(StateInstalling)
	m.phase(string(StateInstalling), map[string]string{"version": d.Version, "installer": pf.installer})
	if err := s.Paths.EnsureLayout(); err != nil {
		return m.fail(err)
	}
	out, err := s.Runner.Run(ctx, installer.Request{
		App:        d.Name,
		Version:    d.Version,
		Installer:  pf.installer,
		Verb:       installer.VerbInstall,
		TargetDirs: pf.dirs,
		Env:        s.appEnv(d),
	})
	res.Outcome = &out
	if err != nil {
		return m.fail(err)
	}

	tracked, untracked, warnings := s.track(d, pf.plan, out, man)
	res.Untracked = untracked
	res.Warnings = append(res.Warnings, warnings...)
	if force {
		var stale []string
		for _, e := range man.EntriesFor(d.Name) {
			if _, err := os.Lstat(e.Path); err != nil {
				stale = append(stale, e.Path)
			}
		}
		man.RemovePaths(stale)
	}
	if err := man.Record(d.Name, d.Version, tracked, s.now()); err != nil {
		return m.fail(s.compensate(d.Name, out, false, err))
	}

	var includes []string
	for _, p := range pf.plan {
		if p.Role == descriptor.RoleConfig && !p.IsSymlink && exists(p.Path) {
			includes = append(includes, p.Path)
		}
	}
	added, err := s.TaskRC.AddIncludes(d.Name, includes)
	if err != nil {
		return m.fail(s.compensate(d.Name, out, false, err))
	}
	if err := s.Store.Save(man); err != nil {
		return m.fail(s.compensate(d.Name, out, len(added) > 0, err))
	}
	res.Files = man.EntriesFor(d.Name)
	res.Includes = added
	m.done(map[string]string{"version": d.Version, "files": strconv.Itoa(len(res.Files))})
	return nil
}

// track decides which observed paths the app owns. Created files and
// planned files are recorded. Pre-existing files the installer modified are
// reported as untracked unless planned. Paths owned by another app are
// never recorded.
func (s *Service) track(d *descriptor.Descriptor, plan []descriptor.PlannedFile, out installer.Outcome, man *store.Manifest) ([]store.Tracked, []string, []string) {
	planned := make(map[string]descriptor.PlannedFile, len(plan))
	for _, p := range plan {
		planned[p.Path] = p
	}
	modified := make(map[string]bool, len(out.Modified))
	for _, p := range out.Modified {
		modified[p] = true
	}
	candidates := map[string]bool{}
	for _, p := range out.Written() {
		candidates[p] = true
	}
	var warnings []string
	for _, p := range plan {
		if exists(p.Path) {
			candidates[p.Path] = true
		} else if !p.Optional {
			warnings = append(warnings, fmt.Sprintf("declared file %s was not installed", p.Path))
		}
	}
	paths := make([]string, 0, len(candidates))
	for p := range candidates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var tracked []store.Tracked
	var untracked []string
	for _, path := range paths {
		if owner, ok := man.Owner(path); ok && owner != d.Name {
			warnings = append(warnings, fmt.Sprintf("%s belongs to %s and was not recorded", path, owner))
			continue
		}
		pf, isPlanned := planned[path]
		if modified[path] && !isPlanned {
			if _, owned := man.Owner(path); !owned {
				untracked = append(untracked, path)
				continue
			}
		}
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		t := store.Tracked{Path: path, Role: string(pf.Role)}
		if !isPlanned {
			t.Role = s.Paths.RoleForPath(path)
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			t.IsSymlink = true
			t.SymlinkTarget = pf.SymlinkTarget
			if t.SymlinkTarget == "" {
				t.SymlinkTarget = linkTarget(path)
			}
		case pf.IsSymlink:
			warnings = append(warnings, fmt.Sprintf("%s is declared as a symlink but was installed as a regular file", path))
		case pf.Checksum != "":
			if sum, err := fsutil.FileChecksum(path); err == nil && !fsutil.ChecksumsEqual(sum, pf.Checksum) {
				warnings = append(warnings, twerr.New(twerr.ErrChecksumMismatch, "ORC_CHECKSUM", "%s: declared %s, installed %s", path, pf.Checksum, sum).Error())
			}
		}
		tracked = append(tracked, t)
	}
	return tracked, untracked, warnings
}

// compensate undoes a successful installer run whose commit failed: new
// files and directories are deleted and includes added for app are
// dropped. Pre-existing files the installer changed cannot be restored at
// this point.
func (s *Service) compensate(app string, out installer.Outcome, includes bool, cause error) error {
	var errs []error
	created := append([]string(nil), out.Created...)
	sort.Sort(sort.Reverse(sort.StringSlice(created)))
	var orphaned []string
	for _, p := range created {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			orphaned = append(orphaned, p)
		}
	}
	dirs := append([]string(nil), out.CreatedDirs...)
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		_ = os.Remove(dir)
	}
	if includes {
		if _, err := s.TaskRC.RemoveIncludes(app); err != nil {
			errs = append(errs, err)
		}
	}
	commitErr := fmt.Errorf("ORC_COMMIT: record %s: %w", app, cause)
	if len(errs) == 0 {
		return commitErr
	}
	return twerr.Wrap(twerr.ErrRollbackFailure, "ORC_ROLLBACK", errors.Join(append(errs, commitErr)...),
		"could not undo install of %s, orphaned files need manual cleanup: %s", app, strings.Join(orphaned, ", "))
}

// appEnv is the app-specific part of the installer environment.
func (s *Service) appEnv(d *descriptor.Descriptor) map[string]string {
	files := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		files = append(files, f.Name+":"+string(f.Role))
	}
	env := map[string]string{
		"TW_APP_TYPE":       string(d.Type),
		"TW_APP_SHORT_NAME": d.ShortName,
		"TW_APP_FILES":      strings.Join(files, ","),
		"TW_APP_SOURCE":     d.Source(),
		"TW_REGISTRY_DIR":   s.Paths.Registry,
	}
	if dir, err := s.Paths.InstallDir(string(d.Type), d.ShortName); err == nil {
		env["TW_APP_DIR"] = dir
	}
	return env
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func linkTarget(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target)
}
