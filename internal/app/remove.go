package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"twpm/internal/config"
	"twpm/internal/installer"
	"twpm/internal/store"
	"twpm/internal/twerr"
)

type RemoveFailure struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

type RemoveResult struct {
	App      string             `json:"app" yaml:"app"`
	Version  string             `json:"version,omitempty" yaml:"version,omitempty"`
	Removed  []string           `json:"removed" yaml:"removed"`
	Failed   []RemoveFailure    `json:"failed,omitempty" yaml:"failed,omitempty"`
	Includes []string           `json:"includes,omitempty" yaml:"includes,omitempty"`
	Partial  bool               `json:"partial,omitempty" yaml:"partial,omitempty"`
	Warnings []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Outcome  *installer.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	States   []State            `json:"states" yaml:"states"`
}

func (s *Service) Remove(ctx context.Context, name string) (*RemoveResult, error) {
	res := &RemoveResult{App: name}
	m := s.machine("remove", name, true)
	err := s.runRemove(ctx, m, name, res)
	res.States = m.States()
	return res, err
}

func (s *Service) runRemove(ctx context.Context, m *machine, name string, res *RemoveResult) error {
	m.to(StateResolving)
	release, err := s.acquire(ctx)
	if err != nil {
		return m.fail(err)
	}
	defer release()
	man, err := s.loadForMutation()
	if err != nil {
		return m.fail(err)
	}
	if !man.Installed(name) {
		return m.fail(notInstalled(name))
	}
	res.Version = installedVersion(man, name)

	m.to(StateRemoving)
	if err := s.uninstall(ctx, name, res.Version, man, res); err != nil {
		return m.fail(err)
	}
	m.done(map[string]string{
		"version": res.Version,
		"removed": strconv.Itoa(len(res.Removed)),
		"failed":  strconv.Itoa(len(res.Failed)),
	})
	return nil
}

// uninstall deletes app's files in manifest order and drops the rows of
// every file that is now gone. A deletion failure leaves that row in
// place and marks the result partial; only a failed manifest write is an
// error.
func (s *Service) uninstall(ctx context.Context, name, version string, m *store.Manifest, res *RemoveResult) error {
	if path, err := s.Registry.Installer(name); err == nil {
		req := installer.Request{App: name, Version: version, Installer: path, Verb: installer.VerbRemove}
		if d, err := s.Registry.Lookup(name); err == nil {
			req.Env = s.appEnv(d)
		}
		out, err := s.Runner.Run(ctx, req)
		res.Outcome = &out
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("remove hook for %s failed: %v", name, err))
		}
	}

	entries := m.EntriesFor(name)
	var gone []string
	parents := map[string]bool{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, RemoveFailure{Path: e.Path, Error: err.Error()})
			continue
		}
		err := os.Remove(e.Path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.Debug.Warn("remove file", "app", name, "path", e.Path, "error", err)
			res.Failed = append(res.Failed, RemoveFailure{Path: e.Path, Error: err.Error()})
			continue
		}
		s.Debug.Debug("removed", "app", name, "path", e.Path, "symlink", e.IsSymlink)
		gone = append(gone, e.Path)
		parents[filepath.Dir(e.Path)] = true
	}
	m.RemovePaths(gone)
	res.Removed = gone
	for dir := range parents {
		s.pruneEmptyDirs(dir)
	}

	if len(res.Failed) == 0 {
		removed, err := s.TaskRC.RemoveIncludes(name)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not remove %s includes from %s: %v", name, s.TaskRC.Path(), err))
		}
		res.Includes = removed
	} else {
		res.Partial = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d of %d files of %s could not be removed and remain in the manifest", len(res.Failed), len(entries), name))
	}
	return s.Store.Save(m)
}

// pruneEmptyDirs removes dir and its empty ancestors up to, but never
// including, the managed roots.
func (s *Service) pruneEmptyDirs(dir string) {
	roots := s.Paths.ManagedRoots()
	for {
		inside := false
		for _, root := range roots {
			if filepath.Clean(dir) == filepath.Clean(root) {
				return
			}
			if config.Within(root, dir) {
				inside = true
			}
		}
		if !inside {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		s.Debug.Debug("removed empty directory", "path", dir)
		dir = filepath.Dir(dir)
	}
}

func notInstalled(name string) error {
	return twerr.New(twerr.ErrNotInstalled, "ORC_NOT_INSTALLED", "%s is not installed", name)
}

// installedVersion is the highest version among app's rows.
func installedVersion(m *store.Manifest, name string) string {
	latest := ""
	for _, v := range m.Versions(name) {
		if latest == "" || direction(latest, v) == "upgrade" {
			latest = v
		}
	}
	return latest
}
