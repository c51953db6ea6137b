package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"twpm/internal/audit"
	"twpm/internal/descriptor"
	"twpm/internal/installer"
	"twpm/internal/store"
	"twpm/internal/twerr"
)

type VerifyOptions struct {
	// Deep also runs the installer's verify verb.
	Deep bool
}

type VerifyResult struct {
	App      string             `json:"app" yaml:"app"`
	Version  string             `json:"version,omitempty" yaml:"version,omitempty"`
	OK       bool               `json:"ok" yaml:"ok"`
	Files    []store.FileStatus `json:"files" yaml:"files"`
	Warnings []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Outcome  *installer.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	States   []State            `json:"states" yaml:"states"`
}

// Mismatched returns the files that are not OK.
func (r *VerifyResult) Mismatched() []store.FileStatus {
	var out []store.FileStatus
	for _, f := range r.Files {
		if f.Status != store.StatusOK {
			out = append(out, f)
		}
	}
	return out
}

// Verify compares app's files on disk with the manifest. It takes no lock
// and writes nothing; a corrupt manifest is verified from its salvaged
// records.
func (s *Service) Verify(ctx context.Context, name string, opts VerifyOptions) (*VerifyResult, error) {
	res := &VerifyResult{App: name}
	m := s.machine("verify", name, false)
	err := s.runVerify(ctx, m, name, opts, res)
	res.States = m.States()
	return res, err
}

func (s *Service) runVerify(ctx context.Context, m *machine, name string, opts VerifyOptions, res *VerifyResult) error {
	m.to(StateResolving)
	man, warning, err := s.loadForRead()
	if err != nil {
		return m.fail(err)
	}
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}
	if !man.Installed(name) {
		return m.fail(notInstalled(name))
	}
	res.Version = installedVersion(man, name)

	m.to(StateVerifying)
	res.Files = man.Verify(name)
	res.OK = len(res.Mismatched()) == 0
	if opts.Deep {
		path, err := s.Registry.Installer(name)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
		} else {
			out, err := s.Runner.Run(ctx, installer.Request{App: name, Version: res.Version, Installer: path, Verb: installer.VerbVerify})
			res.Outcome = &out
			if err != nil {
				res.OK = false
				res.Warnings = append(res.Warnings, fmt.Sprintf("installer verify for %s failed: %v", name, err))
			}
		}
	}
	s.Debug.Info("verify finished", "app", name, "ok", res.OK, "files", len(res.Files))
	m.to(StateDone)
	return nil
}

// ListItem is one app as seen by the registry and the manifest.
type ListItem struct {
	Name             string `json:"name" yaml:"name"`
	Version          string `json:"version,omitempty" yaml:"version,omitempty"`
	Type             string `json:"type,omitempty" yaml:"type,omitempty"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	Installed        bool   `json:"installed" yaml:"installed"`
	InstalledVersion string `json:"installed_version,omitempty" yaml:"installed_version,omitempty"`
	Files            int    `json:"files,omitempty" yaml:"files,omitempty"`
	UpdateAvailable  bool   `json:"update_available,omitempty" yaml:"update_available,omitempty"`
	// Error is set when the registry record does not parse.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type ListResult struct {
	Apps     []ListItem `json:"apps" yaml:"apps"`
	Warnings []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// List merges the registry with the manifest. Apps that are installed but
// no longer in the registry are listed from the manifest alone.
func (s *Service) List(installedOnly bool) (*ListResult, error) {
	man, warning, err := s.loadForRead()
	if err != nil {
		return nil, err
	}
	res := &ListResult{}
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}
	entries, err := s.Registry.List()
	if err != nil {
		return nil, err
	}
	installed := map[string]store.AppSummary{}
	for _, a := range man.Apps() {
		installed[a.Name] = a
	}

	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Name] = true
		item := ListItem{Name: e.Name}
		if e.Err != nil {
			item.Error = e.Err.Error()
		} else {
			item.Version = e.Descriptor.Version
			item.Type = string(e.Descriptor.Type)
			item.Description = e.Descriptor.Description
		}
		if a, ok := installed[e.Name]; ok {
			item.Installed = true
			item.InstalledVersion = a.Version
			item.Files = a.Files
			item.UpdateAvailable = item.Version != "" && direction(a.Version, item.Version) == "upgrade"
		}
		if installedOnly && !item.Installed {
			continue
		}
		res.Apps = append(res.Apps, item)
	}
	for name, a := range installed {
		if seen[name] {
			continue
		}
		res.Apps = append(res.Apps, ListItem{Name: name, Installed: true, InstalledVersion: a.Version, Files: a.Files, Error: "not in registry"})
	}
	sort.Slice(res.Apps, func(i, j int) bool { return res.Apps[i].Name < res.Apps[j].Name })
	return res, nil
}

type InfoResult struct {
	App        string                   `json:"app" yaml:"app"`
	Descriptor *descriptor.Descriptor   `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
	Installer  string                   `json:"installer,omitempty" yaml:"installer,omitempty"`
	Installed  bool                     `json:"installed" yaml:"installed"`
	Version    string                   `json:"installed_version,omitempty" yaml:"installed_version,omitempty"`
	Files      []store.Entry            `json:"files,omitempty" yaml:"files,omitempty"`
	Planned    []descriptor.PlannedFile `json:"planned,omitempty" yaml:"planned,omitempty"`
	History    []audit.Event            `json:"history,omitempty" yaml:"history,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Info describes one app from the registry record, the manifest and the
// audit log. It is NotFound only when neither the registry nor the
// manifest knows the app.
func (s *Service) Info(name string) (*InfoResult, error) {
	man, warning, err := s.loadForRead()
	if err != nil {
		return nil, err
	}
	res := &InfoResult{App: name}
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}
	d, lookupErr := s.Registry.Lookup(name)
	if errors.Is(lookupErr, twerr.ErrUsage) {
		return nil, lookupErr
	}
	res.Installed = man.Installed(name)
	if lookupErr != nil {
		if !res.Installed {
			return nil, lookupErr
		}
		res.Warnings = append(res.Warnings, lookupErr.Error())
	} else {
		res.Descriptor = d
		if plan, err := d.Plan(s.Paths); err == nil {
			res.Planned = plan
		} else {
			res.Warnings = append(res.Warnings, err.Error())
		}
		if path, err := s.Registry.Installer(name); err == nil {
			res.Installer = path
		} else {
			res.Warnings = append(res.Warnings, err.Error())
		}
	}
	if res.Installed {
		res.Version = installedVersion(man, name)
		res.Files = man.EntriesFor(name)
	}
	history, err := audit.History(filepath.Join(s.Paths.Logs, AuditFileName), name)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("audit history unavailable: %v", err))
	}
	res.History = history
	return res, nil
}
