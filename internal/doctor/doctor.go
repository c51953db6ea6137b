// Package doctor inspects an installation without changing it.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"twpm/internal/config"
	"twpm/internal/store"
	"twpm/internal/taskrc"
	"twpm/internal/twerr"
)

const (
	LevelError = "error"
	LevelWarn  = "warn"
)

type Finding struct {
	Code    string `json:"code" yaml:"code"`
	Level   string `json:"level" yaml:"level"`
	Message string `json:"message" yaml:"message"`
}

type Report struct {
	Healthy  bool      `json:"healthy" yaml:"healthy"`
	Findings []Finding `json:"findings" yaml:"findings"`
	Apps     []string  `json:"apps,omitempty" yaml:"apps,omitempty"`
}

type Service struct {
	ConfigPath string
	Paths      config.Paths
	Store      *store.Store
	TaskRC     *taskrc.File
	LookPath   func(string) (string, error)
}

func (s *Service) Run(ctx context.Context) Report {
	findings := []Finding{}
	add := func(code, level, format string, args ...any) {
		findings = append(findings, Finding{Code: code, Level: level, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := os.Stat(s.ConfigPath); err != nil {
		add("DOC_CONFIG_MISSING", LevelWarn, "%s: defaults in use; run tw bootstrap to write it", s.ConfigPath)
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		add("DOC_CONFIG_INVALID", LevelError, "%v", err)
	}

	for _, dir := range s.Paths.Layout() {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			add("DOC_LAYOUT_MISSING", LevelWarn, "directory %s does not exist", dir)
		}
	}

	var apps []string
	m, err := s.Store.Load()
	switch {
	case errors.Is(err, twerr.ErrManifestCorruption):
		add("DOC_MANIFEST_CORRUPT", LevelError, "%v", err)
		if salvaged, skipped, serr := s.Store.Salvage(); serr == nil {
			add("DOC_MANIFEST_SALVAGE", LevelWarn, "%d records readable, %d unreadable", len(salvaged.Files), skipped)
		}
	case err != nil:
		add("DOC_MANIFEST_READ", LevelError, "%v", err)
	default:
		if m.Legacy {
			add("DOC_MANIFEST_LEGACY", LevelWarn, "%s is in the legacy format and will be migrated by the next install, remove or update", s.Store.Path())
		}
		for _, a := range m.Apps() {
			apps = append(apps, a.Name)
			for _, st := range m.Verify(a.Name) {
				if st.Status != store.StatusOK {
					add("DOC_FILE_"+string(st.Status), LevelWarn, "%s (%s): %s", st.Path, a.Name, st.Detail)
				}
			}
		}
	}

	if _, err := os.Stat(s.Paths.InstallRoot); err == nil {
		lock, err := store.Acquire(ctx, s.Paths.LockFile, 0)
		switch {
		case errors.Is(err, twerr.ErrLocked):
			add("DOC_LOCK_HELD", LevelWarn, "another tw command holds %s", s.Paths.LockFile)
		case err != nil:
			add("DOC_LOCK_UNAVAILABLE", LevelError, "%v", err)
		default:
			_ = lock.Release()
		}
	}

	if s.TaskRC != nil {
		includes, err := s.TaskRC.Includes()
		if err != nil {
			add("DOC_TASKRC_READ", LevelError, "%v", err)
		}
		for _, inc := range includes {
			if _, err := os.Stat(inc.Path); err != nil {
				add("DOC_INCLUDE_MISSING", LevelWarn, "%s includes missing file %s (owner %s)", s.TaskRC.Path(), inc.Path, ownerOf(inc))
			}
		}
	}

	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = func(string) (string, error) { return "", errors.New("no lookup") }
	}
	if _, err := lookPath("task"); err != nil {
		add("DOC_TASK_MISSING", LevelWarn, "task is not on PATH")
	}

	healthy := true
	for _, f := range findings {
		if f.Level == LevelError {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings, Apps: apps}
}

func ownerOf(inc taskrc.Include) string {
	if inc.Owner == "" {
		return "unmanaged"
	}
	return inc.Owner
}
