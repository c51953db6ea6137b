package app

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"twpm/internal/config"
	"twpm/internal/twerr"
)

type BootstrapResult struct {
	Task          string   `json:"task" yaml:"task"`
	TaskVersion   string   `json:"task_version,omitempty" yaml:"task_version,omitempty"`
	CreatedDirs   []string `json:"created_dirs,omitempty" yaml:"created_dirs,omitempty"`
	Config        string   `json:"config" yaml:"config"`
	ConfigCreated bool     `json:"config_created,omitempty" yaml:"config_created,omitempty"`
	TaskRC        string   `json:"taskrc" yaml:"taskrc"`
	TaskRCCreated bool     `json:"taskrc_created,omitempty" yaml:"taskrc_created,omitempty"`
	Warnings      []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

const taskrcHeader = "# Taskwarrior configuration. Lines tagged tw:managed are maintained by tw.\n"

// Bootstrap prepares the install root for apps: task must be on PATH, the
// directory layout and config file are created and an empty TASKRC is
// written when none exists. Existing files are left alone.
func (s *Service) Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	res := &BootstrapResult{Config: s.ConfigPath, TaskRC: s.Paths.TaskRC}
	path, err := s.lookPath("task")
	if err != nil {
		err = twerr.Wrap(twerr.ErrRequirementUnmet, "BOOT_TASK", err, "task is not on PATH; install Taskwarrior first")
		_ = s.Audit.Phase("bootstrap", "", string(StateFailed), err, nil)
		return res, err
	}
	res.Task = path
	if version, err := s.probe(ctx, path); err == nil {
		res.TaskVersion = version
	} else {
		res.Warnings = append(res.Warnings, "cannot determine task version: "+err.Error())
	}

	for _, dir := range s.Paths.Layout() {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			res.CreatedDirs = append(res.CreatedDirs, dir)
		}
	}
	if err := s.Paths.EnsureLayout(); err != nil {
		return res, err
	}

	_, statErr := os.Stat(s.ConfigPath)
	if _, err := config.Ensure(s.ConfigPath); err != nil {
		return res, err
	}
	res.ConfigCreated = errors.Is(statErr, fs.ErrNotExist)

	created, err := s.TaskRC.Create(taskrcHeader)
	if err != nil {
		return res, err
	}
	res.TaskRCCreated = created
	s.Debug.Info("bootstrap complete", "task", res.Task, "version", res.TaskVersion, "created_dirs", len(res.CreatedDirs))
	_ = s.Audit.Phase("bootstrap", "", string(StateDone), nil, map[string]string{"task": res.Task, "task_version": res.TaskVersion})
	return res, nil
}
