// Package app is the command orchestrator. It composes the registry,
// descriptor planning, manifest store, installer runner and TASKRC include
// management into the install, remove, update, verify, list and info
// operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"twpm/internal/audit"
	"twpm/internal/config"
	"twpm/internal/debuglog"
	"twpm/internal/doctor"
	"twpm/internal/installer"
	"twpm/internal/registry"
	"twpm/internal/store"
	"twpm/internal/taskrc"
	"twpm/internal/twerr"
)

const AuditFileName = "tw_audit.log"

type Options struct {
	ConfigPath string
	// Cwd is the invoking directory used for dev-mode detection. Empty
	// means the process working directory.
	Cwd string
	// DebugLevel overrides the configured level when non-nil.
	DebugLevel *int
	Command    string
	LockWait   time.Duration
	// Output receives installer output as it is produced.
	Output io.Writer
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Paths      config.Paths
	LockWait   time.Duration

	Registry *registry.Registry
	Store    *store.Store
	Runner   *installer.Runner
	TaskRC   *taskrc.File
	Doctor   *doctor.Service
	Audit    *audit.Logger
	Debug    *debuglog.Logger

	now      func() time.Time
	lookPath func(string) (string, error)
	probe    func(ctx context.Context, bin string) (string, error)

	// corrupted is set once the manifest failed to load; every later
	// mutation in this process is refused.
	corrupted error
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cwd := opts.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}
	paths, err := config.Resolve(cfg, cwd)
	if err != nil {
		return nil, err
	}

	level := cfg.Debug.Level
	if opts.DebugLevel != nil {
		level = *opts.DebugLevel
	}
	logDir := cfg.Debug.LogDir
	if logDir == "" {
		logDir = filepath.Join(paths.Logs, "debug")
	}
	dbg, err := debuglog.Open(debuglog.Options{Level: level, Dir: logDir, Retain: cfg.Debug.Retain, Command: opts.Command})
	if err != nil {
		return nil, err
	}
	dbg.Debug("paths resolved", "install_root", paths.InstallRoot, "registry", paths.Registry, "dev_mode", paths.DevMode)

	runner := installer.NewRunner(paths, dbg, cfg.Installer.Interpreter, cfg.InstallerTimeout())
	runner.Output = opts.Output
	st := store.New(paths.ManifestFile, paths.RoleForPath)
	rc := taskrc.Open(paths.TaskRC)
	return &Service{
		ConfigPath: configPath,
		Config:     cfg,
		Paths:      paths,
		LockWait:   opts.LockWait,
		Registry:   registry.New(paths),
		Store:      st,
		Runner:     runner,
		TaskRC:     rc,
		Doctor: &doctor.Service{
			ConfigPath: configPath,
			Paths:      paths,
			Store:      st,
			TaskRC:     rc,
			LookPath:   exec.LookPath,
		},
		Audit:    audit.New(filepath.Join(paths.Logs, AuditFileName), dbg.Session()),
		Debug:    dbg,
		now:      time.Now,
		lookPath: exec.LookPath,
		probe:    probeVersion,
	}, nil
}

// Close ends the debug session.
func (s *Service) Close() error {
	return s.Debug.Close()
}

// acquire takes the manifest lock for a mutating command.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	lock, err := store.Acquire(ctx, s.Paths.LockFile, s.LockWait)
	if err != nil {
		return nil, err
	}
	s.Debug.Debug("lock acquired", "path", s.Paths.LockFile)
	return func() {
		if err := lock.Release(); err != nil {
			s.Debug.Warn("lock release", "error", err)
		}
	}, nil
}

// loadForMutation loads the manifest for a mutating command. Corruption is
// fatal and sticky for the rest of the process.
func (s *Service) loadForMutation() (*store.Manifest, error) {
	if s.corrupted != nil {
		return nil, twerr.Wrap(twerr.ErrManifestCorruption, "MAN_CORRUPT_STICKY", s.corrupted, "refusing to modify a corrupt manifest; repair or reset %s", s.Paths.ManifestFile)
	}
	m, err := s.Store.Load()
	if err != nil {
		if errors.Is(err, twerr.ErrManifestCorruption) {
			s.corrupted = err
		}
		return nil, err
	}
	if m.Legacy {
		s.Debug.Info("legacy manifest will be migrated on save", "path", s.Store.Path())
	}
	return m, nil
}

// loadForRead loads the manifest for a read-only command, salvaging what
// it can when the file is corrupt. The warning is non-empty when data was
// salvaged.
func (s *Service) loadForRead() (*store.Manifest, string, error) {
	m, err := s.Store.Load()
	if err == nil {
		return m, "", nil
	}
	if !errors.Is(err, twerr.ErrManifestCorruption) {
		return nil, "", err
	}
	s.corrupted = err
	salvaged, skipped, serr := s.Store.Salvage()
	if serr != nil {
		return nil, "", errors.Join(err, serr)
	}
	s.Debug.Warn("manifest corrupt, using salvaged records", "kept", len(salvaged.Files), "skipped", skipped)
	return salvaged, fmt.Sprintf("manifest is corrupt (%v); showing %d salvaged records, %d unreadable", err, len(salvaged.Files), skipped), nil
}

func (s *Service) machine(op, app string, audited bool) *machine {
	var auditLog *audit.Logger
	if audited {
		auditLog = s.Audit
	}
	return newMachine(op, app, s.Debug, auditLog)
}
