package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"twpm/internal/twerr"
)

// Kind names a logical location understood by Paths.Resolve.
type Kind string

const (
	KindInstallRoot  Kind = "install_root"
	KindHooks        Kind = "hooks"
	KindScripts      Kind = "scripts"
	KindConfig       Kind = "config"
	KindDocs         Kind = "docs"
	KindLogs         Kind = "logs"
	KindLib          Kind = "lib"
	KindManifestFile Kind = "manifest_file"
	KindLockFile     Kind = "lock_file"
	KindRegistry     Kind = "registry"
	KindInstallers   Kind = "installers"
	KindTaskRC       Kind = "taskrc"
)

const (
	ManifestFileName = ".tw_manifest"
	LockFileName     = ".tw_manifest.lock"
	RegistryDirName  = "registry.d"
	InstallersDir    = "installers"
)

// Paths is the resolved directory layout for one command. It is built once
// by Resolve and passed by value; nothing mutates it afterwards.
type Paths struct {
	InstallRoot  string
	Hooks        string
	Scripts      string
	Config       string
	Docs         string
	Logs         string
	Lib          string
	ManifestFile string
	LockFile     string
	Registry     string
	Installers   string
	TaskRC       string
	DevMode      bool
}

// DefaultConfigPath is <install root>/tw.toml, honouring INSTALL_DIR.
func DefaultConfigPath() string {
	root := os.Getenv("INSTALL_DIR")
	if root == "" {
		root = DefaultInstallRoot
	}
	expanded, err := ExpandPath(root)
	if err != nil {
		return ConfigFileName
	}
	return filepath.Join(expanded, ConfigFileName)
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

// DetectDevMode reports whether dir holds a local registry checkout, i.e.
// both registry.d/ and installers/ exist beneath it.
func DetectDevMode(dir string) bool {
	if dir == "" {
		return false
	}
	for _, name := range []string{RegistryDirName, InstallersDir} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// Resolve turns a loaded config into absolute paths. cwd is the invoking
// directory used for dev-mode detection; pass "" to disable it.
func Resolve(cfg Config, cwd string) (Paths, error) {
	root, err := absPath(cfg.Paths.InstallRoot)
	if err != nil {
		return Paths{}, fmt.Errorf("DOC_PATHS_ROOT: %w", err)
	}
	p := Paths{
		InstallRoot:  root,
		ManifestFile: filepath.Join(root, ManifestFileName),
		LockFile:     filepath.Join(root, LockFileName),
	}
	dirs := []struct {
		dst      *string
		override string
		fallback string
	}{
		{&p.Hooks, cfg.Paths.Hooks, filepath.Join(root, "hooks")},
		{&p.Scripts, cfg.Paths.Scripts, filepath.Join(root, "scripts")},
		{&p.Config, cfg.Paths.Config, filepath.Join(root, "config")},
		{&p.Docs, cfg.Paths.Docs, filepath.Join(root, "docs")},
		{&p.Logs, cfg.Paths.Logs, filepath.Join(root, "logs")},
		{&p.Lib, cfg.Paths.Lib, filepath.Join(root, "lib")},
		{&p.TaskRC, cfg.Paths.TaskRC, "~/.taskrc"},
	}
	for _, d := range dirs {
		value := d.override
		if value == "" {
			value = d.fallback
		}
		resolved, err := absPath(value)
		if err != nil {
			return Paths{}, fmt.Errorf("DOC_PATHS_RESOLVE: %w", err)
		}
		*d.dst = resolved
	}

	p.DevMode = DetectDevMode(cwd)
	registry, installers := filepath.Join(root, RegistryDirName), filepath.Join(root, InstallersDir)
	if p.DevMode {
		registry, installers = filepath.Join(cwd, RegistryDirName), filepath.Join(cwd, InstallersDir)
	}
	if cfg.Registry.Dir != "" {
		registry = cfg.Registry.Dir
	}
	if cfg.Registry.Installers != "" {
		installers = cfg.Registry.Installers
	}
	if p.Registry, err = absPath(registry); err != nil {
		return Paths{}, fmt.Errorf("DOC_PATHS_REGISTRY: %w", err)
	}
	if p.Installers, err = absPath(installers); err != nil {
		return Paths{}, fmt.Errorf("DOC_PATHS_REGISTRY: %w", err)
	}
	return p, nil
}

func (p Paths) Resolve(kind Kind) (string, error) {
	switch kind {
	case KindInstallRoot:
		return p.InstallRoot, nil
	case KindHooks:
		return p.Hooks, nil
	case KindScripts:
		return p.Scripts, nil
	case KindConfig:
		return p.Config, nil
	case KindDocs:
		return p.Docs, nil
	case KindLogs:
		return p.Logs, nil
	case KindLib:
		return p.Lib, nil
	case KindManifestFile:
		return p.ManifestFile, nil
	case KindLockFile:
		return p.LockFile, nil
	case KindRegistry:
		return p.Registry, nil
	case KindInstallers:
		return p.Installers, nil
	case KindTaskRC:
		return p.TaskRC, nil
	default:
		return "", twerr.New(twerr.ErrUsage, "DOC_PATHS_KIND", "unknown path kind %q", kind)
	}
}

// InstallDir maps an app type to the directory its primary files live in.
// Hooks are flat under the hooks root; each wrapper gets its own directory.
func (p Paths) InstallDir(appType, shortName string) (string, error) {
	switch appType {
	case "hook":
		return p.Hooks, nil
	case "wrapper":
		if shortName == "" || shortName != filepath.Base(shortName) || shortName == "." || shortName == ".." {
			return "", twerr.New(twerr.ErrMalformedDescriptor, "DSC_SHORT_NAME", "invalid short name %q", shortName)
		}
		return filepath.Join(p.Scripts, shortName), nil
	case "utility":
		return p.Scripts, nil
	case "config":
		return p.Config, nil
	default:
		return "", twerr.New(twerr.ErrInvalidAppType, "DSC_TYPE", "unrecognized app type %q", appType)
	}
}

// RoleDir maps a file role to its root directory.
func (p Paths) RoleDir(role string) (string, error) {
	switch role {
	case "hook":
		return p.Hooks, nil
	case "script":
		return p.Scripts, nil
	case "config":
		return p.Config, nil
	case "doc":
		return p.Docs, nil
	default:
		return "", twerr.New(twerr.ErrMalformedDescriptor, "DSC_ROLE", "unrecognized file role %q", role)
	}
}

// RoleForPath is the inverse of RoleDir for paths under a managed root. It
// returns "" for paths outside every managed root.
func (p Paths) RoleForPath(path string) string {
	roots := []struct{ dir, role string }{
		{p.Hooks, "hook"},
		{p.Scripts, "script"},
		{p.Config, "config"},
		{p.Docs, "doc"},
	}
	for _, r := range roots {
		if Within(r.dir, path) {
			return r.role
		}
	}
	return ""
}

// ManagedRoots lists the directories tw installs into. Empty-directory
// cleanup never climbs above one of these.
func (p Paths) ManagedRoots() []string {
	roots := []string{p.Hooks, p.Scripts, p.Config, p.Docs, p.Lib}
	sort.Strings(roots)
	return roots
}

// Layout is the set of directories bootstrap and installers expect to exist.
func (p Paths) Layout() []string {
	return []string{p.InstallRoot, p.Hooks, p.Scripts, p.Config, p.Docs, p.Logs, p.Lib}
}

func (p Paths) EnsureLayout() error {
	for _, dir := range p.Layout() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("DOC_PATHS_LAYOUT: %w", err)
		}
	}
	return nil
}

// Env returns the directory variables exported to installers.
func (p Paths) Env() map[string]string {
	return map[string]string{
		"INSTALL_DIR": p.InstallRoot,
		"HOOKS_DIR":   p.Hooks,
		"SCRIPTS_DIR": p.Scripts,
		"CONFIG_DIR":  p.Config,
		"DOCS_DIR":    p.Docs,
		"LOGS_DIR":    p.Logs,
		"LIB_DIR":     p.Lib,
		"TASKRC":      p.TaskRC,
	}
}

// Within reports whether path is dir itself or lies beneath it.
func Within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func absPath(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
