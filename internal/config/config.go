package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"twpm/internal/fsutil"
)

// ConfigFileName is the file looked up under the install root.
const ConfigFileName = "tw.toml"

// envBindings maps config keys to the environment variables that override
// them. The first variable listed wins when several are set.
var envBindings = map[string][]string{
	"paths.install_root":    {"INSTALL_DIR"},
	"paths.hooks":           {"HOOKS_DIR"},
	"paths.scripts":         {"SCRIPTS_DIR"},
	"paths.config":          {"CONFIG_DIR"},
	"paths.docs":            {"DOCS_DIR"},
	"paths.logs":            {"LOGS_DIR"},
	"paths.lib":             {"LIB_DIR"},
	"paths.taskrc":          {"TASKRC"},
	"registry.dir":          {"TW_REGISTRY_DIR"},
	"registry.installers":   {"TW_INSTALLERS_DIR"},
	"registry.next_wrapper": {"TW_NEXT_WRAPPER"},
	"installer.timeout":     {"TW_INSTALLER_TIMEOUT"},
	"debug.level":           {"TW_DEBUG_LEVEL", "TW_DEBUG"},
	"debug.log_dir":         {"TW_DEBUG_LOG"},
}

// Ensure writes a default config file when none exists and returns the
// effective configuration.
func Ensure(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		if err := Save(path, DefaultConfig()); err != nil {
			return Config{}, err
		}
	}
	return Load(path)
}

// Load layers defaults, the config file (when present) and the environment.
// A missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, DefaultConfig())
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("DOC_CONFIG_ENV: %w", err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("DOC_CONFIG_READ: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("DOC_CONFIG_DECODE: %w", err)
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	blob, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("DOC_CONFIG_ENCODE: %w", err)
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("version", cfg.Version)
	v.SetDefault("paths.install_root", cfg.Paths.InstallRoot)
	v.SetDefault("paths.hooks", "")
	v.SetDefault("paths.scripts", "")
	v.SetDefault("paths.config", "")
	v.SetDefault("paths.docs", "")
	v.SetDefault("paths.logs", "")
	v.SetDefault("paths.lib", "")
	v.SetDefault("paths.taskrc", "")
	v.SetDefault("registry.dir", "")
	v.SetDefault("registry.installers", "")
	v.SetDefault("registry.next_wrapper", cfg.Registry.NextWrapper)
	v.SetDefault("installer.timeout", cfg.Installer.Timeout)
	v.SetDefault("installer.interpreter", cfg.Installer.Interpreter)
	v.SetDefault("debug.level", cfg.Debug.Level)
	v.SetDefault("debug.log_dir", "")
	v.SetDefault("debug.retain", cfg.Debug.Retain)
}
