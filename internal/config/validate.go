package config

import (
	"fmt"
	"time"
)

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Paths.InstallRoot == "" {
		return fmt.Errorf("DOC_CONFIG_PATHS: missing install root")
	}
	timeout, err := time.ParseDuration(cfg.Installer.Timeout)
	if err != nil {
		return fmt.Errorf("DOC_CONFIG_INSTALLER: invalid timeout %q: %w", cfg.Installer.Timeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("DOC_CONFIG_INSTALLER: timeout must be positive, got %s", timeout)
	}
	if cfg.Installer.Interpreter == "" {
		return fmt.Errorf("DOC_CONFIG_INSTALLER: missing interpreter")
	}
	if cfg.Debug.Level < 0 || cfg.Debug.Level > 3 {
		return fmt.Errorf("DOC_CONFIG_DEBUG: level must be 0-3, got %d", cfg.Debug.Level)
	}
	if cfg.Debug.Retain < 1 {
		return fmt.Errorf("DOC_CONFIG_DEBUG: retain must be at least 1, got %d", cfg.Debug.Retain)
	}
	return nil
}

// InstallerTimeout returns the parsed installer timeout of a validated config.
func (c Config) InstallerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Installer.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultInstallerTimeout)
	}
	return d
}
