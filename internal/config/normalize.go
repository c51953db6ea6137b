package config

import "strings"

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	cfg.Paths.InstallRoot = strings.TrimSpace(cfg.Paths.InstallRoot)
	if cfg.Paths.InstallRoot == "" {
		cfg.Paths.InstallRoot = DefaultInstallRoot
	}
	if strings.TrimSpace(cfg.Registry.NextWrapper) == "" {
		cfg.Registry.NextWrapper = DefaultNextWrapper
	}
	if strings.TrimSpace(cfg.Installer.Timeout) == "" {
		cfg.Installer.Timeout = DefaultInstallerTimeout
	}
	if strings.TrimSpace(cfg.Installer.Interpreter) == "" {
		cfg.Installer.Interpreter = DefaultInterpreter
	}
	if cfg.Debug.Retain <= 0 {
		cfg.Debug.Retain = DefaultDebugRetain
	}
	return cfg
}
