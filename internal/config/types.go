package config

// Config is the tw.toml schema. Every field may also be supplied through the
// environment; see bindEnv for the variable names.
type Config struct {
	Version   int             `toml:"version" mapstructure:"version"`
	Paths     PathsConfig     `toml:"paths" mapstructure:"paths"`
	Registry  RegistryConfig  `toml:"registry" mapstructure:"registry"`
	Installer InstallerConfig `toml:"installer" mapstructure:"installer"`
	Debug     DebugConfig     `toml:"debug" mapstructure:"debug"`
}

// PathsConfig holds directory overrides. Empty values derive from InstallRoot.
type PathsConfig struct {
	InstallRoot string `toml:"install_root" mapstructure:"install_root"`
	Hooks       string `toml:"hooks,omitempty" mapstructure:"hooks"`
	Scripts     string `toml:"scripts,omitempty" mapstructure:"scripts"`
	Config      string `toml:"config,omitempty" mapstructure:"config"`
	Docs        string `toml:"docs,omitempty" mapstructure:"docs"`
	Logs        string `toml:"logs,omitempty" mapstructure:"logs"`
	Lib         string `toml:"lib,omitempty" mapstructure:"lib"`
	TaskRC      string `toml:"taskrc,omitempty" mapstructure:"taskrc"`
}

type RegistryConfig struct {
	Dir         string `toml:"dir,omitempty" mapstructure:"dir"`
	Installers  string `toml:"installers,omitempty" mapstructure:"installers"`
	NextWrapper string `toml:"next_wrapper" mapstructure:"next_wrapper"`
}

type InstallerConfig struct {
	Timeout     string `toml:"timeout" mapstructure:"timeout"`
	Interpreter string `toml:"interpreter" mapstructure:"interpreter"`
}

type DebugConfig struct {
	Level  int    `toml:"level" mapstructure:"level"`
	LogDir string `toml:"log_dir,omitempty" mapstructure:"log_dir"`
	Retain int    `toml:"retain" mapstructure:"retain"`
}
