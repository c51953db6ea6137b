package config

const (
	SchemaVersion = 1

	DefaultInstallRoot      = "~/.task"
	DefaultInstallerTimeout = "5m"
	DefaultInterpreter      = "bash"
	DefaultNextWrapper      = "task"
	DefaultDebugRetain      = 10
)

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Paths: PathsConfig{
			InstallRoot: DefaultInstallRoot,
		},
		Registry: RegistryConfig{
			NextWrapper: DefaultNextWrapper,
		},
		Installer: InstallerConfig{
			Timeout:     DefaultInstallerTimeout,
			Interpreter: DefaultInterpreter,
		},
		Debug: DebugConfig{
			Retain: DefaultDebugRetain,
		},
	}
}
