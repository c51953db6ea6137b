package store

import "time"

// ManifestVersion is the schema tag written to every manifest. Version 1
// is the pipe-separated format, which is only ever read.
const ManifestVersion = 2

// Manifest is the full table of installed files.
type Manifest struct {
	Version int     `toml:"version"`
	Files   []Entry `toml:"files"`

	// Legacy is set when the manifest was read from the pipe format; the
	// next Save rewrites it as TOML.
	Legacy bool `toml:"-"`
}

// Entry is one installed file. Path is unique across the manifest.
type Entry struct {
	Path          string    `toml:"path" json:"path" yaml:"path"`
	App           string    `toml:"app" json:"app" yaml:"app"`
	Version       string    `toml:"version,omitempty" json:"version,omitempty" yaml:"version,omitempty"`
	Role          string    `toml:"role,omitempty" json:"role,omitempty" yaml:"role,omitempty"`
	Checksum      string    `toml:"checksum,omitempty" json:"checksum,omitempty" yaml:"checksum,omitempty"`
	InstalledAt   time.Time `toml:"installed_at" json:"installed_at" yaml:"installed_at"`
	IsSymlink     bool      `toml:"is_symlink,omitempty" json:"is_symlink,omitempty" yaml:"is_symlink,omitempty"`
	SymlinkTarget string    `toml:"symlink_target,omitempty" json:"symlink_target,omitempty" yaml:"symlink_target,omitempty"`
}

// Tracked is a file to be recorded for an app. The checksum is computed
// from disk at record time.
type Tracked struct {
	Path          string
	Role          string
	IsSymlink     bool
	SymlinkTarget string
}

// Conflict is a candidate path already owned by another app.
type Conflict struct {
	Path  string `json:"path" yaml:"path"`
	Owner string `json:"owner" yaml:"owner"`
}

type Status string

const (
	StatusOK               Status = "OK"
	StatusMissing          Status = "MISSING"
	StatusChecksumMismatch Status = "CHECKSUM_MISMATCH"
)

// FileStatus is one verify result.
type FileStatus struct {
	Path   string `json:"path" yaml:"path"`
	Status Status `json:"status" yaml:"status"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// AppSummary aggregates an installed app's rows.
type AppSummary struct {
	Name        string    `json:"name" yaml:"name"`
	Version     string    `json:"version" yaml:"version"`
	Files       int       `json:"files" yaml:"files"`
	InstalledAt time.Time `json:"installed_at" yaml:"installed_at"`
}
