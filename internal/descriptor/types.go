package descriptor

import (
	"github.com/Masterminds/semver/v3"
)

// AppType determines the directory an app's primary files install into.
type AppType string

const (
	TypeHook    AppType = "hook"
	TypeWrapper AppType = "wrapper"
	TypeUtility AppType = "utility"
	TypeConfig  AppType = "config"
)

func (t AppType) Valid() bool {
	switch t {
	case TypeHook, TypeWrapper, TypeUtility, TypeConfig:
		return true
	}
	return false
}

// Role is the per-file tag in the files field.
type Role string

const (
	RoleHook   Role = "hook"
	RoleScript Role = "script"
	RoleConfig Role = "config"
	RoleDoc    Role = "doc"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHook, RoleScript, RoleConfig, RoleDoc:
		return true
	}
	return false
}

// FileSpec is one declared file. A role tag ending in "?" marks the file
// optional: the installer may legitimately not produce it.
type FileSpec struct {
	Name     string `json:"name" yaml:"name"`
	Role     Role   `json:"role" yaml:"role"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Symlink declares that Link is installed as a symlink pointing at Target.
// Both are names from the files list.
type Symlink struct {
	Link   string `json:"link" yaml:"link"`
	Target string `json:"target" yaml:"target"`
}

// Requirement is a syntactically valid requirement string: a name with an
// optional version constraint. Whether it names an app or an external binary
// is decided when it is checked.
type Requirement struct {
	Name       string `json:"name" yaml:"name"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`

	constraints *semver.Constraints
}

func (r Requirement) String() string {
	if r.Constraint == "" {
		return r.Name
	}
	return r.Name + r.Constraint
}

// Allows reports whether version satisfies the constraint. A requirement
// without a constraint accepts anything; a constrained requirement rejects
// versions that are not semver.
func (r Requirement) Allows(version string) bool {
	if r.constraints == nil {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return r.constraints.Check(v)
}

// Descriptor is the immutable parsed form of one registry record.
type Descriptor struct {
	Name        string        `json:"name" yaml:"name"`
	ShortName   string        `json:"short_name" yaml:"short_name"`
	Version     string        `json:"version,omitempty" yaml:"version,omitempty"`
	Type        AppType       `json:"type" yaml:"type"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Files       []FileSpec    `json:"files" yaml:"files"`
	Symlinks    []Symlink     `json:"symlinks,omitempty" yaml:"symlinks,omitempty"`
	Requires    []Requirement `json:"requires,omitempty" yaml:"requires,omitempty"`
	BaseURL     string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Template    string        `json:"template,omitempty" yaml:"template,omitempty"`
}

// SymlinkTarget returns the declared target of name when name is a symlink.
func (d *Descriptor) SymlinkTarget(name string) (string, bool) {
	for _, s := range d.Symlinks {
		if s.Link == name {
			return s.Target, true
		}
	}
	return "", false
}

// Source is where the payload comes from: the base URL, else the template.
func (d *Descriptor) Source() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return d.Template
}
