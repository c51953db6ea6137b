package descriptor

import (
	"path/filepath"
	"sort"

	"twpm/internal/config"
)

// PlannedFile is where one declared file is expected on disk.
type PlannedFile struct {
	Name          string `json:"name" yaml:"name"`
	Path          string `json:"path" yaml:"path"`
	Role          Role   `json:"role" yaml:"role"`
	Optional      bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Checksum      string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	IsSymlink     bool   `json:"is_symlink,omitempty" yaml:"is_symlink,omitempty"`
	SymlinkTarget string `json:"symlink_target,omitempty" yaml:"symlink_target,omitempty"`
}

// FileDir returns the directory a file of the given role lands in. Scripts
// of a wrapper go to the wrapper's own directory.
func (d *Descriptor) FileDir(paths config.Paths, role Role) (string, error) {
	if role == RoleScript && d.Type == TypeWrapper {
		return paths.InstallDir(string(d.Type), d.ShortName)
	}
	return paths.RoleDir(string(role))
}

// InstalledName is the on-disk file name. A README doc is renamed after the
// app so several apps can ship one.
func (d *Descriptor) InstalledName(f FileSpec) string {
	if f.Role == RoleDoc && f.Name == "README.md" {
		return d.Name + "_README.md"
	}
	return f.Name
}

// Plan resolves every declared file to its absolute installed path, in
// declaration order.
func (d *Descriptor) Plan(paths config.Paths) ([]PlannedFile, error) {
	byName := make(map[string]string, len(d.Files))
	planned := make([]PlannedFile, 0, len(d.Files))
	for _, f := range d.Files {
		dir, err := d.FileDir(paths, f.Role)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, d.InstalledName(f))
		byName[f.Name] = path
		planned = append(planned, PlannedFile{
			Name:     f.Name,
			Path:     path,
			Role:     f.Role,
			Optional: f.Optional,
			Checksum: f.Checksum,
		})
	}
	for i := range planned {
		if target, ok := d.SymlinkTarget(planned[i].Name); ok {
			planned[i].IsSymlink = true
			planned[i].SymlinkTarget = byName[target]
			planned[i].Checksum = ""
		}
	}
	return planned, nil
}

// TargetDirs lists the directories an installer for this app is expected
// to write into: the app's install directory plus every planned file's
// directory.
func (d *Descriptor) TargetDirs(paths config.Paths) ([]string, error) {
	primary, err := paths.InstallDir(string(d.Type), d.ShortName)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{primary: true}
	for _, f := range d.Files {
		dir, err := d.FileDir(paths, f.Role)
		if err != nil {
			return nil, err
		}
		set[dir] = true
	}
	dirs := make([]string, 0, len(set))
	for dir := range set {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// PlannedPaths returns just the paths of Plan, for conflict checks.
func PlannedPaths(plan []PlannedFile) []string {
	out := make([]string, 0, len(plan))
	for _, p := range plan {
		out = append(out, p.Path)
	}
	return out
}
