package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileState is what a Snapshot remembers about one path.
type FileState struct {
	IsDir      bool
	IsSymlink  bool
	LinkTarget string
	Mode       fs.FileMode
	Size       int64
	Digest     string
}

// Snapshot maps absolute paths to their state at capture time.
type Snapshot map[string]FileState

// Diff is the difference between two snapshots of the same roots.
type Diff struct {
	Created     []string
	Modified    []string
	Deleted     []string
	CreatedDirs []string
}

// Written returns created and modified files, sorted.
func (d Diff) Written() []string {
	out := make([]string, 0, len(d.Created)+len(d.Modified))
	out = append(out, d.Created...)
	out = append(out, d.Modified...)
	sort.Strings(out)
	return out
}

func (d Diff) Empty() bool {
	return len(d.Created) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0 && len(d.CreatedDirs) == 0
}

// TakeSnapshot walks every root recursively and content-hashes each regular
// file. Missing roots are skipped. Symlinks are recorded by target and never
// followed. Other special files are recorded by mode only.
func TakeSnapshot(roots []string) (Snapshot, error) {
	snap := Snapshot{}
	for _, root := range roots {
		if root == "" {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if _, seen := snap[path]; seen {
				return nil
			}
			st, err := stateOf(path, d)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			snap[path] = st
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func stateOf(path string, d fs.DirEntry) (FileState, error) {
	info, err := d.Info()
	if err != nil {
		return FileState{}, err
	}
	switch {
	case info.IsDir():
		return FileState{IsDir: true, Mode: info.Mode()}, nil
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return FileState{}, err
		}
		return FileState{IsSymlink: true, LinkTarget: target, Mode: info.Mode()}, nil
	case !info.Mode().IsRegular():
		// Pipes, sockets and devices are never opened; a FIFO would block.
		return FileState{Mode: info.Mode()}, nil
	default:
		digest, err := FileChecksum(path)
		if err != nil {
			return FileState{}, err
		}
		return FileState{Mode: info.Mode(), Size: info.Size(), Digest: digest}, nil
	}
}

// Compare reports what changed between before and after.
func Compare(before, after Snapshot) Diff {
	var d Diff
	for path, now := range after {
		prev, existed := before[path]
		switch {
		case !existed && now.IsDir:
			d.CreatedDirs = append(d.CreatedDirs, path)
		case !existed:
			d.Created = append(d.Created, path)
		case now.IsDir && prev.IsDir:
		case now.IsDir != prev.IsDir || prev.IsSymlink != now.IsSymlink || prev.LinkTarget != now.LinkTarget || prev.Digest != now.Digest || prev.Mode != now.Mode:
			d.Modified = append(d.Modified, path)
		}
	}
	for path, prev := range before {
		if prev.IsDir {
			continue
		}
		if _, ok := after[path]; !ok {
			d.Deleted = append(d.Deleted, path)
		}
	}
	sort.Strings(d.Created)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	sort.Strings(d.CreatedDirs)
	return d
}
