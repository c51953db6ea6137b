package descriptor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twpm/internal/config"
	"twpm/internal/twerr"
)

const recurrenceMeta = `# recurrence app
name = recurrence
version = 1.2.0
type = hook
description = Enhanced recurrence
files = on-add_recurrence.py:hook, on-modify_recurrence.py:hook, recurrence.rc:config, README.md:doc?
symlinks = on-modify_recurrence.py:on-add_recurrence.py
checksums = sha256:BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD, , ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad
requires = python3, taskwarrior >=2.6
`

func TestParseRecurrence(t *testing.T) {
	d, err := Parse([]byte(recurrenceMeta))
	require.NoError(t, err)

	assert.Equal(t, "recurrence", d.Name)
	assert.Equal(t, "recurrence", d.ShortName)
	assert.Equal(t, "1.2.0", d.Version)
	assert.Equal(t, TypeHook, d.Type)
	require.Len(t, d.Files, 4)
	assert.Equal(t, FileSpec{Name: "on-add_recurrence.py", Role: RoleHook, Checksum: "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"}, d.Files[0])
	assert.Empty(t, d.Files[1].Checksum)
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d.Files[2].Checksum)
	assert.True(t, d.Files[3].Optional)
	assert.Equal(t, RoleDoc, d.Files[3].Role)
	assert.Equal(t, []Symlink{{Link: "on-modify_recurrence.py", Target: "on-add_recurrence.py"}}, d.Symlinks)

	require.Len(t, d.Requires, 2)
	assert.Equal(t, "python3", d.Requires[0].Name)
	assert.Equal(t, "taskwarrior", d.Requires[1].Name)
	assert.Equal(t, ">=2.6", d.Requires[1].Constraint)
	assert.True(t, d.Requires[1].Allows("2.6.2"))
	assert.False(t, d.Requires[1].Allows("2.5.0"))
	assert.False(t, d.Requires[1].Allows("not-a-version"))
	assert.True(t, d.Requires[0].Allows("anything"))
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"missing name":    "type = hook\nfiles = a.py:hook\n",
		"missing files":   "name = x\ntype = hook\n",
		"empty files":     "name = x\ntype = hook\nfiles = ,\n",
		"unknown role":    "name = x\ntype = hook\nfiles = a.py:plugin\n",
		"duplicate file":  "name = x\ntype = hook\nfiles = a.py:hook, a.py:config\n",
		"path in name":    "name = x\ntype = hook\nfiles = ../a.py:hook\n",
		"no role":         "name = x\ntype = hook\nfiles = a.py\n",
		"duplicate key":   "name = x\nname = y\ntype = hook\nfiles = a.py:hook\n",
		"not key value":   "name x\n",
		"bad version":     "name = x\nversion = one\ntype = hook\nfiles = a.py:hook\n",
		"too many sums":   "name = x\ntype = hook\nfiles = a.py:hook\nchecksums = abc, def\n",
		"bad sum":         "name = x\ntype = hook\nfiles = a.py:hook\nchecksums = xyz\n",
		"bad requirement": "name = x\ntype = hook\nfiles = a.py:hook\nrequires = >=1.0\n",
		"bad constraint":  "name = x\ntype = hook\nfiles = a.py:hook\nrequires = y >= banana\n",
		"undeclared link": "name = x\ntype = hook\nfiles = a.py:hook\nsymlinks = b.py:a.py\n",
		"self link":       "name = x\ntype = hook\nfiles = a.py:hook\nsymlinks = a.py:a.py\n",
		"cross-role link": "name = x\ntype = hook\nfiles = a.py:hook, a.rc:config\nsymlinks = a.rc:a.py\n",
		"bad name":        "name = -x\ntype = hook\nfiles = a.py:hook\n",
		"non-url base":    "name = x\ntype = hook\nfiles = a.py:hook\nbase_url = ftp.example\n",
	}
	for label, raw := range cases {
		_, err := Parse([]byte(raw))
		assert.ErrorIs(t, err, twerr.ErrMalformedDescriptor, label)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse([]byte("name = x\ntype = plugin\nfiles = a.py:hook\n"))
	require.ErrorIs(t, err, twerr.ErrInvalidAppType)
}

func TestParseSchemaIssueNamesField(t *testing.T) {
	_, err := Parse([]byte("type = hook\nfiles = a.py:hook\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSC_SCHEMA")
	assert.Contains(t, err.Error(), "name")
}

func TestPlanPlacesFilesByRole(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.InstallRoot = root
	paths, err := config.Resolve(cfg, "")
	require.NoError(t, err)

	d, err := Parse([]byte(recurrenceMeta))
	require.NoError(t, err)
	plan, err := d.Plan(paths)
	require.NoError(t, err)
	require.Len(t, plan, 4)

	assert.Equal(t, filepath.Join(paths.Hooks, "on-add_recurrence.py"), plan[0].Path)
	assert.False(t, plan[0].IsSymlink)
	assert.Equal(t, filepath.Join(paths.Hooks, "on-modify_recurrence.py"), plan[1].Path)
	assert.True(t, plan[1].IsSymlink)
	assert.Equal(t, plan[0].Path, plan[1].SymlinkTarget)
	assert.Equal(t, filepath.Join(paths.Config, "recurrence.rc"), plan[2].Path)
	assert.Equal(t, filepath.Join(paths.Docs, "recurrence_README.md"), plan[3].Path)

	dirs, err := d.TargetDirs(paths)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{paths.Hooks, paths.Config, paths.Docs}, dirs)
}

func TestPlanWrapperScriptsGetOwnDirectory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.InstallRoot = t.TempDir()
	paths, err := config.Resolve(cfg, "")
	require.NoError(t, err)

	d, err := Parse([]byte("name = nicedates\nshort_name = nd\ntype = wrapper\nfiles = nd.py:script, nd.rc:config\n"))
	require.NoError(t, err)
	plan, err := d.Plan(paths)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(paths.Scripts, "nd", "nd.py"), plan[0].Path)
	assert.Equal(t, filepath.Join(paths.Config, "nd.rc"), plan[1].Path)
	assert.ElementsMatch(t, []string{filepath.Join(paths.Config, "nd.rc"), filepath.Join(paths.Scripts, "nd", "nd.py")}, PlannedPaths(plan))
}
