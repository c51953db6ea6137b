package descriptor

import (
	"bufio"
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"twpm/internal/fsutil"
	"twpm/internal/twerr"
)

var (
	requirementPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._+-]*)\s*([<>=!~^].*)?$`)
	digestPattern      = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

func malformed(format string, args ...any) error {
	return twerr.New(twerr.ErrMalformedDescriptor, "DSC_PARSE", format, args...)
}

// Parse turns one registry record into a Descriptor. Every failure is a
// MalformedDescriptor except an unknown app type, which is InvalidAppType.
func Parse(raw []byte) (*Descriptor, error) {
	fields, err := readFields(raw)
	if err != nil {
		return nil, err
	}
	issues, err := validateFields(fields)
	if err != nil {
		return nil, twerr.Wrap(twerr.ErrMalformedDescriptor, "DSC_SCHEMA", err, "schema unavailable")
	}
	if len(issues) > 0 {
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			msgs = append(msgs, issue.String())
		}
		return nil, twerr.New(twerr.ErrMalformedDescriptor, "DSC_SCHEMA", "%s", strings.Join(msgs, "; "))
	}

	d := &Descriptor{
		Name:        fields["name"],
		ShortName:   fields["short_name"],
		Type:        AppType(fields["type"]),
		Description: fields["description"],
		BaseURL:     fields["base_url"],
		Template:    fields["template"],
	}
	if d.ShortName == "" {
		d.ShortName = d.Name
	}
	if !d.Type.Valid() {
		return nil, twerr.New(twerr.ErrInvalidAppType, "DSC_TYPE", "unrecognized app type %q for %s", d.Type, d.Name)
	}
	if raw, ok := fields["version"]; ok {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, malformed("invalid version %q: %v", raw, err)
		}
		d.Version = v.Original()
	}
	if d.Files, err = parseFiles(fields["files"]); err != nil {
		return nil, err
	}
	if err := applyChecksums(d.Files, fields["checksums"]); err != nil {
		return nil, err
	}
	if d.Symlinks, err = parseSymlinks(d.Files, fields["symlinks"]); err != nil {
		return nil, err
	}
	if d.Requires, err = parseRequirements(fields["requires"]); err != nil {
		return nil, err
	}
	return d, nil
}

func readFields(raw []byte) (map[string]string, error) {
	fields := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, malformed("line %d: expected key = value", lineNo)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, malformed("line %d: empty key", lineNo)
		}
		if _, dup := fields[key]; dup {
			return nil, malformed("line %d: duplicate key %q", lineNo, key)
		}
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, malformed("read: %v", err)
	}
	return fields, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		out = append(out, strings.TrimSpace(item))
	}
	return out
}

func parseFiles(v string) ([]FileSpec, error) {
	var files []FileSpec
	seen := map[string]bool{}
	for _, item := range splitList(v) {
		if item == "" {
			continue
		}
		name, tag, ok := strings.Cut(item, ":")
		name, tag = strings.TrimSpace(name), strings.TrimSpace(tag)
		if !ok || name == "" || tag == "" {
			return nil, malformed("file entry %q must be name:role", item)
		}
		if name != filepath.Base(name) || name == "." || name == ".." {
			return nil, malformed("file name %q must not contain a path", name)
		}
		spec := FileSpec{Name: name}
		if strings.HasSuffix(tag, "?") {
			spec.Optional = true
			tag = strings.TrimSuffix(tag, "?")
		}
		spec.Role = Role(tag)
		if !spec.Role.Valid() {
			return nil, malformed("unrecognized role tag %q for %s", tag, name)
		}
		if seen[name] {
			return nil, malformed("duplicate file name %q", name)
		}
		seen[name] = true
		files = append(files, spec)
	}
	if len(files) == 0 {
		return nil, malformed("at least one file entry is required")
	}
	return files, nil
}

// applyChecksums assigns positional checksums to files. Blank positions
// leave the file without a declared checksum.
func applyChecksums(files []FileSpec, v string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	sums := splitList(v)
	if len(sums) > len(files) {
		return malformed("%d checksums declared for %d files", len(sums), len(files))
	}
	for i, sum := range sums {
		if sum == "" {
			continue
		}
		normalized := fsutil.NormalizeChecksum(sum)
		if !digestPattern.MatchString(normalized) {
			return malformed("invalid checksum %q for %s", sum, files[i].Name)
		}
		files[i].Checksum = normalized
	}
	return nil
}

func parseSymlinks(files []FileSpec, v string) ([]Symlink, error) {
	roles := make(map[string]Role, len(files))
	for _, f := range files {
		roles[f.Name] = f.Role
	}
	var links []Symlink
	seen := map[string]bool{}
	for _, item := range splitList(v) {
		if item == "" {
			continue
		}
		link, target, ok := strings.Cut(item, ":")
		link, target = strings.TrimSpace(link), strings.TrimSpace(target)
		if !ok || link == "" || target == "" {
			return nil, malformed("symlink entry %q must be link:target", item)
		}
		linkRole, linkDeclared := roles[link]
		targetRole, targetDeclared := roles[target]
		if !linkDeclared || !targetDeclared {
			return nil, malformed("symlink %s -> %s must reference declared files", link, target)
		}
		if link == target {
			return nil, malformed("symlink %s points at itself", link)
		}
		if linkRole != targetRole {
			return nil, malformed("symlink %s and target %s must share a role", link, target)
		}
		if seen[link] {
			return nil, malformed("duplicate symlink %q", link)
		}
		seen[link] = true
		links = append(links, Symlink{Link: link, Target: target})
	}
	for _, l := range links {
		if seen[l.Target] {
			return nil, malformed("symlink %s targets another symlink %s", l.Link, l.Target)
		}
	}
	return links, nil
}

func parseRequirements(v string) ([]Requirement, error) {
	var reqs []Requirement
	for _, item := range splitList(v) {
		if item == "" {
			continue
		}
		m := requirementPattern.FindStringSubmatch(item)
		if m == nil {
			return nil, malformed("invalid requirement %q", item)
		}
		req := Requirement{Name: m[1], Constraint: strings.TrimSpace(m[2])}
		if req.Constraint != "" {
			c, err := semver.NewConstraint(req.Constraint)
			if err != nil {
				return nil, malformed("invalid constraint in requirement %q: %v", item, err)
			}
			req.constraints = c
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
