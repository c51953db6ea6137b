package app

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"twpm/internal/descriptor"
	"twpm/internal/store"
	"twpm/internal/twerr"
)

// binaryAliases maps requirement names to the executable that provides
// them.
var binaryAliases = map[string]string{
	"taskwarrior": "task",
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

const probeTimeout = 10 * time.Second

type RequirementCheck struct {
	Requirement string `json:"requirement" yaml:"requirement"`
	Kind        string `json:"kind" yaml:"kind"`
	Satisfied   bool   `json:"satisfied" yaml:"satisfied"`
	Detail      string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// checkRequirements decides each requirement against the installed apps
// first and the executable search path second.
func (s *Service) checkRequirements(ctx context.Context, d *descriptor.Descriptor, m *store.Manifest) []RequirementCheck {
	out := make([]RequirementCheck, 0, len(d.Requires))
	for _, req := range d.Requires {
		check := RequirementCheck{Requirement: req.String()}
		if m.Installed(req.Name) {
			check.Kind = "app"
			installed := installedVersion(m, req.Name)
			check.Satisfied = req.Allows(installed)
			if !check.Satisfied {
				check.Detail = "installed version " + installed + " does not satisfy " + req.Constraint
			}
			out = append(out, check)
			continue
		}
		check.Kind = "binary"
		bin := req.Name
		if alias, ok := binaryAliases[bin]; ok {
			bin = alias
		}
		path, err := s.lookPath(bin)
		if err != nil {
			check.Detail = bin + " not found on PATH and no installed app named " + req.Name
			out = append(out, check)
			continue
		}
		check.Detail = path
		if req.Constraint == "" {
			check.Satisfied = true
			out = append(out, check)
			continue
		}
		version, err := s.probe(ctx, path)
		switch {
		case err != nil:
			check.Detail = path + ": cannot determine version: " + err.Error()
		case !req.Allows(version):
			check.Detail = path + " is version " + version
		default:
			check.Satisfied = true
			check.Detail = path + " " + version
		}
		out = append(out, check)
	}
	return out
}

func unmetError(app string, checks []RequirementCheck) error {
	var unmet []string
	for _, c := range checks {
		if !c.Satisfied {
			unmet = append(unmet, c.Requirement+" ("+c.Detail+")")
		}
	}
	if len(unmet) == 0 {
		return nil
	}
	return twerr.New(twerr.ErrRequirementUnmet, "ORC_REQUIREMENT", "%s requires %s", app, strings.Join(unmet, "; "))
}

// probeVersion runs "<bin> --version" and extracts the first dotted
// version number.
func probeVersion(ctx context.Context, bin string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return "", err
	}
	v := versionPattern.FindString(string(out))
	if v == "" {
		return "", twerr.New(twerr.ErrRequirementUnmet, "ORC_VERSION_PROBE", "no version in %q", strings.TrimSpace(string(out)))
	}
	return v, nil
}
