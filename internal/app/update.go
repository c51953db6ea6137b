package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	modsemver "golang.org/x/mod/semver"
)

type UpdateResult struct {
	App       string `json:"app" yaml:"app"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Direction string `json:"direction" yaml:"direction"`
	NoOp      bool   `json:"no_op,omitempty" yaml:"no_op,omitempty"`
	// Uninstalled is set when the old version was removed but the new one
	// failed to install. The app is then absent.
	Uninstalled bool           `json:"uninstalled,omitempty" yaml:"uninstalled,omitempty"`
	Remove      *RemoveResult  `json:"remove,omitempty" yaml:"remove,omitempty"`
	Install     *InstallResult `json:"install,omitempty" yaml:"install,omitempty"`
	States      []State        `json:"states" yaml:"states"`
}

// Update replaces an installed app with the registry's current version.
// The lock is held from resolution through the install so no other
// command observes the app half-replaced.
func (s *Service) Update(ctx context.Context, name string) (*UpdateResult, error) {
	res := &UpdateResult{App: name}
	m := s.machine("update", name, true)
	err := s.runUpdate(ctx, m, name, res)
	res.States = m.States()
	return res, err
}

func (s *Service) runUpdate(ctx context.Context, m *machine, name string, res *UpdateResult) error {
	m.to(StateResolving)
	release, err := s.acquire(ctx)
	if err != nil {
		return m.fail(err)
	}
	defer release()
	man, err := s.loadForMutation()
	if err != nil {
		return m.fail(err)
	}
	if !man.Installed(name) {
		return m.fail(notInstalled(name))
	}
	d, err := s.Registry.Lookup(name)
	if err != nil {
		return m.fail(err)
	}
	res.From = installedVersion(man, name)
	res.To = d.Version
	res.Direction = direction(res.From, res.To)

	current := true
	for _, v := range man.Versions(name) {
		if !sameVersion(v, d.Version) {
			current = false
			break
		}
	}
	if current {
		res.NoOp = true
		s.Debug.Info("already current", "app", name, "version", d.Version)
		m.to(StateDone)
		return nil
	}

	// Everything that can be checked without touching disk is checked
	// before the old version goes away.
	res.Install = &InstallResult{App: name, Version: d.Version}
	pf, err := s.preflight(ctx, d, man, res.Install)
	if err != nil {
		return m.fail(err)
	}

	m.to(StateRemoving)
	m.phase(string(StateRemoving), map[string]string{"from": res.From, "to": res.To})
	res.Remove = &RemoveResult{App: name, Version: res.From}
	if err := s.uninstall(ctx, name, res.From, man, res.Remove); err != nil {
		return m.fail(err)
	}
	if res.Remove.Partial {
		return m.fail(fmt.Errorf("ORC_UPDATE_PARTIAL: %d files of %s %s could not be removed; the new version was not installed", len(res.Remove.Failed), name, res.From))
	}

	if err := s.execute(ctx, m, d, man, pf, false, res.Install); err != nil {
		res.Uninstalled = true
		return fmt.Errorf("ORC_NOW_UNINSTALLED: %s %s was removed but %s failed to install, run \"tw install %s\" to retry: %w", name, res.From, d.Version, name, err)
	}
	return nil
}

// sameVersion compares semantically when both sides parse and falls back
// to exact string equality.
func sameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb)
}

// direction classifies a version change as upgrade, downgrade, same or,
// when either side is not semver, changed.
func direction(from, to string) string {
	f, t := canonical(from), canonical(to)
	if f == "" || t == "" {
		if from == to {
			return "same"
		}
		return "changed"
	}
	switch modsemver.Compare(f, t) {
	case -1:
		return "upgrade"
	case 1:
		return "downgrade"
	default:
		return "same"
	}
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !modsemver.IsValid(v) {
		return ""
	}
	return v
}
