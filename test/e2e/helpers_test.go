package e2e

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"twpm/internal/config"
	"twpm/internal/store"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("resolve repo root failed: %v", err)
	}
	return root
}

// buildCLI builds tw into home/bin and returns it with an environment whose
// install root is home/.task.
func buildCLI(t *testing.T, home string) (string, []string) {
	t.Helper()
	root := repoRoot(t)
	goModCache := filepath.Join(os.TempDir(), "tw-gomodcache")
	goCache := filepath.Join(os.TempDir(), "tw-gocache")
	if err := os.MkdirAll(goModCache, 0o755); err != nil {
		t.Fatalf("create mod cache failed: %v", err)
	}
	if err := os.MkdirAll(goCache, 0o755); err != nil {
		t.Fatalf("create go cache failed: %v", err)
	}

	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		switch name {
		case "HOOKS_DIR", "SCRIPTS_DIR", "CONFIG_DIR", "DOCS_DIR", "LOGS_DIR", "LIB_DIR",
			"TW_REGISTRY_DIR", "TW_INSTALLERS_DIR", "TW_DEBUG", "TW_DEBUG_LEVEL", "TW_DEBUG_LOG":
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"HOME="+home,
		"INSTALL_DIR="+filepath.Join(home, ".task"),
		"TASKRC="+filepath.Join(home, ".taskrc"),
		"GOMODCACHE="+goModCache,
		"GOCACHE="+goCache,
	)
	bin := filepath.Join(home, "bin", "tw")
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatalf("create bin dir failed: %v", err)
	}
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/tw")
	cmd.Dir = root
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build cli failed: %v\n%s", err, string(out))
	}
	return bin, env
}

// runTW runs tw in dir and returns its combined output and exit code.
func runTW(t *testing.T, bin string, env []string, dir string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Env = env
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode()
	}
	t.Fatalf("run %v failed: %v", args, err)
	return "", -1
}

func runCLI(t *testing.T, bin string, env []string, args ...string) string {
	t.Helper()
	out, code := runTW(t, bin, env, "", args...)
	if code != 0 {
		t.Fatalf("command failed with exit %d\nargs=%v\noutput=%s", code, args, out)
	}
	return out
}

func runCLIExpectExit(t *testing.T, bin string, env []string, want int, args ...string) string {
	t.Helper()
	out, code := runTW(t, bin, env, "", args...)
	if code != want {
		t.Fatalf("expected exit %d, got %d\nargs=%v\noutput=%s", want, code, args, out)
	}
	return out
}

func assertContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, out)
	}
}

// writeApp adds a registry record and installer under dir.
func writeApp(t *testing.T, dir, name, meta, installBody string) {
	t.Helper()
	for _, sub := range []string{config.RegistryDirName, config.InstallersDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, config.RegistryDirName, name+".meta"), []byte(meta), 0o644); err != nil {
		t.Fatalf("write meta failed: %v", err)
	}
	script := "#!/bin/sh\ncase \"$1\" in\ninstall)\n" + installBody + "\n  ;;\nesac\n"
	if err := os.WriteFile(filepath.Join(dir, config.InstallersDir, name+".install"), []byte(script), 0o755); err != nil {
		t.Fatalf("write installer failed: %v", err)
	}
}

func loadManifest(t *testing.T, installRoot string) *store.Manifest {
	t.Helper()
	m, err := store.New(filepath.Join(installRoot, config.ManifestFileName), nil).Load()
	if err != nil {
		t.Fatalf("load manifest failed: %v", err)
	}
	return m
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s failed: %v", path, err)
	}
	return blob
}
